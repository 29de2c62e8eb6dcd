/*
scheduler.go - Reminder and inventory audit scheduler

PURPOSE:
  Periodically reminds borrowers about loans that are due soon or overdue,
  then audits inventory availability against outstanding requests.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on Start
  - Only reads lifecycle state: reminders never charge fines and the audit
    only reports drift (to the warning sink). Repair is POST /api/admin/reconcile.

CONFIGURATION:
  - CheckInterval: How often to run (default: 24 hours)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewReminderScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - lending/loans.go: SendReminders, AuditInventory
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/borrow-ledger/lending"
)

// ReminderScheduler runs the reminder pass and the inventory audit.
type ReminderScheduler struct {
	Service       *lending.Service
	Log           *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   RunReport
}

// RunReport summarizes one pass.
type RunReport struct {
	At        time.Time
	Reminders int
	Drifts    int
	Err       error
}

func NewReminderScheduler(svc *lending.Service, log *zap.Logger) *ReminderScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReminderScheduler{
		Service:       svc,
		Log:           log,
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Log.Info("reminder scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run(rs.ticker)

	rs.Log.Info("reminder scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	ticker := rs.ticker
	rs.ticker = nil
	rs.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Log.Info("reminder scheduler stopped")
	}
}

func (rs *ReminderScheduler) run(ticker *time.Ticker) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	rs.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-rs.stop:
			return
		}
	}
}

// RunNow runs one pass synchronously (for testing/admin).
func (rs *ReminderScheduler) RunNow(ctx context.Context) RunReport {
	report := RunReport{At: time.Now()}

	sent, err := rs.Service.SendReminders(ctx)
	if err != nil {
		rs.Log.Error("reminder pass failed", zap.Error(err))
		report.Err = err
	}
	report.Reminders = sent

	drifts, err := rs.Service.AuditInventory(ctx)
	if err != nil {
		rs.Log.Error("inventory audit failed", zap.Error(err))
		if report.Err == nil {
			report.Err = err
		}
	}
	report.Drifts = len(drifts)

	if report.Reminders > 0 || report.Drifts > 0 {
		rs.Log.Info("scheduled pass completed",
			zap.Int("reminders", report.Reminders),
			zap.Int("drifted_items", report.Drifts))
	}

	rs.mu.Lock()
	rs.last = report
	rs.mu.Unlock()
	return report
}

// LastRun returns the most recent pass.
func (rs *ReminderScheduler) LastRun() RunReport {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.last
}

// NextRunTime returns when the next scheduled pass will occur.
func (rs *ReminderScheduler) NextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.last.At.IsZero() {
		return time.Now()
	}
	return rs.last.At.Add(rs.CheckInterval)
}
