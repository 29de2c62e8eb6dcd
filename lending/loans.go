package lending

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// LOAN HISTORY
// =============================================================================

// HistoryView selects which loan records ListHistory returns.
type HistoryView string

const (
	ViewAll      HistoryView = "all"
	ViewReturned HistoryView = "returned"
	ViewActive   HistoryView = "active"
)

// ParseHistoryView maps a query value to a view; empty means all.
func ParseHistoryView(s string) (HistoryView, error) {
	switch HistoryView(s) {
	case "", ViewAll:
		return ViewAll, nil
	case ViewReturned:
		return ViewReturned, nil
	case ViewActive, "pending":
		return ViewActive, nil
	}
	return "", invalid(CodeInvalidFilter, "filter", "unknown history filter %q", s)
}

// ListHistory lists loan records. Students only see their own.
//
// History is append-only, so a returned loan still has its opening row with
// no return date. The active view drops opening rows whose request already
// has a closing row.
func (s *Service) ListHistory(ctx context.Context, caller Identity, view HistoryView, limit int) ([]HistoryRecord, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	filter := HistoryFilter{Limit: limit}
	if !caller.Role.IsStaff() {
		filter.StudentID = caller.UserID
	}
	switch view {
	case ViewReturned:
		filter.Status = HistoryReturned
	case ViewActive:
		return s.activeHistory(ctx, filter)
	}
	return s.Store.ListHistory(ctx, filter)
}

func (s *Service) activeHistory(ctx context.Context, filter HistoryFilter) ([]HistoryRecord, error) {
	closed, err := s.Store.ListHistory(ctx, HistoryFilter{StudentID: filter.StudentID, Status: HistoryReturned})
	if err != nil {
		return nil, err
	}
	done := make(map[RequestID]bool, len(closed))
	for _, rec := range closed {
		done[rec.RequestID] = true
	}

	limit := filter.Limit
	filter.Limit = 0
	filter.Status = HistoryBorrowed
	filter.ActiveOnly = true
	open, err := s.Store.ListHistory(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]HistoryRecord, 0, len(open))
	for _, rec := range open {
		if done[rec.RequestID] {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// REMINDERS
// =============================================================================

// SendReminders notifies every borrower whose loan is due within a day, and
// alerts every borrower whose loan is overdue with the fine accrued so far.
// It only reads lifecycle state. It returns how many notices were sent.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	loans, err := s.Store.ListRequests(ctx, RequestFilter{Statuses: []Status{StatusBorrowed}})
	if err != nil {
		return 0, fmt.Errorf("failed to list active loans: %w", err)
	}

	now := s.now()
	sent := 0
	for _, r := range loans {
		if r.ReturnDate == nil {
			continue
		}
		name := s.itemName(ctx, r.ItemID)

		var n Notification
		switch due := *r.ReturnDate; {
		case now.After(due):
			days := DaysLate(r.ReturnDate, now)
			n = overdueNotice(r, name, days, Fine(r.ReturnDate, now, s.FinePerDay))
		case due.Sub(now) <= 24*time.Hour:
			n = dueSoonNotice(r, name)
		default:
			continue
		}
		s.notify(ctx, "remind", n)
		sent++
	}
	return sent, nil
}

// =============================================================================
// INVENTORY AUDIT
// =============================================================================

// AuditInventory reports every item whose availability disagrees with its
// outstanding requests. Each drift is also sent to the warning sink.
func (s *Service) AuditInventory(ctx context.Context) ([]Drift, error) {
	drifts, err := s.Reconciler.Audit(ctx, s.Store)
	if err != nil {
		return nil, err
	}
	s.driftWarnings(ctx, "audit", drifts, "recorded")
	return drifts, nil
}

// ReconcileInventory repairs every drifted item. Staff only.
func (s *Service) ReconcileInventory(ctx context.Context, caller Identity) ([]Drift, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	drifts, err := s.Reconciler.Reconcile(ctx, s.Store)
	if err != nil {
		return nil, err
	}
	s.driftWarnings(ctx, "reconcile", drifts, "repaired")
	return drifts, nil
}

func (s *Service) driftWarnings(ctx context.Context, op string, drifts []Drift, verb string) {
	for _, d := range drifts {
		s.Warnings.Warn(ctx, Warning{
			Op: op, Effect: EffectDrift, ItemID: d.ItemID,
			Detail: fmt.Sprintf("%s: available %d, expected %d of %d (%s)", d.Name, d.Recorded, d.Expected, d.Total, verb),
			At:     s.now(),
		})
	}
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// ListNotifications returns the caller's own notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, caller Identity, unreadOnly bool, limit int) ([]Notification, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	return s.Store.ListNotifications(ctx, NotificationFilter{
		UserID:     caller.UserID,
		UnreadOnly: unreadOnly,
		Limit:      limit,
	})
}

// MarkNotificationRead marks one of the caller's notifications read.
func (s *Service) MarkNotificationRead(ctx context.Context, caller Identity, id NotificationID) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	return s.Store.MarkNotificationRead(ctx, id, caller.UserID)
}
