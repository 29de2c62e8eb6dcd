package lending

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// WARNINGS - Best-effort side effects that did not happen
// =============================================================================
//
// A transition reports success once its primary write commits. History rows,
// notifications and fine-balance updates that fail afterwards land here, so
// operators can see drift between request state and the audit trail.

type Effect string

const (
	EffectHistory      Effect = "history"
	EffectNotification Effect = "notification"
	EffectFineBalance  Effect = "fine_balance"
	EffectClamp        Effect = "inventory_clamp"
	EffectDrift        Effect = "inventory_drift"
)

type Warning struct {
	Op        string // operation that produced the warning
	Effect    Effect
	RequestID RequestID
	ItemID    ItemID
	UserID    UserID
	Detail    string
	Err       error
	At        time.Time
}

// WarningSink receives warnings. Implementations must not block.
type WarningSink interface {
	Warn(ctx context.Context, w Warning)
}

// NopWarnings drops everything.
type NopWarnings struct{}

func (NopWarnings) Warn(context.Context, Warning) {}

// MultiSink fans a warning out to several sinks.
type MultiSink []WarningSink

func (m MultiSink) Warn(ctx context.Context, w Warning) {
	for _, s := range m {
		s.Warn(ctx, w)
	}
}

// ZapWarnings writes warnings as structured log lines.
type ZapWarnings struct {
	Logger *zap.Logger
}

func (z ZapWarnings) Warn(_ context.Context, w Warning) {
	fields := []zap.Field{
		zap.String("op", w.Op),
		zap.String("effect", string(w.Effect)),
		zap.Time("at", w.At),
	}
	if w.RequestID != "" {
		fields = append(fields, zap.String("request_id", string(w.RequestID)))
	}
	if w.ItemID != "" {
		fields = append(fields, zap.String("item_id", string(w.ItemID)))
	}
	if w.UserID != "" {
		fields = append(fields, zap.String("user_id", string(w.UserID)))
	}
	if w.Detail != "" {
		fields = append(fields, zap.String("detail", w.Detail))
	}
	if w.Err != nil {
		fields = append(fields, zap.Error(w.Err))
	}
	z.Logger.Warn("lending side effect not applied", fields...)
}

// WarningLog keeps the most recent warnings in memory.
type WarningLog struct {
	mu      sync.Mutex
	max     int
	entries []Warning
}

func NewWarningLog(max int) *WarningLog {
	if max <= 0 {
		max = 100
	}
	return &WarningLog{max: max}
}

func (l *WarningLog) Warn(_ context.Context, w Warning) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, w)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Recent returns up to n warnings, newest first. n <= 0 returns all.
func (l *WarningLog) Recent(n int) []Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Warning, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

func (l *WarningLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
