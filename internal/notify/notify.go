// Package notify delivers the "time's up" notification when a wake fires.
//
// Notifiers are fire-and-forget: Fire logs a failure and returns, so a
// notification that cannot be shown never turns into a scheduling error.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Alarm describes the wake that triggered a notification.
type Alarm struct {
	Key     string    // record key the timer was stored under
	EndTime int64     // epoch seconds the timer was due at
	FiredAt time.Time // when the wake actually fired
}

// Notifier shows or sends one notification.
type Notifier interface {
	Notify(ctx context.Context, a Alarm) error
}

// Func adapts an ordinary function to Notifier.
type Func func(ctx context.Context, a Alarm) error

// Notify calls f(ctx, a).
func (f Func) Notify(ctx context.Context, a Alarm) error { return f(ctx, a) }

// Multi notifies every member in order and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alarm) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fire runs n and logs any error instead of returning it.
func Fire(ctx context.Context, n Notifier, a Alarm) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, a); err != nil {
		slog.Warn("notification failed", "key", a.Key, "end_time", a.EndTime, "err", err)
	}
}
