// Package notify delivers reminder and conflict messages to owners.
//
// The service only knows the Notifier interface. Log is the default sink,
// Queue makes any sink fire-and-forget, Dedupe suppresses repeats across
// scheduled sweeps and Recorder keeps messages in memory.
package notify

import (
	"context"

	"evalert/internal/model"
)

// Notifier hands a message to its owner. Delivery is best effort; callers
// log errors and move on.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, n model.Notification) error

func (f Func) Notify(ctx context.Context, n model.Notification) error {
	return f(ctx, n)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, model.Notification) error { return nil }
