package notify

import (
	"context"
	"errors"
	"sync"

	appLog "evalert/internal/log"
	"evalert/internal/model"
)

var (
	ErrQueueFull   = errors.New("notify: queue full, notification dropped")
	ErrQueueClosed = errors.New("notify: queue closed")
)

const defaultQueueSize = 256

// Queue hands notifications to a single worker goroutine so Notify never
// blocks on the underlying sink. When the buffer is full the notification is
// dropped and ErrQueueFull is returned.
type Queue struct {
	next   Notifier
	ch     chan model.Notification
	done   chan struct{}
	onDrop func(model.Notification)

	mu     sync.RWMutex
	closed bool
}

type QueueOption func(*Queue)

// WithDropHook is called for every notification the queue had to drop.
func WithDropHook(fn func(model.Notification)) QueueOption {
	return func(q *Queue) {
		q.onDrop = fn
	}
}

// NewQueue starts the worker. size <= 0 uses a default buffer.
func NewQueue(next Notifier, size int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &Queue{
		next: next,
		ch:   make(chan model.Notification, size),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

func (q *Queue) Notify(_ context.Context, n model.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- n:
		return nil
	default:
		appLog.Warn("notification dropped", "owner", n.Owner, "kind", string(n.Kind))
		if q.onDrop != nil {
			q.onDrop(n)
		}
		return ErrQueueFull
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for n := range q.ch {
		if err := q.next.Notify(context.Background(), n); err != nil {
			appLog.Error("notification delivery failed", err, "owner", n.Owner, "kind", string(n.Kind))
		}
	}
}

// Close stops accepting notifications and waits until the buffer is drained
// or ctx is done. Calling Close twice is safe.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
