package notify

import (
	"context"
	"sync"

	"evalert/internal/model"
)

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (r *Recorder) Notify(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of the recorded notifications in arrival order.
func (r *Recorder) Sent() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// ForOwner filters Sent by owner.
func (r *Recorder) ForOwner(owner string) []model.Notification {
	var out []model.Notification
	for _, n := range r.Sent() {
		if n.Owner == owner {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
