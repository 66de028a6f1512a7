package store

import (
	"errors"
	"sync"

	"evalert/internal/model"
)

var ErrEmptyOwner = errors.New("store: event has no owner")

// Memory is the process-lifetime event store. Appends take the write lock;
// queries take the read lock and hand out copies, so a caller never sees a
// slice that a later append can modify.
type Memory struct {
	mu     sync.RWMutex
	events []model.Event
	// byOwner holds indexes into events, in insertion order.
	byOwner map[string][]int
	// external remembers owner+ExternalID pairs already stored.
	external map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		byOwner:  make(map[string][]int),
		external: make(map[string]struct{}),
	}
}

// Append stores ev. Validation of title and time fields is the caller's job;
// the store only refuses events without an owner.
func (m *Memory) Append(ev model.Event) error {
	if ev.Owner == "" {
		return ErrEmptyOwner
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(ev)
	return nil
}

// AppendUnique stores ev unless an event with the same owner and ExternalID is
// already present. Events without an ExternalID are always stored. The
// returned bool reports whether ev was added.
func (m *Memory) AppendUnique(ev model.Event) (bool, error) {
	if ev.Owner == "" {
		return false, ErrEmptyOwner
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ExternalID != "" {
		if _, seen := m.external[externalKey(ev)]; seen {
			return false, nil
		}
	}
	m.appendLocked(ev)
	return true, nil
}

func (m *Memory) appendLocked(ev model.Event) {
	m.byOwner[ev.Owner] = append(m.byOwner[ev.Owner], len(m.events))
	m.events = append(m.events, ev)
	if ev.ExternalID != "" {
		m.external[externalKey(ev)] = struct{}{}
	}
}

// ListByOwner returns a snapshot of owner's events in insertion order.
func (m *Memory) ListByOwner(owner string) []model.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.byOwner[owner]
	out := make([]model.Event, len(idx))
	for i, j := range idx {
		out[i] = m.events[j]
	}
	return out
}

// Owners returns every owner with at least one event, in order of first
// appearance.
func (m *Memory) Owners() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{}, len(m.byOwner))
	out := make([]string, 0, len(m.byOwner))
	for _, ev := range m.events {
		if _, ok := seen[ev.Owner]; ok {
			continue
		}
		seen[ev.Owner] = struct{}{}
		out = append(out, ev.Owner)
	}
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func externalKey(ev model.Event) string {
	return ev.Owner + "\x00" + ev.ExternalID
}
