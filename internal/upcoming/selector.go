// Package upcoming picks events that start soon.
package upcoming

import (
	"sort"
	"time"

	"evalert/internal/model"
)

// DefaultWindow is how far ahead an event counts as upcoming.
const DefaultWindow = 24 * time.Hour

// Selector keeps events whose start lies in [now, now+Window]. End times are
// ignored, so an event already in progress is not upcoming.
type Selector struct {
	window      time.Duration
	sortByStart bool
}

type Option func(*Selector)

// WithWindow overrides DefaultWindow. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithSortByStart orders the result by start time instead of input order.
func WithSortByStart(on bool) Option {
	return func(s *Selector) {
		s.sortByStart = on
	}
}

func NewSelector(opts ...Option) *Selector {
	s := &Selector{window: DefaultWindow}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Selector) Window() time.Duration {
	return s.window
}

func (s *Selector) Select(events []model.Event, now time.Time) []model.Event {
	limit := now.Add(s.window)
	out := make([]model.Event, 0)
	for _, ev := range events {
		if ev.Interval.StartsWithin(now, limit) {
			out = append(out, ev)
		}
	}
	if s.sortByStart {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Interval.Start.Before(out[j].Interval.Start)
		})
	}
	return out
}
