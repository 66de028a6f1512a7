// Package conflict finds overlapping events of a single owner.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"evalert/internal/model"
)

// Index is a reported pair of positions in the input, always I < J.
type Index struct {
	I, J int
}

// Strategy enumerates overlapping pairs. Implementations must return every
// pair exactly once, sorted by (I, J).
type Strategy interface {
	Name() string
	Pairs(ivs []model.Interval) []Index
}

const (
	StrategyPairwise = "pairwise"
	StrategySweep    = "sweep"
)

// StrategyByName maps a config value to a Strategy. Empty means pairwise.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyPairwise:
		return Pairwise{}, nil
	case StrategySweep, "sweep-line", "sweepline":
		return SweepLine{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict strategy %q", name)
	}
}

// Pairwise compares every i < j. Fine for personal calendars.
type Pairwise struct{}

func (Pairwise) Name() string { return StrategyPairwise }

func (Pairwise) Pairs(ivs []model.Interval) []Index {
	var out []Index
	for i := 0; i < len(ivs); i++ {
		for j := i + 1; j < len(ivs); j++ {
			if ivs[i].Overlaps(ivs[j]) {
				out = append(out, Index{I: i, J: j})
			}
		}
	}
	return out
}

// SweepLine visits intervals by start time and only compares each one with
// the intervals still open at that start. Cost is O(n log n + k) for k pairs.
type SweepLine struct{}

func (SweepLine) Name() string { return StrategySweep }

func (SweepLine) Pairs(ivs []model.Interval) []Index {
	order := make([]int, len(ivs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return ivs[order[a]].Start.Before(ivs[order[b]].Start)
	})

	var out []Index
	active := make([]int, 0, len(ivs))
	for _, k := range order {
		start := ivs[k].Start

		// Anything that ended at or before this start can't overlap k or
		// anything after it.
		kept := active[:0]
		for _, a := range active {
			if ivs[a].End.After(start) {
				kept = append(kept, a)
			}
		}
		active = kept

		for _, a := range active {
			if !ivs[a].Overlaps(ivs[k]) {
				continue
			}
			if a < k {
				out = append(out, Index{I: a, J: k})
			} else {
				out = append(out, Index{I: k, J: a})
			}
		}
		active = append(active, k)
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].I != out[b].I {
			return out[a].I < out[b].I
		}
		return out[a].J < out[b].J
	})
	return out
}

// Detector reports conflicts using a replaceable Strategy.
type Detector struct {
	strategy Strategy
}

// NewDetector returns a Detector using s, or Pairwise when s is nil.
func NewDetector(s Strategy) *Detector {
	if s == nil {
		s = Pairwise{}
	}
	return &Detector{strategy: s}
}

func (d *Detector) Strategy() Strategy {
	return d.strategy
}

// Detect returns every overlapping pair of events. Pairs come in (i, j)
// order of the input; a three-way overlap yields three pairs.
func (d *Detector) Detect(events []model.Event) []model.ConflictPair {
	if len(events) < 2 {
		return nil
	}
	ivs := make([]model.Interval, len(events))
	for i, ev := range events {
		ivs[i] = ev.Interval
	}

	idx := d.strategy.Pairs(ivs)
	out := make([]model.ConflictPair, 0, len(idx))
	for _, p := range idx {
		out = append(out, model.ConflictPair{First: events[p.I], Second: events[p.J]})
	}
	return out
}
