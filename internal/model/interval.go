package model

import "time"

// Interval is the half-open range [Start, End) an event occupies.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval returns ErrInvalidInterval unless start is strictly before end.
func NewInterval(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports a non-empty intersection. Touching endpoints do not count:
// not (e1 <= s2 or s1 >= e2) is the same as s1 < e2 and s2 < e1.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// StartsWithin reports whether Start lies in the closed range [from, to].
func (iv Interval) StartsWithin(from, to time.Time) bool {
	return !iv.Start.Before(from) && !iv.Start.After(to)
}
