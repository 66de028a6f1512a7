package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDuration is the length assumed for events given as date + time.
const DefaultDuration = time.Hour

// Record keys understood by ParseSubmission.
const (
	FieldOwnerID   = "owner_id"
	FieldUserID    = "user_id"
	FieldTitle     = "title"
	FieldEventDate = "event_date"
	FieldEventTime = "event_time"
	FieldStartTime = "start_time"
	FieldEndTime   = "end_time"
)

type TemporalKind int

const (
	// KindExplicit carries start_time and end_time instants.
	KindExplicit TemporalKind = iota + 1
	// KindDateTime carries event_date and event_time with an implied duration.
	KindDateTime
)

func (k TemporalKind) String() string {
	switch k {
	case KindExplicit:
		return "explicit"
	case KindDateTime:
		return "date_time"
	default:
		return "unknown"
	}
}

// Temporal is the submitted time extent of an event in one of its two
// accepted shapes. Only the fields of its Kind are set.
type Temporal struct {
	Kind TemporalKind

	StartTime string
	EndTime   string

	Date string
	Time string
}

// ExplicitTemporal builds a KindExplicit extent from two instants.
func ExplicitTemporal(start, end time.Time) Temporal {
	return Temporal{
		Kind:      KindExplicit,
		StartTime: start.Format(time.RFC3339),
		EndTime:   end.Format(time.RFC3339),
	}
}

// Submission is a record that passed the required-field checks.
type Submission struct {
	Owner    string
	Title    string
	Temporal Temporal
}

// ParseSubmission checks owner, title and temporal fields of rec. It does not
// parse instants; see Temporal.Interval.
func ParseSubmission(rec Record) (Submission, error) {
	owner := OwnerOf(rec)
	if owner == "" {
		return Submission{}, ErrMissingOwner
	}
	title, ok := stringField(rec, FieldTitle)
	if !ok {
		return Submission{}, fmt.Errorf("%w: %s", ErrMissingRequiredField, FieldTitle)
	}
	tmp, err := ParseTemporal(rec)
	if err != nil {
		return Submission{}, err
	}
	return Submission{Owner: owner, Title: title, Temporal: tmp}, nil
}

// OwnerOf returns owner_id, falling back to user_id.
func OwnerOf(rec Record) string {
	if v, ok := stringField(rec, FieldOwnerID); ok {
		return v
	}
	if v, ok := stringField(rec, FieldUserID); ok {
		return v
	}
	return ""
}

// ParseTemporal picks the explicit start/end pair when both are present and
// otherwise the date + time pair.
func ParseTemporal(rec Record) (Temporal, error) {
	start, hasStart := stringField(rec, FieldStartTime)
	end, hasEnd := stringField(rec, FieldEndTime)
	if hasStart && hasEnd {
		return Temporal{Kind: KindExplicit, StartTime: start, EndTime: end}, nil
	}

	date, hasDate := stringField(rec, FieldEventDate)
	clock, hasTime := stringField(rec, FieldEventTime)
	if hasDate && hasTime {
		return Temporal{Kind: KindDateTime, Date: date, Time: clock}, nil
	}

	return Temporal{}, fmt.Errorf("%w: %s+%s or %s+%s",
		ErrMissingRequiredField, FieldStartTime, FieldEndTime, FieldEventDate, FieldEventTime)
}

// Interval normalizes the extent. Instants without an offset are read in loc
// (UTC when nil); date + time extents last d, or DefaultDuration when d <= 0.
func (t Temporal) Interval(loc *time.Location, d time.Duration) (Interval, error) {
	if loc == nil {
		loc = time.UTC
	}
	if d <= 0 {
		d = DefaultDuration
	}

	switch t.Kind {
	case KindExplicit:
		start, err := ParseInstant(t.StartTime, loc)
		if err != nil {
			return Interval{}, fmt.Errorf("%w: %s %q", ErrMalformedTemporalData, FieldStartTime, t.StartTime)
		}
		end, err := ParseInstant(t.EndTime, loc)
		if err != nil {
			return Interval{}, fmt.Errorf("%w: %s %q", ErrMalformedTemporalData, FieldEndTime, t.EndTime)
		}
		return NewInterval(start, end)

	case KindDateTime:
		start, err := ParseInstant(t.Date+"T"+t.Time, loc)
		if err != nil {
			return Interval{}, fmt.Errorf("%w: %s %q %s %q",
				ErrMalformedTemporalData, FieldEventDate, t.Date, FieldEventTime, t.Time)
		}
		return NewInterval(start, start.Add(d))

	default:
		return Interval{}, fmt.Errorf("%w: no temporal fields", ErrMissingRequiredField)
	}
}

// When returns the date and clock time shown in notifications. Date + time
// events echo what was submitted; explicit events format their start in loc.
func (e Event) When(loc *time.Location) (string, string) {
	if e.Temporal.Kind == KindDateTime {
		return e.Temporal.Date, e.Temporal.Time
	}
	if loc == nil {
		loc = time.UTC
	}
	start := e.Interval.Start.In(loc)
	return start.Format("2006-01-02"), start.Format("15:04")
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseInstant reads RFC 3339 or a naive timestamp, the latter in loc.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// stringField returns a trimmed, non-empty value for key. JSON numbers are
// accepted so numeric user ids keep working.
func stringField(rec Record, key string) (string, bool) {
	raw, ok := rec[key]
	if !ok || raw == nil {
		return "", false
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	default:
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
