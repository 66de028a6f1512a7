package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "evalert/internal/log"
	"evalert/internal/model"
)

var (
	ErrEmptyBody      = errors.New("empty ICS body")
	ErrInvalidFeed    = errors.New("invalid calendar")
	ErrMissingUID     = errors.New("VEVENT has no UID")
	ErrMissingStart   = errors.New("VEVENT has no usable DTSTART")
	ErrRecurringEvent = errors.New("recurring events are not supported")
)

// ParsedEvent is a single, non-recurring VEVENT ready to become a model.Event.
type ParsedEvent struct {
	Source Source
	Index  int // position among the calendar's VEVENTs

	UID         string
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time // zero when the VEVENT has neither DTEND nor an all-day DTSTART
	AllDay bool
}

// ParseResult holds the usable events of a feed plus the VEVENTs that were
// skipped, indexed by their position in the calendar.
type ParseResult struct {
	Events  []ParsedEvent
	Skipped model.RecordErrors
}

// ParseICS reads a calendar body. Floating and all-day times are read in loc
// (UTC when nil). Broken, recurring and override VEVENTs are skipped and
// reported; only an unreadable calendar is an error.
func ParseICS(src Source, body []byte, loc *time.Location) (ParseResult, error) {
	var res ParseResult
	if len(bytes.TrimSpace(body)) == 0 {
		return res, ErrEmptyBody
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID)
		return res, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}

	for i, ve := range cal.Events() {
		ev, perr := parseVEvent(src, ve, loc)
		if perr != nil {
			res.Skipped = append(res.Skipped, model.RecordError{Index: i, Err: perr})
			continue
		}
		ev.Index = i
		res.Events = append(res.Events, ev)
	}

	appLog.Info("ics parse completed",
		"id", src.ID,
		"event_count", len(res.Events),
		"skipped", len(res.Skipped),
	)
	return res, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, ErrMissingUID
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	if ve.GetProperty(ical.ComponentPropertyRrule) != nil || ve.GetProperty(ical.ComponentPropertyRecurrenceId) != nil {
		return out, fmt.Errorf("%w: uid %s", ErrRecurringEvent, out.UID)
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, ErrMissingStart
	}
	out.AllDay = isDateValue(dtStart)

	if out.AllDay {
		start, err := parseICSTime(dtStart.Value, loc)
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrMissingStart, err)
		}
		out.Start = start
		out.End = start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := parseICSTime(dtEnd.Value, loc); err == nil {
				out.End = end
			}
		}
		return out, nil
	}

	start, err := timeProp(dtStart, ve.GetStartAt, loc)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrMissingStart, err)
	}
	out.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, err := timeProp(dtEnd, ve.GetEndAt, loc); err == nil {
			out.End = end
		}
	}
	return out, nil
}

// timeProp lets the library resolve UTC and TZID values. Floating values are
// read in loc instead of the process zone.
func timeProp(p *ical.IANAProperty, get func() (time.Time, error), loc *time.Location) (time.Time, error) {
	_, hasTZID := p.ICalParameters["TZID"]
	if hasTZID || strings.HasSuffix(strings.TrimSpace(p.Value), "Z") {
		return get()
	}
	return parseICSTime(p.Value, loc)
}

// isDateValue detects all-day DTSTART: VALUE=DATE or a value without a time.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime handles the basic UTC, floating and date-only forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
