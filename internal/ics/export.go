package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"evalert/internal/model"
)

const productID = "-//evalert//event alerts//EN"

// Export renders events as a PUBLISH calendar. Each event is written under its
// ExternalID, falling back to ID, so re-importing the export is a no-op.
func Export(events []model.Event, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		uid := ev.ExternalID
		if uid == "" {
			uid = ev.ID
		}
		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.Interval.Start)
		ve.SetEndAt(ev.Interval.End)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
	}
	return cal.Serialize()
}
