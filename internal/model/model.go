package model

import (
	"time"

	"github.com/google/uuid"
)

// Record is an event submission as decoded from JSON, before validation.
type Record map[string]any

// Event is a validated, normalized event owned by a single user.
type Event struct {
	ID    string
	Owner string
	Title string

	// Temporal keeps the submitted representation so messages and API
	// responses can echo it back. Interval is derived from it once, at
	// submission.
	Temporal Temporal
	Interval Interval

	// Source names where the event came from ("api", "batch", "ics:<id>").
	Source string
	// ExternalID is the UID the event is exported under and matched on when
	// a calendar is imported again. Feed events keep the upstream UID; events
	// created here use their own ID.
	ExternalID string

	// Description and Location come from calendar feeds and are exported
	// back out.
	Description string
	Location    string

	CreatedAt time.Time
}

// NewEventID returns a random identifier for a new event.
func NewEventID() string {
	return uuid.NewString()
}

// ConflictPair is two overlapping events of one owner, in the order they were
// encountered in the owner's event sequence.
type ConflictPair struct {
	First  Event
	Second Event
}

type NotificationKind string

const (
	NotificationReminder NotificationKind = "reminder"
	NotificationConflict NotificationKind = "conflict"
)

// Notification is a formatted message addressed to an owner. It is not stored.
type Notification struct {
	Owner    string
	Kind     NotificationKind
	Message  string
	EventIDs []string
}
