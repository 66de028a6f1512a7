package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"evalert/internal/clock"
	"evalert/internal/conflict"
	"evalert/internal/ics"
	appLog "evalert/internal/log"
	"evalert/internal/metrics"
	"evalert/internal/model"
	"evalert/internal/notify"
	"evalert/internal/upcoming"
)

// Event sources recorded on stored events.
const (
	SourceAPI   = "api"
	SourceBatch = "batch"
	sourceICS   = "ics:"
)

// EventStore is what the service needs from storage.
type EventStore interface {
	Append(ev model.Event) error
	AppendUnique(ev model.Event) (bool, error)
	ListByOwner(owner string) []model.Event
	Owners() []string
	Len() int
}

// Service implements submission, listing, upcoming selection and conflict
// detection for owners, and forwards results to a Notifier.
type Service struct {
	store    EventStore
	clock    clock.Clock
	detector *conflict.Detector
	selector *upcoming.Selector

	notifier      notify.Notifier
	sweepNotifier notify.Notifier

	loc             *time.Location
	defaultDuration time.Duration
	metrics         *metrics.Metrics
}

type Option func(*Service)

func WithDetector(d *conflict.Detector) Option {
	return func(s *Service) {
		if d != nil {
			s.detector = d
		}
	}
}

func WithSelector(sel *upcoming.Selector) Option {
	return func(s *Service) {
		if sel != nil {
			s.selector = sel
		}
	}
}

// WithNotifier sets the sink for on-demand checks.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithSweepNotifier sets the sink used by Sweep. It defaults to the regular
// notifier; production wiring puts a notify.Dedupe in front of it so repeated
// sweeps don't resend the same reminder.
func WithSweepNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.sweepNotifier = n
	}
}

// WithLocation sets the zone for naive timestamps and message formatting.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithDefaultDuration sets the length of date + time events.
func WithDefaultDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.defaultDuration = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store EventStore, clk clock.Clock, opts ...Option) *Service {
	if clk == nil {
		clk = clock.NewSystem(nil)
	}
	s := &Service{
		store:           store,
		clock:           clk,
		detector:        conflict.NewDetector(nil),
		selector:        upcoming.NewSelector(),
		notifier:        notify.Log{},
		loc:             time.UTC,
		defaultDuration: model.DefaultDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sweepNotifier == nil {
		s.sweepNotifier = s.notifier
	}
	return s
}

// Now is the service clock's current instant.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// SubmitEvent validates rec, normalizes its time extent and stores it. On
// error nothing is stored.
func (s *Service) SubmitEvent(ctx context.Context, rec model.Record) (model.Event, error) {
	ev, err := s.buildEvent(rec, SourceAPI)
	if err != nil {
		s.metrics.ObserveSubmission(Code(err))
		appLog.Debug("event rejected", "owner", model.OwnerOf(rec), "code", Code(err), "reason", err.Error())
		return model.Event{}, err
	}
	if err := s.store.Append(ev); err != nil {
		s.metrics.ObserveSubmission("store_error")
		return model.Event{}, fmt.Errorf("store event: %w", err)
	}
	s.metrics.ObserveSubmission("ok")
	s.metrics.SetStoredEvents(s.store.Len())
	appLog.Info("event stored",
		"id", ev.ID,
		"owner", ev.Owner,
		"kind", ev.Temporal.Kind.String(),
		"start", ev.Interval.Start.Format(time.RFC3339),
		"end", ev.Interval.End.Format(time.RFC3339),
	)
	return ev, nil
}

// ListEvents returns owner's events in submission order.
func (s *Service) ListEvents(_ context.Context, owner string) ([]model.Event, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, model.ErrMissingOwner
	}
	return s.store.ListByOwner(owner), nil
}

// FindUpcoming returns owner's events starting within the lookahead window
// from now and sends one reminder per event.
func (s *Service) FindUpcoming(ctx context.Context, owner string, now time.Time) ([]model.Event, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, model.ErrMissingOwner
	}
	found := s.upcomingFor(owner, now)
	s.sendReminders(ctx, s.notifier, owner, found)
	return found, nil
}

// FindConflicts returns every overlapping pair among owner's events and sends
// one conflict notification per pair.
func (s *Service) FindConflicts(ctx context.Context, owner string) ([]model.ConflictPair, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, model.ErrMissingOwner
	}
	pairs := s.conflictsFor(owner)
	s.sendConflicts(ctx, s.notifier, owner, pairs)
	return pairs, nil
}

func (s *Service) upcomingFor(owner string, now time.Time) []model.Event {
	started := time.Now()
	found := s.selector.Select(s.store.ListByOwner(owner), now)
	s.metrics.ObserveCheck("upcoming", time.Since(started).Seconds())
	s.metrics.AddUpcoming(len(found))
	return found
}

func (s *Service) conflictsFor(owner string) []model.ConflictPair {
	started := time.Now()
	pairs := s.detector.Detect(s.store.ListByOwner(owner))
	s.metrics.ObserveCheck("conflicts", time.Since(started).Seconds())
	s.metrics.AddConflicts(len(pairs))
	return pairs
}

func (s *Service) sendReminders(ctx context.Context, n notify.Notifier, owner string, events []model.Event) {
	for _, ev := range events {
		s.send(ctx, n, model.Notification{
			Owner:    owner,
			Kind:     model.NotificationReminder,
			Message:  ReminderMessage(ev, s.loc),
			EventIDs: []string{ev.ID},
		})
	}
}

func (s *Service) sendConflicts(ctx context.Context, n notify.Notifier, owner string, pairs []model.ConflictPair) {
	for _, p := range pairs {
		s.send(ctx, n, model.Notification{
			Owner:    owner,
			Kind:     model.NotificationConflict,
			Message:  ConflictMessage(p, s.loc),
			EventIDs: []string{p.First.ID, p.Second.ID},
		})
	}
}

func (s *Service) send(ctx context.Context, n notify.Notifier, msg model.Notification) {
	err := n.Notify(ctx, msg)
	s.metrics.ObserveNotification(string(msg.Kind), err)
	if err != nil {
		appLog.Error("notify failed", err, "owner", msg.Owner, "kind", string(msg.Kind))
	}
}

// ReminderMessage formats the reminder text for ev.
func ReminderMessage(ev model.Event, loc *time.Location) string {
	date, at := ev.When(loc)
	return fmt.Sprintf("Reminder: You have an upcoming event - %s on %s at %s.", ev.Title, date, at)
}

// ConflictMessage formats the conflict text for p.
func ConflictMessage(p model.ConflictPair, loc *time.Location) string {
	d1, t1 := p.First.When(loc)
	d2, t2 := p.Second.When(loc)
	return fmt.Sprintf("Conflict detected: %s on %s at %s overlaps with %s on %s at %s.",
		p.First.Title, d1, t1, p.Second.Title, d2, t2)
}

func (s *Service) buildEvent(rec model.Record, source string) (model.Event, error) {
	sub, err := model.ParseSubmission(rec)
	if err != nil {
		return model.Event{}, err
	}
	iv, err := sub.Temporal.Interval(s.loc, s.defaultDuration)
	if err != nil {
		return model.Event{}, err
	}
	id := model.NewEventID()
	return model.Event{
		ID:         id,
		Owner:      sub.Owner,
		Title:      sub.Title,
		Temporal:   sub.Temporal,
		Interval:   iv,
		Source:     source,
		ExternalID: id,
		CreatedAt:  s.clock.Now(),
	}, nil
}

// Code maps validation errors to stable identifiers for API responses and
// metrics. Unknown errors map to "internal_error".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrMissingOwner):
		return "missing_owner"
	case errors.Is(err, model.ErrMissingRequiredField):
		return "missing_required_field"
	case errors.Is(err, model.ErrMalformedTemporalData):
		return "malformed_temporal_data"
	case errors.Is(err, model.ErrInvalidInterval):
		return "invalid_interval"
	case errors.Is(err, ics.ErrRecurringEvent):
		return "recurring_event"
	case errors.Is(err, ics.ErrMissingUID), errors.Is(err, ics.ErrMissingStart), errors.Is(err, ics.ErrEmptyBody), errors.Is(err, ics.ErrInvalidFeed):
		return "invalid_calendar"
	default:
		return "internal_error"
	}
}

// IsValidation reports whether err is a caller mistake rather than a fault.
func IsValidation(err error) bool {
	c := Code(err)
	return c != "" && c != "internal_error"
}
