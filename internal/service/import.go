package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evalert/internal/ics"
	appLog "evalert/internal/log"
	"evalert/internal/model"
)

const untitled = "(untitled)"

// ImportResult reports a batch or feed import. Rejected entries carry the
// position of the record (or VEVENT) they came from.
type ImportResult struct {
	Accepted   []model.Event
	Duplicates int
	Rejected   model.RecordErrors
}

// ImportRecords validates and stores each record independently. A bad record
// is reported and skipped; it never blocks the rest of the batch.
func (s *Service) ImportRecords(ctx context.Context, recs []model.Record) (ImportResult, error) {
	res := ImportResult{Accepted: []model.Event{}}
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ev, err := s.buildEvent(rec, SourceBatch)
		if err != nil {
			s.metrics.ObserveSubmission(Code(err))
			res.Rejected = append(res.Rejected, model.RecordError{Index: i, Err: err})
			continue
		}
		if err := s.store.Append(ev); err != nil {
			s.metrics.ObserveSubmission("store_error")
			return res, fmt.Errorf("store event %d: %w", i, err)
		}
		s.metrics.ObserveSubmission("ok")
		res.Accepted = append(res.Accepted, ev)
	}
	s.metrics.SetStoredEvents(s.store.Len())

	appLog.Info("batch imported",
		"records", len(recs),
		"accepted", len(res.Accepted),
		"rejected", len(res.Rejected),
	)
	return res, nil
}

// ImportICS stores the non-recurring events of a calendar feed for
// src.Owner. Events are keyed by their UID, so importing the same feed again
// only adds what is new.
func (s *Service) ImportICS(ctx context.Context, src ics.Source, body []byte) (ImportResult, error) {
	res := ImportResult{Accepted: []model.Event{}}
	owner := strings.TrimSpace(src.Owner)
	if owner == "" {
		return res, model.ErrMissingOwner
	}
	src.Owner = owner

	parsed, err := ics.ParseICS(src, body, s.loc)
	if err != nil {
		return res, err
	}
	res.Rejected = append(res.Rejected, parsed.Skipped...)

	source := sourceICS + src.ID
	for _, pe := range parsed.Events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ev, err := s.eventFromFeed(owner, source, pe)
		if err != nil {
			res.Rejected = append(res.Rejected, model.RecordError{Index: pe.Index, Err: err})
			continue
		}
		added, err := s.store.AppendUnique(ev)
		if err != nil {
			return res, fmt.Errorf("store event %s: %w", pe.UID, err)
		}
		if !added {
			res.Duplicates++
			continue
		}
		res.Accepted = append(res.Accepted, ev)
	}
	s.metrics.SetStoredEvents(s.store.Len())

	appLog.Info("calendar imported",
		"source", src.ID,
		"owner", owner,
		"accepted", len(res.Accepted),
		"duplicates", res.Duplicates,
		"rejected", len(res.Rejected),
	)
	return res, nil
}

func (s *Service) eventFromFeed(owner, source string, pe ics.ParsedEvent) (model.Event, error) {
	end := pe.End
	if end.IsZero() {
		end = pe.Start.Add(s.defaultDuration)
	}
	iv, err := model.NewInterval(pe.Start, end)
	if err != nil {
		return model.Event{}, fmt.Errorf("uid %s: %w", pe.UID, err)
	}
	title := strings.TrimSpace(pe.Summary)
	if title == "" {
		title = untitled
	}
	return model.Event{
		ID:          model.NewEventID(),
		Owner:       owner,
		Title:       title,
		Temporal:    model.ExplicitTemporal(iv.Start, iv.End),
		Interval:    iv,
		Source:      source,
		ExternalID:  pe.UID,
		Description: strings.TrimSpace(pe.Description),
		Location:    strings.TrimSpace(pe.Location),
		CreatedAt:   s.clock.Now(),
	}, nil
}

// ExportICS renders owner's events as an iCalendar document.
func (s *Service) ExportICS(ctx context.Context, owner string) (string, error) {
	events, err := s.ListEvents(ctx, owner)
	if err != nil {
		return "", err
	}
	return ics.Export(events, s.clock.Now()), nil
}

// SweepResult counts what one sweep found across all owners.
type SweepResult struct {
	Owners    int
	Reminders int
	Conflicts int
}

// Sweep runs the upcoming and conflict checks for every owner at the current
// clock time and sends the results through the sweep notifier.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now()
	started := time.Now()

	for _, owner := range s.store.Owners() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		found := s.upcomingFor(owner, now)
		s.sendReminders(ctx, s.sweepNotifier, owner, found)

		pairs := s.conflictsFor(owner)
		s.sendConflicts(ctx, s.sweepNotifier, owner, pairs)

		res.Owners++
		res.Reminders += len(found)
		res.Conflicts += len(pairs)
	}
	s.metrics.ObserveCheck("sweep", time.Since(started).Seconds())

	appLog.Info("sweep completed",
		"owners", res.Owners,
		"reminders", res.Reminders,
		"conflicts", res.Conflicts,
		"duration", time.Since(started),
	)
	return res, nil
}
