package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalert/internal/clock"
	"evalert/internal/conflict"
	"evalert/internal/ics"
	"evalert/internal/metrics"
	"evalert/internal/model"
	"evalert/internal/notify"
	"evalert/internal/store"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *store.Memory
	clock *clock.Manual
	sent  *notify.Recorder
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		store: store.NewMemory(),
		clock: clock.NewFixed(t0),
		sent:  &notify.Recorder{},
	}
	opts = append([]Option{WithNotifier(f.sent), WithMetrics(metrics.MustNewMetrics(prometheus.NewRegistry()))}, opts...)
	f.svc = New(f.store, f.clock, opts...)
	return f
}

func dateTime(owner, title, date, at string) model.Record {
	return model.Record{"user_id": owner, "title": title, "event_date": date, "event_time": at}
}

func explicit(owner, title string, start, end time.Time) model.Record {
	return model.Record{
		"owner_id":   owner,
		"title":      title,
		"start_time": start.Format(time.RFC3339),
		"end_time":   end.Format(time.RFC3339),
	}
}

func TestSubmitEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("date and time lasts one hour", func(t *testing.T) {
		f := newFixture(t)
		ev, err := f.svc.SubmitEvent(ctx, dateTime("u1", "Standup", "2024-01-01", "10:00"))
		require.NoError(t, err)

		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, "u1", ev.Owner)
		assert.Equal(t, SourceAPI, ev.Source)
		assert.Equal(t, model.KindDateTime, ev.Temporal.Kind)
		assert.True(t, ev.Interval.Start.Equal(t0.Add(10*time.Hour)))
		assert.Equal(t, time.Hour, ev.Interval.Duration())
		assert.Equal(t, t0, ev.CreatedAt)
	})

	t.Run("explicit pair wins over date and time", func(t *testing.T) {
		f := newFixture(t)
		rec := explicit("u1", "Review", t0.Add(9*time.Hour), t0.Add(9*time.Hour+15*time.Minute))
		rec["event_date"] = "2030-01-01"
		rec["event_time"] = "08:00"

		ev, err := f.svc.SubmitEvent(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, model.KindExplicit, ev.Temporal.Kind)
		assert.Equal(t, 15*time.Minute, ev.Interval.Duration())
	})

	t.Run("configured default duration and zone", func(t *testing.T) {
		kst := time.FixedZone("KST", 9*60*60)
		f := newFixture(t, WithLocation(kst), WithDefaultDuration(30*time.Minute))
		ev, err := f.svc.SubmitEvent(ctx, dateTime("u1", "Tea", "2024-01-01", "09:00"))
		require.NoError(t, err)
		assert.True(t, ev.Interval.Start.Equal(t0), "09:00 KST is midnight UTC")
		assert.Equal(t, 30*time.Minute, ev.Interval.Duration())
	})

	t.Run("rejections leave the store unchanged", func(t *testing.T) {
		f := newFixture(t)
		cases := map[string]struct {
			rec  model.Record
			want error
			code string
		}{
			"no owner":      {model.Record{"title": "x", "event_date": "2024-01-01", "event_time": "10:00"}, model.ErrMissingOwner, "missing_owner"},
			"blank owner":   {dateTime("  ", "x", "2024-01-01", "10:00"), model.ErrMissingOwner, "missing_owner"},
			"no title":      {model.Record{"user_id": "u1", "event_date": "2024-01-01", "event_time": "10:00"}, model.ErrMissingRequiredField, "missing_required_field"},
			"no time":       {model.Record{"user_id": "u1", "title": "x", "event_date": "2024-01-01"}, model.ErrMissingRequiredField, "missing_required_field"},
			"bad date":      {dateTime("u1", "x", "01/02/2024", "10:00"), model.ErrMalformedTemporalData, "malformed_temporal_data"},
			"end too early": {explicit("u1", "x", t0.Add(time.Hour), t0), model.ErrInvalidInterval, "invalid_interval"},
			"zero length":   {explicit("u1", "x", t0, t0), model.ErrInvalidInterval, "invalid_interval"},
		}
		for name, tc := range cases {
			_, err := f.svc.SubmitEvent(ctx, tc.rec)
			assert.ErrorIs(t, err, tc.want, name)
			assert.Equal(t, tc.code, Code(err), name)
			assert.True(t, IsValidation(err), name)
		}
		assert.Zero(t, f.store.Len())
	})
}

func TestFindUpcoming(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SubmitEvent(ctx, explicit("u1", "now", t0, t0.Add(time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.SubmitEvent(ctx, explicit("u1", "edge", t0.Add(24*time.Hour), t0.Add(25*time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.SubmitEvent(ctx, explicit("u1", "too late", t0.Add(24*time.Hour+time.Minute), t0.Add(26*time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.SubmitEvent(ctx, explicit("u1", "in progress", t0.Add(-time.Minute), t0.Add(time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.SubmitEvent(ctx, explicit("u2", "someone else", t0, t0.Add(time.Hour)))
	require.NoError(t, err)

	got, err := f.svc.FindUpcoming(ctx, "u1", t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "now", got[0].Title)
	assert.Equal(t, "edge", got[1].Title)

	sent := f.sent.ForOwner("u1")
	require.Len(t, sent, 2)
	assert.Equal(t, model.NotificationReminder, sent[0].Kind)
	assert.Equal(t, []string{got[0].ID}, sent[0].EventIDs)
	assert.Equal(t, "Reminder: You have an upcoming event - now on 2024-01-01 at 00:00.", sent[0].Message)

	none, err := f.svc.FindUpcoming(ctx, "nobody", t0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.FindUpcoming(ctx, "", t0)
	assert.ErrorIs(t, err, model.ErrMissingOwner)
}

func TestFindConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, strategy := range []conflict.Strategy{conflict.Pairwise{}, conflict.SweepLine{}} {
		strategy := strategy
		t.Run(strategy.Name(), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, WithDetector(conflict.NewDetector(strategy)))

			for _, rec := range []model.Record{
				dateTime("u1", "A", "2024-01-01", "10:00"),
				dateTime("u1", "B", "2024-01-01", "10:30"),
				dateTime("u1", "C", "2024-01-01", "09:00"),
				dateTime("u1", "D", "2024-01-01", "11:30"),
				dateTime("u2", "E", "2024-01-01", "10:00"),
			} {
				_, err := f.svc.SubmitEvent(ctx, rec)
				require.NoError(t, err)
			}

			pairs, err := f.svc.FindConflicts(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, pairs, 1, "C touches A and D touches B; neither overlaps")
			assert.Equal(t, "A", pairs[0].First.Title)
			assert.Equal(t, "B", pairs[0].Second.Title)

			sent := f.sent.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, model.NotificationConflict, sent[0].Kind)
			assert.Equal(t,
				"Conflict detected: A on 2024-01-01 at 10:00 overlaps with B on 2024-01-01 at 10:30.",
				sent[0].Message)
			assert.Equal(t, []string{pairs[0].First.ID, pairs[0].Second.ID}, sent[0].EventIDs)

			pairs, err = f.svc.FindConflicts(ctx, "u2")
			require.NoError(t, err)
			assert.Empty(t, pairs)
		})
	}
}

func TestFindConflictsRequiresOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.svc.FindConflicts(context.Background(), " ")
	assert.ErrorIs(t, err, model.ErrMissingOwner)
}

func TestNotifierFailureDoesNotFailCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	failing := notify.Func(func(context.Context, model.Notification) error {
		return errors.New("smtp down")
	})
	f := newFixture(t, WithNotifier(failing))

	_, err := f.svc.SubmitEvent(ctx, explicit("u1", "soon", t0.Add(time.Hour), t0.Add(2*time.Hour)))
	require.NoError(t, err)

	got, err := f.svc.FindUpcoming(ctx, "u1", t0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestImportRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.ImportRecords(ctx, []model.Record{
		dateTime("u1", "ok", "2024-01-01", "10:00"),
		dateTime("", "no owner", "2024-01-01", "10:00"),
		explicit("u1", "backwards", t0.Add(time.Hour), t0),
		dateTime("u2", "also ok", "2024-01-02", "10:00"),
	})
	require.NoError(t, err)

	require.Len(t, res.Accepted, 2)
	assert.Equal(t, SourceBatch, res.Accepted[0].Source)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.ErrorIs(t, res.Rejected[0], model.ErrMissingOwner)
	assert.Equal(t, 2, res.Rejected[1].Index)
	assert.ErrorIs(t, res.Rejected[1], model.ErrInvalidInterval)
	assert.Equal(t, 2, f.store.Len())
}

const calendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//feed//EN
BEGIN:VEVENT
UID:one
SUMMARY:Planning
DTSTART:20240101T100000Z
DTEND:20240101T110000Z
END:VEVENT
BEGIN:VEVENT
UID:two
DTSTART:20240101T103000Z
END:VEVENT
BEGIN:VEVENT
UID:three
SUMMARY:Backwards
DTSTART:20240101T120000Z
DTEND:20240101T113000Z
END:VEVENT
BEGIN:VEVENT
UID:four
SUMMARY:Weekly
DTSTART:20240101T080000Z
RRULE:FREQ=WEEKLY
END:VEVENT
END:VCALENDAR
`

func TestImportICS(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	src := ics.Source{ID: "work", Owner: "u1"}

	res, err := f.svc.ImportICS(ctx, src, []byte(calendar))
	require.NoError(t, err)
	require.Len(t, res.Accepted, 2)
	assert.Equal(t, "Planning", res.Accepted[0].Title)
	assert.Equal(t, "ics:work", res.Accepted[0].Source)
	assert.Equal(t, "one", res.Accepted[0].ExternalID)
	assert.Equal(t, model.KindExplicit, res.Accepted[0].Temporal.Kind)

	untitledEv := res.Accepted[1]
	assert.Equal(t, "(untitled)", untitledEv.Title)
	assert.Equal(t, time.Hour, untitledEv.Interval.Duration(), "missing DTEND uses the default duration")

	require.Len(t, res.Rejected, 2)
	assert.Equal(t, "recurring_event", Code(res.Rejected[0]))
	assert.Equal(t, 3, res.Rejected[0].Index)
	assert.Equal(t, "invalid_interval", Code(res.Rejected[1]))
	assert.Equal(t, 2, res.Rejected[1].Index)

	again, err := f.svc.ImportICS(ctx, src, []byte(calendar))
	require.NoError(t, err)
	assert.Empty(t, again.Accepted)
	assert.Equal(t, 2, again.Duplicates)
	assert.Equal(t, 2, f.store.Len())

	pairs, err := f.svc.FindConflicts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, pairs, 1)

	_, err = f.svc.ImportICS(ctx, ics.Source{ID: "x"}, []byte(calendar))
	assert.ErrorIs(t, err, model.ErrMissingOwner)

	_, err = f.svc.ImportICS(ctx, src, []byte("garbage\n"))
	assert.Equal(t, "invalid_calendar", Code(err))
}

func TestExportICSRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SubmitEvent(ctx, dateTime("u1", "Standup", "2024-01-01", "10:00"))
	require.NoError(t, err)

	doc, err := f.svc.ExportICS(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, doc, "SUMMARY:Standup")

	// Importing our own export for another owner yields the same interval.
	res, err := f.svc.ImportICS(ctx, ics.Source{ID: "copy", Owner: "u2"}, []byte(doc))
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)
	assert.True(t, res.Accepted[0].Interval.Start.Equal(t0.Add(10*time.Hour)))
}

func TestExportICSReimportSameOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	ev, err := f.svc.SubmitEvent(ctx, dateTime("u1", "Standup", "2024-01-01", "10:00"))
	require.NoError(t, err)
	_, err = f.svc.ImportRecords(ctx, []model.Record{dateTime("u1", "Review", "2024-01-01", "14:00")})
	require.NoError(t, err)

	doc, err := f.svc.ExportICS(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, doc, "UID:"+ev.ID)

	res, err := f.svc.ImportICS(ctx, ics.Source{ID: "self", Owner: "u1"}, []byte(doc))
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, 2, f.store.Len())

	pairs, err := f.svc.FindConflicts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

const detailedFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//detail//EN
BEGIN:VEVENT
UID:detail-1
SUMMARY:Offsite
DESCRIPTION:Quarterly planning
LOCATION:Room 4
DTSTART:20240101T120000Z
DTEND:20240101T130000Z
END:VEVENT
END:VCALENDAR
`

func TestImportICSKeepsDetails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.ImportICS(ctx, ics.Source{ID: "work", Owner: "u1"}, []byte(detailedFeed))
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "Quarterly planning", res.Accepted[0].Description)
	assert.Equal(t, "Room 4", res.Accepted[0].Location)

	doc, err := f.svc.ExportICS(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, doc, "DESCRIPTION:Quarterly planning")
	assert.Contains(t, doc, "LOCATION:Room 4")
}

func TestSweepWithDedupe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sweepSent := &notify.Recorder{}
	dedupe, err := notify.NewDedupe(sweepSent, 16)
	require.NoError(t, err)
	f := newFixture(t, WithSweepNotifier(dedupe))

	_, err = f.svc.SubmitEvent(ctx, explicit("u1", "A", t0.Add(time.Hour), t0.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.SubmitEvent(ctx, explicit("u1", "B", t0.Add(90*time.Minute), t0.Add(3*time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.SubmitEvent(ctx, explicit("u2", "far", t0.Add(48*time.Hour), t0.Add(49*time.Hour)))
	require.NoError(t, err)

	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Owners: 2, Reminders: 2, Conflicts: 1}, res)
	assert.Len(t, sweepSent.Sent(), 3)
	assert.Empty(t, f.sent.Sent(), "sweeps don't use the on-demand notifier")

	_, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, sweepSent.Sent(), 3, "repeat sweep sends nothing new")

	// A day later the far event comes into range.
	f.clock.Advance(30 * time.Hour)
	res, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reminders)
	assert.Len(t, sweepSent.ForOwner("u2"), 1)
}

func TestSweepStopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.svc.SubmitEvent(context.Background(), dateTime("u1", "x", "2024-01-01", "10:00"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCode(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Code(nil))
	assert.Equal(t, "internal_error", Code(errors.New("disk on fire")))
	assert.False(t, IsValidation(errors.New("disk on fire")))
	assert.False(t, IsValidation(nil))
}
