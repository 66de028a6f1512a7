// Package scheduler runs the periodic sweep and calendar refresh jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"evalert/internal/ics"
	appLog "evalert/internal/log"
	"evalert/internal/service"
)

const (
	JobSweep   = "sweep"
	JobRefresh = "ics_refresh"

	defaultJobTimeout = 2 * time.Minute
)

type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, error)
}

type Importer interface {
	ImportICS(ctx context.Context, src ics.Source, body []byte) (service.ImportResult, error)
}

// Config holds the job schedules. An empty schedule leaves that job out.
type Config struct {
	SweepSchedule   string
	RefreshSchedule string
	Sources         []ics.Source
	JobTimeout      time.Duration
}

// Scheduler drives Sweeper and the feed refresh from cron. Overlapping runs
// of the same job are skipped.
type Scheduler struct {
	cron     *cron.Cron
	config   Config
	sweeper  Sweeper
	fetcher  Fetcher
	importer Importer

	mu       sync.Mutex
	baseCtx  context.Context
	entryIDs map[string]cron.EntryID
	stopped  chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, sweeper Sweeper, fetcher Fetcher, importer Importer) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	logger := cronLogger{}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		config:   cfg,
		sweeper:  sweeper,
		fetcher:  fetcher,
		importer: importer,
		baseCtx:  context.Background(),
		entryIDs: make(map[string]cron.EntryID),
		stopped:  make(chan struct{}),
	}
}

// Start registers the configured jobs and starts cron. The scheduler stops
// when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseCtx = ctx
	var errs []error
	if s.config.SweepSchedule != "" && s.sweeper != nil {
		if err := s.register(JobSweep, s.config.SweepSchedule, s.runSweep); err != nil {
			errs = append(errs, err)
		}
	}
	if s.config.RefreshSchedule != "" && len(s.config.Sources) > 0 && s.fetcher != nil && s.importer != nil {
		if err := s.register(JobRefresh, s.config.RefreshSchedule, s.runRefresh); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.cron.Start()
	appLog.Info("scheduler started", "jobs", len(s.entryIDs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for running jobs to finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		appLog.Info("scheduler stopping")
		<-s.cron.Stop().Done()
		close(s.stopped)
		appLog.Info("scheduler stopped")
	})
}

// Done is closed once Stop has finished.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}

// TriggerNames lists the registered jobs.
func (s *Scheduler) TriggerNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entryIDs))
	for name := range s.entryIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce refreshes every feed and then sweeps, outside of cron.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	if len(s.config.Sources) > 0 && s.fetcher != nil && s.importer != nil {
		if err := s.RefreshFeeds(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.sweeper != nil {
		if _, err := s.sweeper.Sweep(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sweep: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RefreshFeeds fetches all sources and imports what came back. A failing
// source doesn't stop the others.
func (s *Scheduler) RefreshFeeds(ctx context.Context) error {
	results, fetchErr := s.fetcher.FetchAll(ctx, s.config.Sources)
	errs := []error{fetchErr}
	for _, res := range results {
		imported, err := s.importer.ImportICS(ctx, res.Source, res.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("import %s: %w", res.Source.ID, err))
			continue
		}
		if len(imported.Rejected) > 0 {
			appLog.Warn("calendar entries skipped",
				"source", res.Source.ID,
				"count", len(imported.Rejected),
				"first", imported.Rejected[0].Error(),
			)
		}
	}
	return errors.Join(errs...)
}

// register must be called with s.mu held.
func (s *Scheduler) register(name, spec string, job func(context.Context)) error {
	if _, exists := s.entryIDs[name]; exists {
		return nil
	}
	id, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.jobContext(), s.config.JobTimeout)
		defer cancel()
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}
	s.entryIDs[name] = id
	appLog.Info("scheduler job registered", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		appLog.Error("scheduled sweep failed", err)
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	if err := s.RefreshFeeds(ctx); err != nil {
		appLog.Error("scheduled refresh finished with errors", err)
	}
}

// cronLogger routes cron's own messages into the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
