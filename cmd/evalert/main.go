package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"evalert/internal/clock"
	"evalert/internal/config"
	"evalert/internal/conflict"
	"evalert/internal/ics"
	appLog "evalert/internal/log"
	"evalert/internal/metrics"
	"evalert/internal/model"
	"evalert/internal/notify"
	"evalert/internal/scheduler"
	"evalert/internal/service"
	"evalert/internal/store"
	"evalert/internal/upcoming"
	"evalert/internal/web"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadEnvFile(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(os.LookupEnv); err != nil {
		appLog.Error("invalid environment override", err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Setup(os.Stderr, conf.LogFormat)
	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Warn("unknown log level, using info", "log_level", conf.LogLevel)
		level = appLog.LevelInfo
	}
	appLog.SetLevel(level)

	appLog.Info("evalert starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"lookahead_hours", conf.LookaheadHours,
		"default_duration_minutes", conf.DefaultDurationMinutes,
		"conflict_strategy", conf.ConflictStrategy,
		"sweep", conf.SweepCron,
		"ics_refresh", conf.ICSRefreshCron,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("evalert exited with error", err)
		os.Exit(1)
	}
	appLog.Info("evalert exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(reg)

	strategy, err := conflict.StrategyByName(conf.ConflictStrategy)
	if err != nil {
		return err
	}

	queue := notify.NewQueue(notify.Log{}, conf.NotifyQueueSize,
		notify.WithDropHook(func(model.Notification) { m.IncDropped() }))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := queue.Close(closeCtx); err != nil {
			appLog.Error("notification queue did not drain", err)
		}
	}()

	dedupe, err := notify.NewDedupe(queue, conf.ReminderDedupeSize)
	if err != nil {
		return err
	}

	loc := conf.Location()
	svc := service.New(store.NewMemory(), clock.NewSystem(loc),
		service.WithLocation(loc),
		service.WithDefaultDuration(conf.DefaultDuration()),
		service.WithDetector(conflict.NewDetector(strategy)),
		service.WithSelector(upcoming.NewSelector(
			upcoming.WithWindow(conf.Lookahead()),
			upcoming.WithSortByStart(conf.SortUpcoming),
		)),
		service.WithNotifier(queue),
		service.WithSweepNotifier(dedupe),
		service.WithMetrics(m),
	)

	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.ID, URL: c.URL, Owner: c.Owner})
	}
	sched := scheduler.New(scheduler.Config{
		SweepSchedule:   conf.SweepSchedule(),
		RefreshSchedule: conf.RefreshSchedule(),
		Sources:         sources,
	}, svc, ics.NewFetcher(conf.CacheDir), svc)

	if once {
		return sched.RunOnce(ctx)
	}

	webOpts := []web.Option{web.WithGatherer(reg)}
	if conf.BasicAuth != nil {
		webOpts = append(webOpts, web.WithBasicAuth(conf.BasicAuth.Username, conf.BasicAuth.Password))
	}
	httpServer := web.NewServer(svc, webOpts...).HTTPServer(conf.Listen)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if len(sources) > 0 {
			// Prime the store before the first scheduled refresh.
			if err := sched.RefreshFeeds(gctx); err != nil {
				appLog.Warn("initial calendar refresh incomplete", "reason", err.Error())
			}
		}
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-sched.Done()
		return nil
	})

	return g.Wait()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/evalert/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env-file", ".env", "Optional dotenv file loaded before the config")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh calendar feeds, run one sweep and exit")

	flag.Parse()

	return cfg
}
