package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/roshinpv/regulateai/pkg/agency"
	"github.com/roshinpv/regulateai/pkg/alert"
	"github.com/roshinpv/regulateai/pkg/archive"
	"github.com/roshinpv/regulateai/pkg/collector"
	"github.com/roshinpv/regulateai/pkg/config"
	"github.com/roshinpv/regulateai/pkg/fetch"
	"github.com/roshinpv/regulateai/pkg/monitor"
	"github.com/roshinpv/regulateai/pkg/notify"
	"github.com/roshinpv/regulateai/pkg/observability"
	"github.com/roshinpv/regulateai/pkg/scheduler"
)

const leaseKey = "regmonitor:cycle"

// app is the fully wired process.
type app struct {
	cfg       *config.Config
	registry  *agency.Registry
	manager   *alert.Manager
	monitor   *monitor.Monitor
	scheduler *scheduler.Scheduler
	obs       *observability.Provider
	closers   []func() error
}

// loadConfig reads configuration and installs the JSON logger.
func loadConfig(stderr io.Writer) (*config.Config, error) {
	cfg := config.Load()
	err := cfg.Validate()
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadRegistry(cfg *config.Config) (*agency.Registry, error) {
	if cfg.AgenciesFile == "" {
		return agency.Default()
	}
	return agency.Load(cfg.AgenciesFile)
}

func openStore(ctx context.Context, cfg *config.Config) (alert.Store, func() error, error) {
	switch cfg.StoreDriver {
	case "memory":
		return alert.NewMemoryStore(), func() error { return nil }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := alert.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	default:
		store, err := alert.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

func newManager(ctx context.Context, cfg *config.Config, store alert.Store) (*alert.Manager, error) {
	var opts []alert.Option
	if cfg.PriorityRulesFile != "" {
		rules, err := alert.LoadRules(cfg.PriorityRulesFile)
		if err != nil {
			return nil, err
		}
		policy, err := alert.NewRulePolicy(rules)
		if err != nil {
			return nil, fmt.Errorf("priority rules %q: %w", cfg.PriorityRulesFile, err)
		}
		slog.InfoContext(ctx, "priority rules loaded", "file", cfg.PriorityRulesFile, "rules", policy.Len())
		opts = append(opts, alert.WithPriorityPolicy(policy))
	}
	return alert.NewManager(store, opts...), nil
}

// newApp wires every component from cfg. Only agencies in only are
// monitored when it is non-empty.
func newApp(ctx context.Context, cfg *config.Config, only string) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()
	logger := slog.Default().With("component", "regmonitor")

	a.registry, err = loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	if only != "" {
		ac, ok := a.registry.Get(only)
		if !ok {
			return nil, fmt.Errorf("unknown agency %q", only)
		}
		if a.registry, err = agency.NewRegistry(ac); err != nil {
			return nil, err
		}
	}

	a.obs, err = observability.New(ctx, &observability.Config{
		ServiceName:    "regmonitor",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		Enabled:        cfg.OTelEnabled,
		Insecure:       true,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.obs.Shutdown(sctx)
	})

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	if a.manager, err = newManager(ctx, cfg, store); err != nil {
		return nil, err
	}

	snapshots, err := archive.New(ctx, archive.Config{
		Backend:  cfg.ArchiveBackend,
		Bucket:   cfg.ArchiveBucket,
		Prefix:   cfg.ArchivePrefix,
		Region:   cfg.AWSRegion,
		Endpoint: cfg.ArchiveEndpoint,
	})
	if err != nil {
		return nil, err
	}
	if c, ok := snapshots.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	collectors, problems := collector.BuildAll(a.registry, collector.Deps{
		Fetch: fetch.Options{
			Timeout:    cfg.FetchTimeout,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			UserAgent:  cfg.UserAgent,
			Gate:       fetch.NewGate(cfg.PerHostRPS, 1, cfg.PerHostConcurrency),
			Archiver:   snapshots,
		},
	})
	for _, p := range problems {
		logger.WarnContext(ctx, "collector disabled", "agency", p.AgencyID, "kind", string(p.Variant), "reason", p.Reason)
	}

	notifiers := []notify.Notifier{notify.NewLogNotifier()}
	if cfg.NotifyWebhookURL != "" {
		hook, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:        cfg.NotifyWebhookURL,
			Secret:     cfg.NotifyWebhookSecret,
			Timeout:    cfg.FetchTimeout,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, hook)
	}

	a.monitor = monitor.New(collectors, a.manager,
		monitor.WithNotifier(notify.Multi(notifiers...)),
		monitor.WithMaxConcurrency(cfg.MaxConcurrency),
		monitor.WithObservability(a.obs),
	)

	schedOpts := []scheduler.Option{
		scheduler.WithObservability(a.obs),
		scheduler.WithReportHook(func(r *monitor.CycleReport, err error) {
			if err != nil {
				return
			}
			logger.Info("cycle report",
				"collected", r.TotalCollected(),
				"created", r.AlertsCreated,
				"notified", r.Notified,
				"took", r.FinishedAt.Sub(r.StartedAt).String(),
			)
		}),
	}
	if cfg.RedisAddr != "" {
		client := scheduler.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.closers = append(a.closers, client.Close)
		schedOpts = append(schedOpts, scheduler.WithLease(scheduler.NewRedisLease(client, leaseKey, cfg.UpdateInterval)))
	}
	a.scheduler = scheduler.New(a.monitor, cfg.UpdateInterval, schedOpts...)

	logger.InfoContext(ctx, "regmonitor wired",
		"agencies", a.registry.Len(),
		"collectors", len(collectors),
		"store", cfg.StoreDriver,
		"archive", cfg.ArchiveBackend,
		"lease", cfg.RedisAddr != "",
	)
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "shutdown incomplete", "error", err)
	}
}
