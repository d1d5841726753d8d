package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ziadkadry99/issue-sync/internal/analytics"
	"github.com/ziadkadry99/issue-sync/internal/config"
	"github.com/ziadkadry99/issue-sync/internal/db"
	"github.com/ziadkadry99/issue-sync/internal/features"
	"github.com/ziadkadry99/issue-sync/internal/integrations"
	"github.com/ziadkadry99/issue-sync/internal/issuesync"
	"github.com/ziadkadry99/issue-sync/internal/provider"
	"github.com/ziadkadry99/issue-sync/internal/queue"
	"github.com/ziadkadry99/issue-sync/internal/subscriptions"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `issuesync init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app holds every store and service built from the config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *db.DB

	tracker      *tracker.Store
	integrations *integrations.Store
	analytics    *analytics.Store
	features     *features.Service
	failures     *queue.FailureStore

	queue         *queue.Queue
	issues        *issuesync.Service
	subscriptions *subscriptions.Service
}

// openApp opens the database and wires the services. Tasks are registered
// on the queue but workers are not started.
func openApp(cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{
		cfg:          cfg,
		logger:       logger,
		db:           database,
		tracker:      tracker.NewStore(database),
		integrations: integrations.NewStore(database),
		analytics:    analytics.NewStore(database),
		failures:     queue.NewFailureStore(database),
	}

	a.features, err = features.NewService(database, cfg.Features)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("loading feature flags: %w", err)
	}

	resolver := provider.NewDefaultResolver(a.integrations, provider.Config{
		VSTS: provider.NewVSTSClient(provider.ClientConfig{
			Token:             cfg.Providers.VSTS.Token,
			RequestsPerMinute: cfg.Providers.VSTS.RequestsPerMinute,
			Logger:            logger,
		}, cfg.Providers.VSTS.APIVersion),
		GitHub: provider.NewGitHubClient(provider.ClientConfig{
			BaseURL:           cfg.Providers.GitHub.BaseURL,
			Token:             cfg.Providers.GitHub.Token,
			RequestsPerMinute: cfg.Providers.GitHub.RequestsPerMinute,
			Logger:            logger,
		}),
	})

	a.queue = queue.New(queue.Config{
		Workers:     cfg.Queue.Workers,
		Buffer:      cfg.Queue.Buffer,
		TaskTimeout: cfg.Queue.TaskTimeout,
		Logger:      logger,
		Failures:    a.failures,
	})

	a.issues = issuesync.NewService(issuesync.Config{
		Tracker:       a.tracker,
		Integrations:  a.integrations,
		Installations: resolver,
		Features:      a.features,
		Scheduler:     a.queue,
		Analytics:     a.analytics,
		Logger:        logger,
	})

	var monitors []subscriptions.Monitor
	for _, p := range cfg.Subscriptions.Providers {
		m, err := subscriptions.DefaultMonitor(p, cfg.Subscriptions.CheckInterval, cfg.Subscriptions.TouchHealthy)
		if err != nil {
			database.Close()
			return nil, err
		}
		monitors = append(monitors, m)
	}
	a.subscriptions = subscriptions.NewService(subscriptions.Config{
		Integrations:  a.integrations,
		Installations: resolver,
		Scheduler:     a.queue,
		Monitors:      monitors,
		Logger:        logger,
	})

	if err := issuesync.Register(a.queue, a.issues); err != nil {
		database.Close()
		return nil, err
	}
	if err := subscriptions.Register(a.queue, a.subscriptions); err != nil {
		database.Close()
		return nil, err
	}

	return a, nil
}

// Close stops the queue and closes the database.
func (a *app) Close() {
	a.queue.Stop()
	a.db.Close()
}
