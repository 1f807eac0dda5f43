// Package app assembles the stores, Keap client and services from a Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/auth"
	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/keapsync/internal/config"
	"github.com/custodia-labs/keapsync/internal/connectors/keap"
	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/core/services"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// App holds the wired components for one process.
type App struct {
	Config      config.Config
	Tokens      driven.TokenProvider
	Source      *keap.Client
	Sink        driven.RecordSink
	Checkpoints driven.CheckpointStore
	Telemetry   driven.TelemetryStore
	Schedules   driven.SchedulerStore
	Tracker     *services.RunTracker
	Sync        *services.SyncOrchestrator
	Scheduler   *services.Scheduler

	closer func() error
}

// storage is the part of a backend App needs.
type storage struct {
	sink        driven.RecordSink
	checkpoints driven.CheckpointStore
	telemetry   driven.TelemetryStore
	schedules   driven.SchedulerStore
	close       func() error
}

// New opens the configured database and wires every service on top of it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	st, err := openStorage(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenProvider(auth.Settings{
		APIKey:       cfg.Keap.APIKey,
		ClientID:     cfg.Keap.ClientID,
		ClientSecret: cfg.Keap.ClientSecret,
		RedirectURI:  cfg.Keap.RedirectURI,
		TokenFile:    cfg.Keap.TokenFile,
	})
	if tokens.AuthMethod() == domain.AuthMethodNone {
		logger.Warn("no Keap credentials configured: set KEAP_API_KEY or run keapsync auth login")
	}

	source := keap.NewClient(tokens, keap.Options{
		BaseURL:           cfg.Keap.BaseURL,
		Timeout:           cfg.Keap.Timeout,
		RequestsPerSecond: cfg.Keap.RequestsPerSecond,
	})

	tracker := services.NewRunTracker(services.TrackerConfig{Enabled: cfg.Telemetry.Enabled}, st.telemetry)

	orch := services.NewSyncOrchestrator(source, st.sink, st.checkpoints, tracker, keap.Entities(), services.SyncConfig{
		PageSize:  cfg.Sync.PageSize,
		BatchSize: cfg.Sync.BatchSize,
		Retry: services.RetryConfig{
			MaxRetries: cfg.Sync.MaxRetries,
			BaseDelay:  cfg.Sync.BaseDelay,
			MaxDelay:   cfg.Sync.MaxDelay,
		},
	})

	scheduler := services.NewScheduler(SchedulerConfig(cfg.Scheduler), st.schedules, orch, st.telemetry)
	scheduler.SetRetention(cfg.Scheduler.Retention())

	return &App{
		Config:      cfg,
		Tokens:      tokens,
		Source:      source,
		Sink:        st.sink,
		Checkpoints: st.checkpoints,
		Telemetry:   st.telemetry,
		Schedules:   st.schedules,
		Tracker:     tracker,
		Sync:        orch,
		Scheduler:   scheduler,
		closer:      st.close,
	}, nil
}

// SchedulerConfig maps the scheduler settings onto the task configuration.
func SchedulerConfig(c config.SchedulerConfig) domain.SchedulerConfig {
	sc := domain.DefaultSchedulerConfig()
	if c.Interval > 0 {
		sc = sc.WithInterval(domain.TaskIDEntitySync, c.Interval)
	}
	return sc
}

// Close releases the database.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

func openStorage(ctx context.Context, db config.DatabaseConfig) (*storage, error) {
	switch db.Driver {
	case config.DriverSQLite, "":
		store, err := sqlite.NewStore(db.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.Debug("storage opened: sqlite %s", store.Path())
		return &storage{
			sink:        store.RecordSink(),
			checkpoints: store.CheckpointStore(),
			telemetry:   store.TelemetryStore(),
			schedules:   store.SchedulerStore(),
			close:       store.Close,
		}, nil
	case config.DriverPostgres:
		if db.URL == "" {
			return nil, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
		store, err := postgres.NewStore(ctx, db.URL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		logger.Debug("storage opened: postgres")
		// Task state lives in memory; a restarted serve recomputes due times.
		return &storage{
			sink:        store.RecordSink(),
			checkpoints: store.CheckpointStore(),
			telemetry:   store.TelemetryStore(),
			schedules:   memory.NewSchedulerStore(),
			close:       store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("%w: DB_DRIVER %q", domain.ErrInvalidInput, db.Driver)
	}
}
