// Command keapsync syncs Keap CRM data into SQLite or Postgres.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/keapsync/internal/adapters/driving/cli"
	"github.com/custodia-labs/keapsync/internal/app"
	"github.com/custodia-labs/keapsync/internal/config"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	loader, err := config.NewLoader("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	logger.SetFormat(cfg.Log.Format)
	logger.SetLevel(cfg.Log.Level)

	var settings driven.ConfigStore
	if store, err := file.NewConfigStore(loader.Dir()); err != nil {
		logger.Warn("settings file unavailable: %v", err)
	} else {
		settings = store
	}
	cli.SetConfig(cfg, loader, settings)

	cli.SetServicesFactory(func(ctx context.Context) (*cli.Services, error) {
		a, err := app.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &cli.Services{
			Sync:        a.Sync,
			Tracker:     a.Tracker,
			Telemetry:   a.Telemetry,
			Checkpoints: a.Checkpoints,
			Scheduler:   a.Scheduler,
			Close:       a.Close,
		}, nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cli.Execute(ctx)
}
