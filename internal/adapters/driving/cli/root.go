// Package cli provides the keapsync command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keapsync/internal/config"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/core/ports/driving"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// version is set at build time with -ldflags.
var version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "keapsync",
	Short: "Incremental Keap CRM sync",
	Long: `keapsync pulls users, tags, companies, contacts, opportunities, tasks,
notes, products and orders from the Keap REST API into SQLite or Postgres.

Runs are checkpointed after every page, so an interrupted sync can be
continued with 'keapsync sync --resume'.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetVerbose(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// scheduleRunner is the scheduler surface used by serve.
type scheduleRunner interface {
	driving.Scheduler
	SetRetention(d time.Duration)
}

// Services are the components the data commands operate on.
type Services struct {
	Sync        driving.SyncOrchestrator
	Tracker     driving.RunTracker
	Telemetry   driven.TelemetryStore
	Checkpoints driven.CheckpointStore
	Scheduler   scheduleRunner
	Close       func() error
}

// Services used by commands. They stay nil until a command needs them.
var (
	syncOrchestrator driving.SyncOrchestrator
	runTracker       driving.RunTracker
	telemetryStore   driven.TelemetryStore
	checkpointStore  driven.CheckpointStore
	scheduler        scheduleRunner

	configStore  driven.ConfigStore
	configLoader *config.Loader
	appConfig    config.Config

	servicesFactory func(ctx context.Context) (*Services, error)
	closeServices   func() error
)

// SetConfig installs the resolved configuration, its loader and the
// writable settings file.
func SetConfig(cfg config.Config, loader *config.Loader, store driven.ConfigStore) {
	appConfig = cfg
	configLoader = loader
	configStore = store
}

// SetServicesFactory installs the constructor run by the first command
// that needs the database. Commands like version and settings never call it.
func SetServicesFactory(f func(ctx context.Context) (*Services, error)) {
	servicesFactory = f
}

// ensureServices builds the services once.
func ensureServices(ctx context.Context) error {
	if servicesFactory == nil {
		return nil
	}
	s, err := servicesFactory(ctx)
	servicesFactory = nil
	if err != nil {
		return fmt.Errorf("starting services: %w", err)
	}
	syncOrchestrator = s.Sync
	runTracker = s.Tracker
	telemetryStore = s.Telemetry
	checkpointStore = s.Checkpoints
	scheduler = s.Scheduler
	closeServices = s.Close
	return nil
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if closeServices != nil {
		if cerr := closeServices(); cerr != nil {
			logger.Warn("closing services: %v", cerr)
		}
		closeServices = nil
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	return 1
}
