package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keapsync/internal/config"
	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled syncs in the foreground",
	Long: `Runs the full sync every scheduler.interval (default 1h) and prunes run
history older than scheduler.retention_days once a day.

Changes to scheduler.interval and scheduler.retention_days in the settings
file are applied without a restart. Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}

	if configLoader != nil {
		configLoader.Watch(scheduleReloader(appConfig.Scheduler), func(err error) {
			logger.Warn("settings reload failed, keeping current schedule: %v", err)
		})
	}

	cmd.Printf("Scheduler started: sync every %s, keeping runs for %d days.\n",
		appConfig.Scheduler.Interval, appConfig.Scheduler.RetentionDays)

	err := scheduler.Start(ctx)
	if stopErr := scheduler.Stop(); stopErr != nil {
		logger.Warn("stopping scheduler: %v", stopErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	cmd.Println("Scheduler stopped.")
	return nil
}

// scheduleReloader applies schedule changes from a reloaded configuration.
func scheduleReloader(initial config.SchedulerConfig) func(config.Config) {
	var mu sync.Mutex
	current := initial
	return func(cfg config.Config) {
		mu.Lock()
		defer mu.Unlock()

		next := cfg.Scheduler
		if next.Interval != current.Interval {
			if err := scheduler.SetInterval(domain.TaskIDEntitySync, next.Interval); err != nil {
				logger.Warn("applying scheduler.interval %s: %v", next.Interval, err)
			} else {
				current.Interval = next.Interval
			}
		}
		if next.RetentionDays != current.RetentionDays {
			scheduler.SetRetention(next.Retention())
			current.RetentionDays = next.RetentionDays
			logger.Info("scheduler: run retention set to %d days", next.RetentionDays)
		}
	}
}
