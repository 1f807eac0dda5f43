package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and clean up sync run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sync runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show progress and request metrics of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished runs older than --days",
	Args:  cobra.NoArgs,
	RunE:  runRunsPrune,
}

// Flags for runs.
var (
	runsListLimit int
	runsPruneDays int
)

func init() {
	runsListCmd.Flags().IntVarP(&runsListLimit, "limit", "n", 20, "Number of runs to list")
	runsPruneCmd.Flags().IntVar(&runsPruneDays, "days", 30, "Keep runs started within this many days")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if telemetryStore == nil {
		return errors.New("telemetry store not configured")
	}

	runs, err := telemetryStore.ListRuns(cmd.Context(), runsListLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}

	cmd.Printf("%-36s  %-20s  %-8s  %-10s  %s\n", "ID", "STARTED", "STATUS", "DURATION", "NOTES")
	for _, r := range runs {
		cmd.Printf("%-36s  %-20s  %s  %-10s  %s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			statusLabel(string(r.Status), 8),
			runDuration(r),
			r.Notes)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if runTracker == nil {
		return errors.New("run tracker not configured")
	}
	if !runTracker.Enabled() {
		return errors.New("run tracking is disabled, enable it with ETL_META=on")
	}

	summary, ok := runTracker.Summary(cmd.Context(), args[0])
	if !ok {
		return fmt.Errorf("run %s: %w", args[0], domain.ErrNotFound)
	}

	run := summary.Run
	cmd.Println(titleStyle.Render("Run " + run.ID))
	cmd.Printf("Status:   %s\n", statusLabel(string(run.Status), 0))
	cmd.Printf("Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.FinishedAt != nil {
		cmd.Printf("Finished: %s (%s)\n", run.FinishedAt.Local().Format(time.RFC3339), runDuration(run))
	}
	if run.Notes != "" {
		cmd.Printf("Notes:    %s\n", run.Notes)
	}

	if len(summary.Progress) > 0 {
		cmd.Println()
		cmd.Printf("%-14s %-10s %8s %8s %10s  %s\n", "ENTITY", "STATUS", "ITEMS", "SOURCE", "OFFSET", "ERROR")
		for _, p := range summary.Progress {
			source := "-"
			if n, ok := summary.SourceCounts[p.Entity]; ok {
				source = fmt.Sprint(n)
			}
			cmd.Printf("%-14s %s %8d %8s %10d  %s\n",
				p.Entity, statusLabel(string(p.Status), 10), p.ItemsProcessed, source, p.LastPageOffset, p.ErrorMessage)
		}
	}

	// Counts for entities that never got a progress row.
	var extra []string
	for entity := range summary.SourceCounts {
		if !hasProgress(summary.Progress, entity) {
			extra = append(extra, entity)
		}
	}
	sort.Strings(extra)
	for _, entity := range extra {
		cmd.Printf("%-14s source count %d\n", entity, summary.SourceCounts[entity])
	}

	m := summary.Metrics
	cmd.Println()
	cmd.Println(titleStyle.Render("Metrics"))
	cmd.Printf("Requests:   %d\n", m.TotalRequests)
	cmd.Printf("Items:      %d\n", m.TotalItems)
	cmd.Printf("Time:       %s\n", (time.Duration(m.TotalDurationMS) * time.Millisecond).String())
	cmd.Printf("Errors:     %d\n", m.ErrorCount)
	cmd.Printf("Throttled:  %d\n", m.ThrottleCount)
	return nil
}

func runRunsPrune(cmd *cobra.Command, _ []string) error {
	if runsPruneDays < 1 {
		return fmt.Errorf("%w: --days must be at least 1", domain.ErrInvalidInput)
	}
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if telemetryStore == nil {
		return errors.New("telemetry store not configured")
	}

	cutoff := time.Now().Add(-time.Duration(runsPruneDays) * 24 * time.Hour)
	n, err := telemetryStore.PruneRuns(cmd.Context(), cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}
	cmd.Printf("Removed %d run(s) older than %d days.\n", n, runsPruneDays)
	return nil
}

func runDuration(r domain.SyncRun) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func hasProgress(progress []domain.EntityProgress, entity string) bool {
	for _, p := range progress {
		if p.Entity == entity {
			return true
		}
	}
	return false
}
