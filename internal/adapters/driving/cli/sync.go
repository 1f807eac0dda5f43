package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise Keap entities into the database",
	Long: `Pulls every registered entity, or the ones named with --entities, from
the Keap API in dependency order and upserts them into the database.

Examples:
  keapsync sync
  keapsync sync --entities contacts,orders --since 2024-01-01
  keapsync sync --dry-run
  keapsync sync --resume`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

// Flags for sync.
var (
	syncDryRun          bool
	syncSince           string
	syncEntities        []string
	syncContinueOnError bool
	syncResume          bool
	syncPageSize        int
)

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Fetch one page per entity and write nothing")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "Only keep records created or updated since (RFC3339 or YYYY-MM-DD)")
	syncCmd.Flags().StringSliceVar(&syncEntities, "entities", nil, "Comma-separated entities to sync (default all)")
	syncCmd.Flags().BoolVar(&syncContinueOnError, "continue-on-error", false, "Keep going after an entity fails")
	syncCmd.Flags().BoolVar(&syncResume, "resume", false, "Continue the unfinished entities of the last interrupted run")
	syncCmd.Flags().IntVar(&syncPageSize, "page-size", 0, "Override the configured page size (1-1000)")
	rootCmd.AddCommand(syncCmd)
}

func syncOptions() (domain.SyncOptions, error) {
	opts := domain.SyncOptions{
		DryRun:          syncDryRun,
		ContinueOnError: syncContinueOnError,
		Resume:          syncResume,
		PageSize:        syncPageSize,
	}
	for _, e := range syncEntities {
		if e = strings.TrimSpace(e); e != "" {
			opts.Entities = append(opts.Entities, strings.ToLower(e))
		}
	}
	if syncPageSize < 0 || syncPageSize > 1000 {
		return opts, fmt.Errorf("%w: --page-size must be between 1 and 1000", domain.ErrInvalidInput)
	}
	if syncSince != "" {
		since, err := parseSince(syncSince)
		if err != nil {
			return opts, err
		}
		opts.Since = &since
	}
	return opts, nil
}

func parseSince(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: --since %q is not RFC3339 or YYYY-MM-DD", domain.ErrInvalidInput, s)
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}
	if syncOrchestrator == nil {
		return errors.New("sync service not configured")
	}

	opts, err := syncOptions()
	if err != nil {
		return err
	}

	report, err := syncOrchestrator.Run(ctx, opts)
	if err != nil {
		if errors.Is(err, domain.ErrTrackingDisabled) {
			return errors.New("sync failed: --resume needs run tracking, enable it with ETL_META=on")
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	printReport(cmd, report)
	if code := report.ExitCode(); code != 0 {
		return &ExitError{Code: code, Err: report.Err()}
	}
	return nil
}

func printReport(cmd *cobra.Command, report *domain.RunReport) {
	title := "Sync finished"
	if report.DryRun {
		title = "Dry run finished"
	}
	cmd.Println(titleStyle.Render(title))
	if report.RunID != "" {
		cmd.Printf("Run:      %s\n", report.RunID)
	}
	if report.ResumedFrom != "" {
		cmd.Printf("Resumed:  %s\n", report.ResumedFrom)
	}
	cmd.Printf("Duration: %s\n\n", report.Duration.Round(time.Millisecond))

	if len(report.Results) == 0 {
		cmd.Println(mutedStyle.Render("Nothing to sync."))
		return
	}

	cmd.Printf("%-14s %-10s %8s %8s %6s\n", "ENTITY", "STATUS", "ITEMS", "DROPPED", "PAGES")
	for _, r := range report.Results {
		cmd.Printf("%-14s %s %8d %8d %6d\n", r.Entity, statusLabel(string(r.Status), 10), r.Items, r.Dropped, r.Pages)
	}
	if len(report.Skipped) > 0 {
		cmd.Printf("\n%s %s\n", warningStyle.Render("Skipped:"), strings.Join(report.Skipped, ", "))
	}
	if failed := report.Failed(); len(failed) > 0 {
		cmd.Println()
		cmd.Println(errorStyle.Render("Failed entities:"))
		for _, f := range failed {
			reason := "failed"
			if f.Err != nil {
				reason = f.Err.Error()
			}
			cmd.Printf("  %s: %s\n", f.Entity, reason)
		}
	}
	cmd.Printf("\n%s\n", report.Notes())
}
