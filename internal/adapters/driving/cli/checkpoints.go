package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and reset pagination checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored checkpoints",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointsList,
}

var checkpointsClearCmd = &cobra.Command{
	Use:   "clear [entity...]",
	Short: "Delete checkpoints so the next sync starts from the first page",
	Long: `Deletes the checkpoints of the named entities, or of every entity when
--all is given.`,
	RunE: runCheckpointsClear,
}

var checkpointsClearAll bool

func init() {
	checkpointsClearCmd.Flags().BoolVar(&checkpointsClearAll, "all", false, "Clear every checkpoint")

	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsClearCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

func runCheckpointsList(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if checkpointStore == nil {
		return errors.New("checkpoint store not configured")
	}

	cps, err := checkpointStore.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(cps) == 0 {
		cmd.Println("No checkpoints stored.")
		return nil
	}

	cmd.Printf("%-14s %-6s %9s %7s %9s  %-20s  %s\n", "ENTITY", "KIND", "LAST PAGE", "LIMIT", "RECORDS", "UPDATED", "RUN")
	for _, cp := range cps {
		if cp.Kind != domain.CheckpointPage {
			cmd.Printf("%-14s %-6s %s\n", cp.Entity, cp.Kind, string(cp.Payload))
			continue
		}
		p, err := cp.PagePayload()
		if err != nil {
			cmd.Printf("%-14s %-6s %s\n", cp.Entity, cp.Kind, errorStyle.Render(err.Error()))
			continue
		}
		cmd.Printf("%-14s %-6s %9d %7d %9d  %-20s  %s\n",
			cp.Entity, cp.Kind, p.LastPage, p.PageLimit, p.TotalRecords,
			cp.UpdatedAt.Local().Format("2006-01-02 15:04:05"), cp.RunID)
	}
	return nil
}

func runCheckpointsClear(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !checkpointsClearAll {
		return fmt.Errorf("%w: name one or more entities or pass --all", domain.ErrInvalidInput)
	}
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if checkpointStore == nil {
		return errors.New("checkpoint store not configured")
	}

	entities := args
	if checkpointsClearAll {
		cps, err := checkpointStore.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list checkpoints: %w", err)
		}
		entities = entities[:0:0]
		for _, cp := range cps {
			entities = append(entities, cp.Entity)
		}
	}

	cleared := 0
	seen := make(map[string]bool)
	for _, entity := range entities {
		if seen[entity] {
			continue
		}
		seen[entity] = true
		if err := checkpointStore.Delete(cmd.Context(), entity); err != nil {
			return fmt.Errorf("failed to clear checkpoint for %s: %w", entity, err)
		}
		cleared++
	}
	cmd.Printf("Cleared checkpoints for %d entit%s.\n", cleared, plural(cleared, "y", "ies"))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
