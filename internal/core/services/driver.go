package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// OrderEntities sorts specs so every entity follows the entities it
// depends on. Independent entities keep their given order. Unknown
// dependencies are ignored; cycles are an error.
func OrderEntities(specs []domain.EntitySpec) ([]domain.EntitySpec, error) {
	byName := make(map[string]domain.EntitySpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(specs))
	ordered := make([]domain.EntitySpec, 0, len(specs))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("%w: dependency cycle at %s", domain.ErrInvalidInput, name)
		}
		state[name] = visiting
		for _, dep := range byName[name].DependsOn {
			if _, ok := byName[dep]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = visited
		ordered = append(ordered, byName[name])
		return nil
	}

	for _, s := range specs {
		if err := visit(s.Name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// selectEntities returns the requested specs in sync order.
// An empty selection means every registered entity.
func (o *SyncOrchestrator) selectEntities(names []string) ([]domain.EntitySpec, error) {
	ordered, err := OrderEntities(o.entities)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return ordered, nil
	}

	for _, name := range names {
		if !slices.ContainsFunc(ordered, func(s domain.EntitySpec) bool { return s.Name == name }) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, name)
		}
	}
	return filterSpecs(ordered, names), nil
}

func filterSpecs(specs []domain.EntitySpec, names []string) []domain.EntitySpec {
	out := make([]domain.EntitySpec, 0, len(names))
	for _, s := range specs {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// Run syncs the selected entities one at a time in dependency order.
//
// Entity failures are reported in the RunReport, not as an error. The
// returned error is set for invalid options and for cancellation. A
// cancelled run is left running so a later Resume continues it, except a
// dry run, which has nothing to resume and is finished as an error.
//
// A resume takes over the interrupted run's remaining entities and closes
// that run as superseded before syncing, so a resume that is itself
// interrupted becomes the next resume target.
func (o *SyncOrchestrator) Run(ctx context.Context, opts domain.SyncOptions) (*domain.RunReport, error) {
	specs, err := o.selectEntities(opts.Entities)
	if err != nil {
		return nil, err
	}
	if opts.Resume && !o.tracker.Enabled() {
		return nil, domain.ErrTrackingDisabled
	}

	report := &domain.RunReport{DryRun: opts.DryRun, StartedAt: time.Now()}
	runID, _ := o.tracker.Start(ctx, runNotes(opts))
	report.RunID = runID

	if opts.Resume {
		prevID, ok := o.tracker.LatestInterrupted(ctx, runID)
		if !ok {
			logger.Info("no interrupted run to resume")
			o.finishRun(ctx, report, "nothing to resume")
			return report, nil
		}
		names, err := o.checkpoints.EntitiesNeedingResume(ctx, prevID)
		if err != nil {
			o.tracker.Finish(ctx, runID, domain.RunError, err.Error())
			return nil, fmt.Errorf("entities needing resume: %w", err)
		}
		report.ResumedFrom = prevID
		specs = filterSpecs(specs, names)
		logger.Event("resume", "run_id", runID, "from_run", prevID, "entities", len(specs))
	}

	// Seed pending rows so an interruption before an entity starts still
	// lists it for resume.
	for _, spec := range specs {
		o.tracker.UpdateProgress(ctx, runID, domain.EntityProgress{Entity: spec.Name, Status: domain.ProgressPending})
	}
	if report.ResumedFrom != "" {
		o.tracker.CloseInterrupted(ctx, report.ResumedFrom, domain.RunError, "superseded by "+runID)
	}

	interrupted := func() (*domain.RunReport, error) {
		report.Duration = time.Since(report.StartedAt)
		if opts.DryRun {
			o.tracker.Finish(context.WithoutCancel(ctx), runID, domain.RunError, "dry run interrupted")
		}
		return report, ctx.Err()
	}

	for i, spec := range specs {
		if ctx.Err() != nil {
			return interrupted()
		}

		res, err := o.SyncEntity(ctx, runID, spec, opts)
		report.Results = append(report.Results, res)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return interrupted()
		}
		logger.Error("%v", err)
		if !opts.ContinueOnError {
			for _, rest := range specs[i+1:] {
				report.Skipped = append(report.Skipped, rest.Name)
			}
			break
		}
	}

	o.finishRun(ctx, report, report.Notes())
	return report, nil
}

func (o *SyncOrchestrator) finishRun(ctx context.Context, report *domain.RunReport, notes string) {
	report.Duration = time.Since(report.StartedAt)
	status := domain.RunSuccess
	if report.ExitCode() != 0 {
		status = domain.RunError
	}
	o.tracker.Finish(ctx, report.RunID, status, notes)
}

func runNotes(opts domain.SyncOptions) string {
	switch {
	case opts.Resume:
		return "resume"
	case opts.DryRun:
		return "dry run"
	case opts.Since != nil:
		return "since " + formatSince(opts.Since)
	default:
		return "full sync"
	}
}
