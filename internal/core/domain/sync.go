package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SyncOptions are the orchestrator parameters. The CLI flags map 1:1 onto them.
type SyncOptions struct {
	// DryRun fetches exactly one page per entity and persists nothing.
	DryRun bool

	// Since enables client-side filtering on created/updated timestamps.
	Since *time.Time

	// Entities restricts the run to a subset. Empty means all.
	Entities []string

	// ContinueOnError keeps going after an entity fails.
	ContinueOnError bool

	// Resume restricts the run to the unfinished entities of the latest interrupted run.
	Resume bool

	// PageSize overrides the configured page limit when > 0.
	PageSize int
}

// EntityResult is the outcome of syncing one entity.
type EntityResult struct {
	Entity   string
	Status   ProgressStatus
	Items    int
	Dropped  int
	Pages    int
	Duration time.Duration
	DryRun   bool
	Resumed  bool
	Err      error
}

// Failed reports whether the entity ended in the failed state.
func (r *EntityResult) Failed() bool {
	return r.Status == ProgressFailed
}

// RunReport is the outcome of a multi-entity run.
type RunReport struct {
	RunID       string
	ResumedFrom string
	DryRun      bool
	StartedAt   time.Time
	Duration    time.Duration
	Results     []EntityResult
	// Skipped lists entities not attempted because an earlier one failed.
	Skipped []string
}

// Failed returns the results of failed entities.
func (r *RunReport) Failed() []EntityResult {
	var failed []EntityResult
	for _, res := range r.Results {
		if res.Failed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// TotalItems is the sum of items processed by successful entities.
func (r *RunReport) TotalItems() int {
	total := 0
	for _, res := range r.Results {
		if !res.Failed() {
			total += res.Items
		}
	}
	return total
}

// Err joins the errors of failed entities, or returns nil.
func (r *RunReport) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		if res.Err != nil {
			errs = append(errs, res.Err)
		} else {
			errs = append(errs, &EntityError{Entity: res.Entity, Err: errors.New("failed")})
		}
	}
	return errors.Join(errs...)
}

// ExitCode is non-zero if any entity failed.
func (r *RunReport) ExitCode() int {
	if len(r.Failed()) > 0 {
		return 1
	}
	return 0
}

// Notes renders a one-line summary stored on the SyncRun.
func (r *RunReport) Notes() string {
	done := len(r.Results) - len(r.Failed())
	notes := fmt.Sprintf("Completed: %d/%d entities, %d records", done, len(r.Results), r.TotalItems())
	if failed := r.Failed(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, f := range failed {
			names = append(names, f.Entity)
		}
		notes += "; failed: " + strings.Join(names, ", ")
	}
	if r.DryRun {
		notes += " (dry run)"
	}
	return notes
}
