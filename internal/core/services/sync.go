package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/core/ports/driving"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// DefaultPageSize is the page limit used when none is configured.
const DefaultPageSize = 1000

// SyncConfig holds the orchestrator's tunables.
type SyncConfig struct {
	PageSize  int
	BatchSize int
	Retry     RetryConfig
}

// SyncOrchestrator pulls entities from the record source into the sink.
type SyncOrchestrator struct {
	source      driven.RecordSource
	checkpoints driven.CheckpointStore
	upserter    *Upserter
	tracker     driving.RunTracker
	policy      *RetryPolicy
	entities    []domain.EntitySpec
	pageSize    int

	// Status tracking
	mu          sync.RWMutex
	activeSyncs map[string]*driving.SyncStatus
}

// NewSyncOrchestrator creates a sync orchestrator over the given entities.
// A nil tracker disables run tracking.
func NewSyncOrchestrator(
	source driven.RecordSource,
	sink driven.RecordSink,
	checkpoints driven.CheckpointStore,
	tracker driving.RunTracker,
	entities []domain.EntitySpec,
	cfg SyncConfig,
) *SyncOrchestrator {
	if tracker == nil {
		tracker = NewRunTracker(TrackerConfig{}, nil)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &SyncOrchestrator{
		source:      source,
		checkpoints: checkpoints,
		upserter:    NewUpserter(sink, cfg.BatchSize),
		tracker:     tracker,
		policy:      NewRetryPolicy(cfg.Retry),
		entities:    entities,
		pageSize:    cfg.PageSize,
		activeSyncs: make(map[string]*driving.SyncStatus),
	}
}

// Tracker returns the run tracker in use.
func (o *SyncOrchestrator) Tracker() driving.RunTracker {
	return o.tracker
}

// Entities returns the registered entity specs in sync order.
func (o *SyncOrchestrator) Entities() []domain.EntitySpec {
	return o.entities
}

// RetryPolicy returns the retry policy shared by all pagers.
func (o *SyncOrchestrator) RetryPolicy() *RetryPolicy {
	return o.policy
}

// SyncEntity runs the fetch, transform and upsert loop for one entity.
//
// Without opts.Since every page is upserted and checkpointed before the
// next request. With opts.Since pages are held in memory, filtered after
// the loop and only then upserted; such a run starts at page 0 and neither
// reads nor clears the page checkpoint. A dry run fetches a single page and
// writes nothing.
//
//nolint:gocyclo // Orchestration function with necessary sequential steps
func (o *SyncOrchestrator) SyncEntity(
	ctx context.Context,
	runID string,
	spec domain.EntitySpec,
	opts domain.SyncOptions,
) (domain.EntityResult, error) {
	started := time.Now()
	res := domain.EntityResult{Entity: spec.Name, Status: domain.ProgressRunning, DryRun: opts.DryRun}

	status := &driving.SyncStatus{Entity: spec.Name, Running: true}
	if !o.setStatus(spec.Name, status) {
		res.Status = domain.ProgressFailed
		res.Err = &domain.EntityError{Entity: spec.Name, Err: domain.ErrSyncInProgress}
		return res, res.Err
	}
	defer o.clearStatus(spec.Name)

	lastOffset, total := 0, 0
	fail := func(err error) (domain.EntityResult, error) {
		res.Duration = time.Since(started)
		res.Err = &domain.EntityError{Entity: spec.Name, Err: err}
		logger.Event("sync_end",
			"entity", spec.Name,
			"run_id", runID,
			"success", false,
			"items", res.Items,
			"duration_ms", res.Duration.Milliseconds(),
			"error", err.Error(),
		)
		// An interrupted entity stays running so resume picks it up.
		if ctx.Err() != nil {
			return res, res.Err
		}
		res.Status = domain.ProgressFailed
		o.tracker.UpdateProgress(ctx, runID, domain.EntityProgress{
			Entity:         spec.Name,
			Status:         domain.ProgressFailed,
			LastPageOffset: lastOffset,
			ItemsProcessed: total,
			ErrorMessage:   err.Error(),
		})
		return res, res.Err
	}

	if spec.Transform == nil {
		return fail(fmt.Errorf("%w: no transform for %s", domain.ErrInvalidInput, spec.Name))
	}

	limit := o.pageSize
	if opts.PageSize > 0 {
		limit = opts.PageSize
	}

	logger.Event("sync_start",
		"entity", spec.Name,
		"run_id", runID,
		"dry_run", opts.DryRun,
		"since", formatSince(opts.Since),
	)
	o.tracker.UpdateProgress(ctx, runID, domain.EntityProgress{Entity: spec.Name, Status: domain.ProgressRunning})

	buffered := opts.Since != nil && !opts.DryRun

	// 1. Resume point
	startPage := 0
	var cp *domain.Checkpoint
	if !buffered {
		var err error
		if cp, err = o.checkpoints.GetLast(ctx, spec.Name, domain.CheckpointPage); err != nil {
			return fail(fmt.Errorf("get checkpoint: %w", err))
		}
	}
	if cp != nil {
		payload, err := cp.PagePayload()
		if err != nil {
			logger.Warn("ignoring unreadable checkpoint for %s: %v", spec.Name, err)
		} else {
			startPage = payload.LastPage + 1
			limit = payload.PageLimit
			total = payload.TotalRecords
			res.Resumed = true
			logger.Event("resume",
				"entity", spec.Name,
				"run_id", runID,
				"from_run", cp.RunID,
				"last_page", payload.LastPage,
				"offset", payload.NextOffset(),
				"total_records", payload.TotalRecords,
			)
		}
	}

	pager := NewPager(o.source, o.policy, o.tracker, PagerOptions{
		RunID:      runID,
		Spec:       spec,
		StartPage:  startPage,
		Limit:      limit,
		SinglePage: opts.DryRun,
	})
	lastOffset = startPage * limit

	// 2. Fetch, transform, upsert
	var pending []domain.NormalizedRecord
	fetched := 0

	for {
		page, err := pager.Next(ctx)
		if errors.Is(err, domain.ErrNoMorePages) {
			break
		}
		if err != nil {
			return fail(err)
		}
		res.Pages++
		fetched += len(page.Items)
		lastOffset = page.Offset

		tr := TransformItems(spec.Name, spec.Transform, page.Items)
		for _, terr := range tr.Errors {
			res.Dropped++
			o.updateStatus(spec.Name, total, 1)
			logger.Event("transform_error",
				"entity", spec.Name,
				"record_id", terr.RecordID,
				"error", terr.Err.Error(),
			)
			o.tracker.LogError(ctx, runID, domain.ErrorEvent{
				Entity:    spec.Name,
				Endpoint:  spec.Endpoint,
				ErrorType: domain.ErrorTypeTransform,
				Message:   terr.Error(),
				Context:   map[string]any{"record_id": terr.RecordID, "offset": page.Offset},
			})
		}

		switch {
		case opts.DryRun:
			res.Items += len(tr.Records)
			logger.Info("dry run: would process %d %s records", len(tr.Records), spec.Name)

		case buffered:
			pending = append(pending, tr.Records...)
			o.tracker.UpdateProgress(ctx, runID, domain.EntityProgress{
				Entity:         spec.Name,
				Status:         domain.ProgressRunning,
				LastPageOffset: page.Offset,
			})

		default:
			n, err := o.upserter.Apply(ctx, spec.Name, tr.Records)
			res.Items += n
			total += n
			o.updateStatus(spec.Name, total, 0)
			if err != nil {
				o.logPersistError(ctx, runID, spec, err)
				return fail(err)
			}

			next, err := domain.NewPageCheckpoint(spec.Name, runID, domain.PageCheckpoint{
				LastPage:        page.Index,
				PageLimit:       limit,
				TotalRecords:    total,
				LastPageRecords: len(page.Items),
			})
			if err == nil {
				err = o.checkpoints.Save(ctx, next)
			}
			if err != nil {
				return fail(fmt.Errorf("save checkpoint: %w", err))
			}

			o.tracker.UpdateProgress(ctx, runID, domain.EntityProgress{
				Entity:         spec.Name,
				Status:         domain.ProgressRunning,
				LastPageOffset: page.Offset,
				ItemsProcessed: total,
			})
		}
	}

	// 3. Date filter, then upsert what is left
	if buffered {
		kept, dropped := FilterSince(pending, *opts.Since)
		logger.Info("%s: %d of %d records modified since %s", spec.Name, len(kept), len(pending), formatSince(opts.Since))
		n, err := o.upserter.Apply(ctx, spec.Name, kept)
		res.Items += n
		total += n
		o.updateStatus(spec.Name, total, 0)
		if err != nil {
			o.logPersistError(ctx, runID, spec, err)
			return fail(err)
		}
		logger.Debug("%s: filtered out %d records older than cutoff", spec.Name, dropped)
	}

	// 4. Completion
	if !opts.DryRun && !buffered {
		if err := o.checkpoints.Delete(ctx, spec.Name); err != nil {
			return fail(fmt.Errorf("clear checkpoint: %w", err))
		}
	}

	res.Status = domain.ProgressCompleted
	res.Duration = time.Since(started)
	o.tracker.LogSourceCount(ctx, runID, spec.Name, fetched)
	o.tracker.UpdateProgress(ctx, runID, domain.EntityProgress{
		Entity:         spec.Name,
		Status:         domain.ProgressCompleted,
		LastPageOffset: lastOffset,
		ItemsProcessed: total,
	})

	logger.Event("sync_end",
		"entity", spec.Name,
		"run_id", runID,
		"success", true,
		"items", res.Items,
		"pages", res.Pages,
		"dropped", res.Dropped,
		"dry_run", opts.DryRun,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (o *SyncOrchestrator) logPersistError(ctx context.Context, runID string, spec domain.EntitySpec, err error) {
	o.tracker.LogError(ctx, runID, domain.ErrorEvent{
		Entity:    spec.Name,
		Endpoint:  spec.Endpoint,
		ErrorType: domain.ErrorTypePersist,
		Message:   err.Error(),
	})
}

// Status returns the live status of an entity sync.
func (o *SyncOrchestrator) Status(entity string) (*driving.SyncStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if st, ok := o.activeSyncs[entity]; ok {
		cp := *st
		return &cp, nil
	}
	return &driving.SyncStatus{Entity: entity}, nil
}

// setStatus registers an active sync. It returns false if one is already running.
func (o *SyncOrchestrator) setStatus(entity string, status *driving.SyncStatus) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.activeSyncs[entity]; ok {
		return false
	}
	o.activeSyncs[entity] = status
	return true
}

func (o *SyncOrchestrator) updateStatus(entity string, items, newErrors int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.activeSyncs[entity]; ok {
		st.ItemsProcessed = items
		st.ErrorCount += newErrors
	}
}

func (o *SyncOrchestrator) clearStatus(entity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeSyncs, entity)
}

func formatSince(since *time.Time) string {
	if since == nil {
		return ""
	}
	return since.UTC().Format(time.RFC3339)
}
