package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/core/ports/driving"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// DefaultRetention is how long finished runs are kept by the prune task.
const DefaultRetention = 30 * 24 * time.Hour

// Scheduler manages background task execution for "keapsync serve".
type Scheduler struct {
	config    domain.SchedulerConfig
	store     driven.SchedulerStore
	syncOrch  driving.SyncOrchestrator
	telemetry driven.TelemetryStore
	syncOpts  domain.SyncOptions
	retention time.Duration
	tick      time.Duration

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler with configuration.
// telemetry may be nil, in which case the prune task does nothing.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	syncOrch driving.SyncOrchestrator,
	telemetry driven.TelemetryStore,
) *Scheduler {
	return &Scheduler{
		config:    config,
		store:     store,
		syncOrch:  syncOrch,
		telemetry: telemetry,
		syncOpts:  domain.SyncOptions{ContinueOnError: true},
		retention: DefaultRetention,
		tick:      time.Minute,
		inFlight:  make(map[string]bool),
	}
}

// SetSyncOptions sets the options used by the entity-sync task.
func (s *Scheduler) SetSyncOptions(opts domain.SyncOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncOpts = opts
}

// SetRetention sets how long finished runs are kept.
func (s *Scheduler) SetRetention(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.retention = d
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	// Initialise tasks in store
	if err := s.initialiseTasks(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise tasks: %v", err)
	}

	return s.run(ctx)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()

	return nil
}

// SetInterval changes a task's interval and reschedules it from now.
func (s *Scheduler) SetInterval(taskID string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	s.config = s.config.WithInterval(taskID, interval)
	s.mu.Unlock()

	ctx := context.Background()
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	task.Interval = interval
	task.NextRun = time.Now().Add(interval)
	logger.Info("scheduler: %s interval set to %s", taskID, interval)
	return s.store.SaveTask(ctx, task)
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	tasks := []struct{ id, name string }{
		{domain.TaskIDEntitySync, "Entity Sync"},
		{domain.TaskIDTelemetryPrune, "Telemetry Prune"},
	}
	for _, t := range tasks {
		s.mu.Lock()
		cfg := s.config.GetTaskConfig(t.id)
		s.mu.Unlock()
		if !cfg.Enabled {
			continue
		}
		if err := s.ensureTask(ctx, t.id, t.name, cfg); err != nil {
			return err
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task == nil {
		// New tasks run immediately on first start.
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  cfg.Enabled,
		}
	} else {
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			task.NextRun = time.Now().Add(cfg.Interval)
		}
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) error {
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list tasks: %v", err)
		return
	}

	now := time.Now()
	for i := range tasks {
		if tasks[i].Due(now) {
			s.runTask(ctx, &tasks[i])
		}
	}
}

// runTask executes a single task unless it is still running from an earlier tick.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.mu.Lock()
	if s.inFlight[task.ID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[task.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, task.ID)
			s.mu.Unlock()
		}()

		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: time.Now(),
		}

		var err error
		switch task.ID {
		case domain.TaskIDEntitySync:
			err = s.runEntitySync(ctx, result)
		case domain.TaskIDTelemetryPrune:
			result.ItemsProcessed, err = s.runTelemetryPrune(ctx)
		default:
			logger.Warn("scheduler: unknown task ID: %s", task.ID)
			return
		}

		result.EndedAt = time.Now()
		if err != nil {
			result.Error = err.Error()
			task.LastError = err.Error()
			logger.Warn("scheduler: task %s failed: %v", task.ID, err)
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
			logger.Info("scheduler: %s", result.Summary())
		}

		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)

		if saveErr := s.store.SaveTask(ctx, task); saveErr != nil {
			logger.Warn("scheduler: failed to save task %s: %v", task.ID, saveErr)
		}
		if recordErr := s.store.RecordResult(ctx, result); recordErr != nil {
			logger.Warn("scheduler: failed to record result for %s: %v", task.ID, recordErr)
		}

		// Keep the last 100 results per task
		if pruneErr := s.store.PruneHistory(ctx, 100); pruneErr != nil {
			logger.Warn("scheduler: failed to prune history: %v", pruneErr)
		}
	}()
}

// runEntitySync runs a full multi-entity sync and records its run on result.
// A cancelled run still reports the items it committed.
func (s *Scheduler) runEntitySync(ctx context.Context, result *domain.TaskResult) error {
	if s.syncOrch == nil {
		return nil
	}

	s.mu.Lock()
	opts := s.syncOpts
	s.mu.Unlock()

	report, err := s.syncOrch.Run(ctx, opts)
	if report != nil {
		result.RunID = report.RunID
		result.ItemsProcessed = report.TotalItems()
		for _, r := range report.Failed() {
			result.FailedEntities = append(result.FailedEntities, r.Entity)
		}
	}
	if err != nil {
		return err
	}
	return report.Err()
}

// runTelemetryPrune removes finished runs older than the retention window.
func (s *Scheduler) runTelemetryPrune(ctx context.Context) (int, error) {
	if s.telemetry == nil {
		return 0, nil
	}

	s.mu.Lock()
	cutoff := time.Now().Add(-s.retention)
	s.mu.Unlock()

	n, err := s.telemetry.PruneRuns(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	logger.Info("scheduler: pruned %d runs older than %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}
