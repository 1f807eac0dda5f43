package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driving"
)

// mockSyncOrchestrator implements driving.SyncOrchestrator for testing.
type mockSyncOrchestrator struct {
	mu     sync.Mutex
	runs   int
	opts   []domain.SyncOptions
	report *domain.RunReport
	err    error
}

func (m *mockSyncOrchestrator) SyncEntity(
	_ context.Context, _ string, spec domain.EntitySpec, _ domain.SyncOptions,
) (domain.EntityResult, error) {
	return domain.EntityResult{Entity: spec.Name, Status: domain.ProgressCompleted}, nil
}

func (m *mockSyncOrchestrator) Run(_ context.Context, opts domain.SyncOptions) (*domain.RunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	m.opts = append(m.opts, opts)
	if m.err != nil {
		return nil, m.err
	}
	if m.report != nil {
		return m.report, nil
	}
	return &domain.RunReport{}, nil
}

func (m *mockSyncOrchestrator) Status(entity string) (*driving.SyncStatus, error) {
	return &driving.SyncStatus{Entity: entity}, nil
}

func (m *mockSyncOrchestrator) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func newTestScheduler(orch driving.SyncOrchestrator) (*Scheduler, *memory.SchedulerStore, *memory.TelemetryStore) {
	store := memory.NewSchedulerStore()
	telemetry := memory.NewTelemetryStore()
	s := NewScheduler(domain.DefaultSchedulerConfig(), store, orch, telemetry)
	s.tick = 10 * time.Millisecond
	return s, store, telemetry
}

// startScheduler runs Start in the background and stops it on cleanup.
func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Start(context.Background())
	}()
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
		<-done
	})
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(domain.SchedulerConfig{}, memory.NewSchedulerStore(), nil, nil)
	assert.Equal(t, DefaultRetention, s.retention)
	assert.True(t, s.syncOpts.ContinueOnError)
	assert.Equal(t, time.Minute, s.tick)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s, _, _ := newTestScheduler(nil)
	assert.NoError(t, s.Stop())
}

func TestScheduler_RunsEntitySyncOnFirstStart(t *testing.T) {
	orch := &mockSyncOrchestrator{report: &domain.RunReport{
		RunID: "run-1",
		Results: []domain.EntityResult{
			{Entity: "tags", Status: domain.ProgressCompleted, Items: 4},
			{Entity: "contacts", Status: domain.ProgressCompleted, Items: 6},
		},
	}}
	s, store, _ := newTestScheduler(orch)
	s.SetSyncOptions(domain.SyncOptions{Entities: []string{"tags", "contacts"}})
	startScheduler(t, s)

	require.Eventually(t, func() bool {
		history, _ := store.GetTaskHistory(context.Background(), domain.TaskIDEntitySync, 10)
		return len(history) == 1
	}, time.Second, 5*time.Millisecond)

	history, err := store.GetTaskHistory(context.Background(), domain.TaskIDEntitySync, 10)
	require.NoError(t, err)
	assert.True(t, history[0].Success)
	assert.Equal(t, 10, history[0].ItemsProcessed)
	assert.Equal(t, "run-1", history[0].RunID)
	assert.Empty(t, history[0].FailedEntities)

	task, err := store.GetTask(context.Background(), domain.TaskIDEntitySync)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Empty(t, task.LastError)
	assert.True(t, task.NextRun.After(task.LastRun))

	// The next run is an hour away, so later ticks do nothing.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, orch.runCount())
	orch.mu.Lock()
	assert.Equal(t, []string{"tags", "contacts"}, orch.opts[0].Entities)
	orch.mu.Unlock()
}

func TestScheduler_RecordsFailedSync(t *testing.T) {
	orch := &mockSyncOrchestrator{report: &domain.RunReport{
		RunID: "run-2",
		Results: []domain.EntityResult{
			{Entity: "users", Status: domain.ProgressCompleted, Items: 3},
			{Entity: "tags", Status: domain.ProgressFailed, Err: errors.New("boom")},
		},
	}}
	s, store, _ := newTestScheduler(orch)
	startScheduler(t, s)

	require.Eventually(t, func() bool {
		history, _ := store.GetTaskHistory(context.Background(), domain.TaskIDEntitySync, 1)
		return len(history) == 1
	}, time.Second, 5*time.Millisecond)

	task, err := store.GetTask(context.Background(), domain.TaskIDEntitySync)
	require.NoError(t, err)
	assert.Contains(t, task.LastError, "boom")

	history, err := store.GetTaskHistory(context.Background(), domain.TaskIDEntitySync, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Contains(t, history[0].Error, "boom")
	assert.Equal(t, "run-2", history[0].RunID)
	assert.Equal(t, 3, history[0].ItemsProcessed)
	assert.Equal(t, []string{"tags"}, history[0].FailedEntities)
}

func TestScheduler_PrunesOldRuns(t *testing.T) {
	s, store, telemetry := newTestScheduler(&mockSyncOrchestrator{})
	ctx := context.Background()

	old := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, telemetry.CreateRun(ctx, &domain.SyncRun{ID: "old", StartedAt: old, Status: domain.RunRunning}))
	require.NoError(t, telemetry.FinishRun(ctx, "old", domain.RunSuccess, old.Add(time.Minute), "done"))
	require.NoError(t, telemetry.CreateRun(ctx, &domain.SyncRun{ID: "stuck", StartedAt: old, Status: domain.RunRunning}))
	require.NoError(t, telemetry.CreateRun(ctx, &domain.SyncRun{ID: "recent", StartedAt: time.Now(), Status: domain.RunRunning}))
	require.NoError(t, telemetry.FinishRun(ctx, "recent", domain.RunSuccess, time.Now(), "done"))

	startScheduler(t, s)

	require.Eventually(t, func() bool {
		history, _ := store.GetTaskHistory(ctx, domain.TaskIDTelemetryPrune, 1)
		return len(history) == 1
	}, time.Second, 5*time.Millisecond)

	history, err := store.GetTaskHistory(ctx, domain.TaskIDTelemetryPrune, 1)
	require.NoError(t, err)
	assert.True(t, history[0].Success)
	assert.Equal(t, 1, history[0].ItemsProcessed)

	runs, err := telemetry.ListRuns(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"stuck", "recent"}, ids)
}

func TestScheduler_DisabledTaskIsNotCreated(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	cfg.Tasks[domain.TaskIDTelemetryPrune] = domain.TaskConfig{Enabled: false, Interval: time.Hour}
	store := memory.NewSchedulerStore()
	s := NewScheduler(cfg, store, &mockSyncOrchestrator{}, nil)

	require.NoError(t, s.initialiseTasks(context.Background()))

	tasks, err := store.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskIDEntitySync, tasks[0].ID)
}

func TestScheduler_SetInterval(t *testing.T) {
	s, store, _ := newTestScheduler(&mockSyncOrchestrator{})
	ctx := context.Background()
	require.NoError(t, s.initialiseTasks(ctx))

	before := time.Now()
	require.NoError(t, s.SetInterval(domain.TaskIDEntitySync, 15*time.Minute))

	task, err := store.GetTask(ctx, domain.TaskIDEntitySync)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, task.Interval)
	assert.False(t, task.NextRun.Before(before.Add(15*time.Minute)))
	assert.Equal(t, 15*time.Minute, s.config.GetTaskConfig(domain.TaskIDEntitySync).Interval)
}

func TestScheduler_SetIntervalErrors(t *testing.T) {
	s, _, _ := newTestScheduler(&mockSyncOrchestrator{})

	err := s.SetInterval(domain.TaskIDEntitySync, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = s.SetInterval("no-such-task", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScheduler_EnsureTaskKeepsSchedule(t *testing.T) {
	s, store, _ := newTestScheduler(&mockSyncOrchestrator{})
	ctx := context.Background()

	next := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{
		ID: domain.TaskIDEntitySync, Name: "Entity Sync", Interval: time.Hour, NextRun: next, Enabled: true,
	}))
	require.NoError(t, s.initialiseTasks(ctx))

	task, err := store.GetTask(ctx, domain.TaskIDEntitySync)
	require.NoError(t, err)
	assert.True(t, task.NextRun.Equal(next))
}
