package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/keapsync/internal/config"
	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/core/ports/driving"
	"github.com/custodia-labs/keapsync/internal/core/services"
)

// mockSyncOrchestrator implements driving.SyncOrchestrator for testing.
type mockSyncOrchestrator struct {
	calls  int
	opts   domain.SyncOptions
	report *domain.RunReport
	err    error
}

func (m *mockSyncOrchestrator) SyncEntity(
	_ context.Context, _ string, spec domain.EntitySpec, _ domain.SyncOptions,
) (domain.EntityResult, error) {
	return domain.EntityResult{Entity: spec.Name, Status: domain.ProgressCompleted}, nil
}

func (m *mockSyncOrchestrator) Run(_ context.Context, opts domain.SyncOptions) (*domain.RunReport, error) {
	m.calls++
	m.opts = opts
	if m.err != nil {
		return nil, m.err
	}
	if m.report != nil {
		return m.report, nil
	}
	return &domain.RunReport{RunID: "run-1", DryRun: opts.DryRun}, nil
}

func (m *mockSyncOrchestrator) Status(_ string) (*driving.SyncStatus, error) {
	return nil, nil
}

// mockScheduler implements scheduleRunner for testing.
type mockScheduler struct {
	started   int
	stopped   int
	intervals map[string]time.Duration
	retention time.Duration
	startErr  error
}

func (m *mockScheduler) Start(ctx context.Context) error {
	m.started++
	if m.startErr != nil {
		return m.startErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockScheduler) Stop() error {
	m.stopped++
	return nil
}

func (m *mockScheduler) SetInterval(taskID string, d time.Duration) error {
	if m.intervals == nil {
		m.intervals = make(map[string]time.Duration)
	}
	m.intervals[taskID] = d
	return nil
}

func (m *mockScheduler) SetRetention(d time.Duration) {
	m.retention = d
}

// testEnv holds the services installed for one test.
type testEnv struct {
	sync        *mockSyncOrchestrator
	telemetry   *memory.TelemetryStore
	checkpoints *memory.CheckpointStore
	tracker     *services.RunTracker
	scheduler   *mockScheduler
}

// setupServices installs in-memory services and restores the previous
// package state when the test ends.
func setupServices(t *testing.T) *testEnv {
	t.Helper()

	oldSync, oldTracker, oldTelemetry, oldCheckpoints, oldScheduler :=
		syncOrchestrator, runTracker, telemetryStore, checkpointStore, scheduler
	oldFactory, oldClose := servicesFactory, closeServices
	oldConfig, oldLoader, oldStore := appConfig, configLoader, configStore
	t.Cleanup(func() {
		syncOrchestrator, runTracker, telemetryStore, checkpointStore, scheduler =
			oldSync, oldTracker, oldTelemetry, oldCheckpoints, oldScheduler
		servicesFactory, closeServices = oldFactory, oldClose
		appConfig, configLoader, configStore = oldConfig, oldLoader, oldStore
	})
	resetFlags()

	telemetry := memory.NewTelemetryStore()
	env := &testEnv{
		sync:        &mockSyncOrchestrator{},
		telemetry:   telemetry,
		checkpoints: memory.NewCheckpointStore(telemetry),
		tracker:     services.NewRunTracker(services.TrackerConfig{Enabled: true}, telemetry),
		scheduler:   &mockScheduler{},
	}
	syncOrchestrator = env.sync
	runTracker = env.tracker
	telemetryStore = env.telemetry
	checkpointStore = env.checkpoints
	scheduler = env.scheduler
	servicesFactory = nil
	closeServices = nil
	appConfig = config.Config{}
	configLoader = nil
	configStore = nil
	return env
}

// clearServices leaves every service unset.
func clearServices(t *testing.T) {
	t.Helper()
	setupServices(t)
	syncOrchestrator, runTracker, telemetryStore, checkpointStore, scheduler = nil, nil, nil, nil, nil
}

// resetFlags restores flag defaults; cobra keeps values between Execute calls.
func resetFlags() {
	syncDryRun, syncSince, syncEntities = false, "", nil
	syncContinueOnError, syncResume, syncPageSize = false, false, 0
	runsListLimit, runsPruneDays = 20, 30
	checkpointsClearAll = false
	authLoginCode, authLoginNoBrowser, authLoginTimeout = "", false, 5*time.Minute
	verbose = false
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

// executeContext is execute with a caller-supplied context.
func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}

// seedRun records a finished run with one entity and one request.
func seedRun(t *testing.T, env *testEnv, status domain.RunStatus) string {
	t.Helper()
	ctx := context.Background()
	id, ok := env.tracker.Start(ctx, "test run")
	if !ok {
		t.Fatal("tracker did not start a run")
	}
	env.tracker.UpdateProgress(ctx, id, domain.EntityProgress{
		Entity:         "contacts",
		Status:         domain.ProgressCompleted,
		LastPageOffset: 1000,
		ItemsProcessed: 1500,
	})
	env.tracker.LogSourceCount(ctx, id, "contacts", 1500)
	env.tracker.LogRequest(ctx, id, domain.RequestMetric{
		Entity:     "contacts",
		Endpoint:   "/crm/rest/v1/contacts",
		HTTPStatus: 200,
		ItemCount:  1000,
		Duration:   250 * time.Millisecond,
	})
	env.tracker.Finish(ctx, id, status, "Completed: 1/1 entities, 1500 records")
	return id
}

var (
	_ driving.SyncOrchestrator = (*mockSyncOrchestrator)(nil)
	_ scheduleRunner           = (*mockScheduler)(nil)
	_ driven.TelemetryStore    = (*memory.TelemetryStore)(nil)
)
