package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// setupTestStore connects to KEAPSYNC_TEST_DATABASE_URL and empties the
// tables. Tests are skipped when the variable is unset.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("KEAPSYNC_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("KEAPSYNC_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := NewStore(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.pool.Exec(ctx, "TRUNCATE records, checkpoints, sync_runs CASCADE")
	require.NoError(t, err)
	return store
}

func TestRecordSink_Upsert(t *testing.T) {
	store := setupTestStore(t)
	sink := store.RecordSink()
	ctx := context.Background()

	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	n, err := sink.UpsertBatch(ctx, "contacts", []domain.NormalizedRecord{
		{ID: "1", Fields: map[string]any{"email": "a@example.com"}, CreatedAt: &created, UpdatedAt: &updated, Raw: []byte(`{"id":1}`)},
		{ID: "2", Fields: map[string]any{"email": "b@example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	later := updated.Add(24 * time.Hour)
	_, err = sink.UpsertBatch(ctx, "contacts", []domain.NormalizedRecord{
		{ID: "1", Fields: map[string]any{"email": "c@example.com"}, UpdatedAt: &later},
	})
	require.NoError(t, err)

	got, err := sink.GetRecord(ctx, "contacts", "1")
	require.NoError(t, err)
	assert.Equal(t, "c@example.com", got.Fields["email"])
	require.NotNil(t, got.CreatedAt)
	assert.True(t, created.Equal(*got.CreatedAt))
	assert.True(t, later.Equal(*got.UpdatedAt))

	count, err := sink.CountRecords(ctx, "contacts")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = sink.GetRecord(ctx, "contacts", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordSink_BatchIsAtomic(t *testing.T) {
	store := setupTestStore(t)
	sink := store.RecordSink()
	ctx := context.Background()

	_, err := sink.UpsertBatch(ctx, "tags", []domain.NormalizedRecord{{ID: "1"}, {ID: ""}})
	assert.ErrorIs(t, err, domain.ErrMissingID)

	count, err := sink.CountRecords(ctx, "tags")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCheckpointStore_Lifecycle(t *testing.T) {
	store := setupTestStore(t)
	checkpoints := store.CheckpointStore()
	ctx := context.Background()

	cp, err := domain.NewPageCheckpoint("orders", "run-1", domain.PageCheckpoint{LastPage: 4, PageLimit: 200, TotalRecords: 1000})
	require.NoError(t, err)
	require.NoError(t, checkpoints.Save(ctx, cp))

	got, err := checkpoints.GetLast(ctx, "orders", domain.CheckpointPage)
	require.NoError(t, err)
	require.NotNil(t, got)
	payload, err := got.PagePayload()
	require.NoError(t, err)
	assert.Equal(t, 1000, payload.NextOffset())

	list, err := checkpoints.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, checkpoints.Delete(ctx, "orders"))
	got, err = checkpoints.GetLast(ctx, "orders", domain.CheckpointPage)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTelemetryStore_ResumeQueries(t *testing.T) {
	store := setupTestStore(t)
	telemetry := store.TelemetryStore()
	ctx := context.Background()

	require.NoError(t, telemetry.CreateRun(ctx, &domain.SyncRun{ID: "a", StartedAt: time.Now().Add(-time.Hour), Status: domain.RunRunning}))
	require.NoError(t, telemetry.CreateRun(ctx, &domain.SyncRun{ID: "b", StartedAt: time.Now(), Status: domain.RunRunning}))
	for _, p := range []domain.EntityProgress{
		{RunID: "a", Entity: "users", Status: domain.ProgressCompleted},
		{RunID: "a", Entity: "tags", Status: domain.ProgressRunning},
		{RunID: "a", Entity: "contacts", Status: domain.ProgressPending},
	} {
		require.NoError(t, telemetry.UpsertProgress(ctx, &p))
	}

	latest, err := telemetry.LatestRunning(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "a", latest.ID)

	names, err := store.CheckpointStore().EntitiesNeedingResume(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"tags", "contacts"}, names)

	require.NoError(t, telemetry.FinishRun(ctx, "a", domain.RunError, time.Now(), "superseded by b"))
	latest, err = telemetry.LatestRunning(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, latest)

	// A running run whose entities all completed is not resumable.
	require.NoError(t, telemetry.CreateRun(ctx, &domain.SyncRun{ID: "c", StartedAt: time.Now(), Status: domain.RunRunning}))
	require.NoError(t, telemetry.UpsertProgress(ctx, &domain.EntityProgress{RunID: "c", Entity: "users", Status: domain.ProgressCompleted}))
	latest, err = telemetry.LatestRunning(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestTelemetryStore_Metrics(t *testing.T) {
	store := setupTestStore(t)
	telemetry := store.TelemetryStore()
	ctx := context.Background()

	require.NoError(t, telemetry.CreateRun(ctx, &domain.SyncRun{ID: "r", StartedAt: time.Now(), Status: domain.RunRunning}))
	remaining := 5
	require.NoError(t, telemetry.RecordRequest(ctx, &domain.RequestMetric{
		RunID: "r", Entity: "tags", Endpoint: "/tags", HTTPStatus: 200, ItemCount: 7,
		Duration: 50 * time.Millisecond, ThrottleRemaining: &remaining, ThrottleType: "product_quota",
	}))
	require.NoError(t, telemetry.RecordRequest(ctx, &domain.RequestMetric{
		RunID: "r", Entity: "tags", Endpoint: "/tags", HTTPStatus: 500, Error: "boom", Duration: 10 * time.Millisecond,
	}))
	require.NoError(t, telemetry.RecordError(ctx, &domain.ErrorEvent{
		RunID: "r", Entity: "tags", ErrorType: domain.ErrorTypeFetch, Message: "boom", Context: map[string]any{"offset": 0},
	}))
	require.NoError(t, telemetry.RecordThrottle(ctx, &domain.ThrottleEvent{RunID: "r", Entity: "tags", Endpoint: "/tags", Type: "product_quota", Remaining: 5, Wait: 5 * time.Second}))
	require.NoError(t, telemetry.RecordSourceCount(ctx, "r", "tags", 7))

	m, err := telemetry.RunMetrics(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, domain.RunMetrics{TotalRequests: 2, TotalItems: 7, TotalDurationMS: 60, ErrorCount: 1, ThrottleCount: 1}, *m)

	counts, err := telemetry.SourceCounts(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tags": 7}, counts)

	require.NoError(t, telemetry.FinishRun(ctx, "r", domain.RunSuccess, time.Now(), ""))
	n, err := telemetry.PruneRuns(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runs, err := telemetry.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
