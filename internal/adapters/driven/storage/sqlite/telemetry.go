package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// telemetryStore implements driven.TelemetryStore.
type telemetryStore struct {
	store *Store
}

var _ driven.TelemetryStore = (*telemetryStore)(nil)

// CreateRun inserts a new run.
func (s *telemetryStore) CreateRun(ctx context.Context, run *domain.SyncRun) error {
	if run == nil || run.ID == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, finished_at, status, notes)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, formatTime(run.StartedAt), formatTimePtr(run.FinishedAt), string(run.Status), nullString(run.Notes))
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// FinishRun sets the terminal status of a run.
func (s *telemetryStore) FinishRun(
	ctx context.Context, runID string, status domain.RunStatus, finishedAt time.Time, notes string,
) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, finished_at = ?, notes = ? WHERE id = ?
	`, string(status), formatTime(finishedAt), nullString(notes), runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const selectRunSQL = `SELECT id, started_at, finished_at, status, notes FROM sync_runs`

// GetRun retrieves a run by ID.
func (s *telemetryStore) GetRun(ctx context.Context, runID string) (*domain.SyncRun, error) {
	run, err := scanRun(s.store.db.QueryRowContext(ctx, selectRunSQL+" WHERE id = ?", runID))
	if isNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *telemetryStore) ListRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, selectRunSQL+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.SyncRun //nolint:prealloc // size unknown from query
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// LatestRunning returns the newest run still marked running, other than
// excludeID, that has at least one entity left to finish.
func (s *telemetryStore) LatestRunning(ctx context.Context, excludeID string) (*domain.SyncRun, error) {
	run, err := scanRun(s.store.db.QueryRowContext(ctx,
		selectRunSQL+` WHERE status = ? AND id != ?
		AND EXISTS (SELECT 1 FROM entity_progress p WHERE p.run_id = sync_runs.id AND p.status <> ?)
		ORDER BY started_at DESC LIMIT 1`,
		string(domain.RunRunning), excludeID, string(domain.ProgressCompleted)))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

// UpsertProgress stores the progress row for (run, entity).
func (s *telemetryStore) UpsertProgress(ctx context.Context, p *domain.EntityProgress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO entity_progress (run_id, entity, status, last_page_offset, items_processed, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, entity) DO UPDATE SET
			status = excluded.status,
			last_page_offset = excluded.last_page_offset,
			items_processed = excluded.items_processed,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, p.RunID, p.Entity, string(p.Status), p.LastPageOffset, p.ItemsProcessed,
		nullString(p.ErrorMessage), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	return nil
}

// ListProgress returns the progress rows of a run in insertion order.
func (s *telemetryStore) ListProgress(ctx context.Context, runID string) ([]domain.EntityProgress, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT run_id, entity, status, last_page_offset, items_processed, error_message, updated_at
		FROM entity_progress WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying progress: %w", err)
	}
	defer rows.Close()

	var out []domain.EntityProgress //nolint:prealloc // size unknown from query
	for rows.Next() {
		var p domain.EntityProgress
		var status string
		var errMsg, updatedAt sql.NullString
		if err := rows.Scan(&p.RunID, &p.Entity, &status, &p.LastPageOffset, &p.ItemsProcessed,
			&errMsg, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		p.Status = domain.ProgressStatus(status)
		p.ErrorMessage = errMsg.String
		p.UpdatedAt = parseNullableTime(updatedAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating progress: %w", err)
	}
	return out, nil
}

// RecordRequest appends a request metric.
func (s *telemetryStore) RecordRequest(ctx context.Context, m *domain.RequestMetric) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO request_metrics (run_id, entity, endpoint, page_offset, page_limit, http_status,
			item_count, duration_ms, throttle_remaining, throttle_type, retry_count, response_size,
			error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.RunID, m.Entity, m.Endpoint, m.PageOffset, m.PageLimit, m.HTTPStatus,
		m.ItemCount, m.Duration.Milliseconds(), nullInt(m.ThrottleRemaining), nullString(m.ThrottleType),
		m.RetryCount, m.ResponseSize, nullString(m.Error), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording request: %w", err)
	}
	return nil
}

// RecordThrottle appends a throttle event.
func (s *telemetryStore) RecordThrottle(ctx context.Context, e *domain.ThrottleEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO throttle_events (run_id, entity, endpoint, type, remaining, wait_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Entity, e.Endpoint, e.Type, e.Remaining, e.Wait.Milliseconds(), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording throttle: %w", err)
	}
	return nil
}

// RecordError appends an error event.
func (s *telemetryStore) RecordError(ctx context.Context, e *domain.ErrorEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var errCtx any
	if len(e.Context) > 0 {
		b, err := json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("marshalling error context: %w", err)
		}
		errCtx = string(b)
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO error_events (run_id, entity, endpoint, error_type, message, context, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Entity, nullString(e.Endpoint), e.ErrorType, e.Message, errCtx, e.RetryCount,
		formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording error: %w", err)
	}
	return nil
}

// RecordSourceCount stores the source item count for (run, entity).
func (s *telemetryStore) RecordSourceCount(ctx context.Context, runID, entity string, count int) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO source_counts (run_id, entity, count) VALUES (?, ?, ?)
		ON CONFLICT(run_id, entity) DO UPDATE SET count = excluded.count
	`, runID, entity, count)
	if err != nil {
		return fmt.Errorf("recording source count: %w", err)
	}
	return nil
}

// SourceCounts returns the source counts of a run.
func (s *telemetryStore) SourceCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.store.db.QueryContext(ctx, "SELECT entity, count FROM source_counts WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("querying source counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var entity string
		var n int
		if err := rows.Scan(&entity, &n); err != nil {
			return nil, fmt.Errorf("scanning source count: %w", err)
		}
		counts[entity] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating source counts: %w", err)
	}
	return counts, nil
}

// RunMetrics aggregates the request metrics of a run.
func (s *telemetryStore) RunMetrics(ctx context.Context, runID string) (*domain.RunMetrics, error) {
	var m domain.RunMetrics
	err := s.store.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(item_count), 0),
			COALESCE(SUM(duration_ms), 0),
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN throttle_type IS NOT NULL OR http_status = 429 THEN 1 ELSE 0 END), 0)
		FROM request_metrics WHERE run_id = ?
	`, runID).Scan(&m.TotalRequests, &m.TotalItems, &m.TotalDurationMS, &m.ErrorCount, &m.ThrottleCount)
	if err != nil {
		return nil, fmt.Errorf("aggregating metrics: %w", err)
	}
	return &m, nil
}

// PruneRuns deletes finished runs started before the cutoff. Child rows
// go with them through ON DELETE CASCADE.
func (s *telemetryStore) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM sync_runs WHERE status != ? AND started_at < ?
	`, string(domain.RunRunning), formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return int(n), nil
}

func scanRun(row rowScanner) (*domain.SyncRun, error) {
	var run domain.SyncRun
	var startedAt, status string
	var finishedAt, notes sql.NullString
	if err := row.Scan(&run.ID, &startedAt, &finishedAt, &status, &notes); err != nil {
		return nil, err
	}
	run.StartedAt = parseNullableTime(sql.NullString{String: startedAt, Valid: true})
	run.FinishedAt = parseTimePtr(finishedAt)
	run.Status = domain.RunStatus(status)
	run.Notes = notes.String
	return &run, nil
}
