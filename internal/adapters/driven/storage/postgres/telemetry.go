package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// telemetryStore implements driven.TelemetryStore.
type telemetryStore struct {
	pool *pgxpool.Pool
}

var _ driven.TelemetryStore = (*telemetryStore)(nil)

// CreateRun inserts a new run.
func (s *telemetryStore) CreateRun(ctx context.Context, run *domain.SyncRun) error {
	if run == nil || run.ID == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, started_at, finished_at, status, notes) VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.StartedAt, run.FinishedAt, string(run.Status), nullable(run.Notes))
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// FinishRun sets the terminal status of a run.
func (s *telemetryStore) FinishRun(
	ctx context.Context, runID string, status domain.RunStatus, finishedAt time.Time, notes string,
) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET status = $1, finished_at = $2, notes = $3 WHERE id = $4
	`, string(status), finishedAt, nullable(notes), runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const selectRunSQL = `SELECT id, started_at, finished_at, status, COALESCE(notes, '') FROM sync_runs`

// GetRun retrieves a run by ID.
func (s *telemetryStore) GetRun(ctx context.Context, runID string) (*domain.SyncRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, selectRunSQL+" WHERE id = $1", runID))
	if isNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (s *telemetryStore) ListRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, selectRunSQL+" ORDER BY started_at DESC LIMIT $1", limitArg)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// LatestRunning returns the newest run still marked running, other than
// excludeID, that has at least one entity left to finish.
func (s *telemetryStore) LatestRunning(ctx context.Context, excludeID string) (*domain.SyncRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		selectRunSQL+` WHERE status = $1 AND id <> $2
		AND EXISTS (SELECT 1 FROM entity_progress p WHERE p.run_id = sync_runs.id AND p.status <> $3)
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_progress (run_id, entity, status, last_page_offset, items_processed, error_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, entity) DO UPDATE SET
			status = EXCLUDED.status,
			last_page_offset = EXCLUDED.last_page_offset,
			items_processed = EXCLUDED.items_processed,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`, p.RunID, p.Entity, string(p.Status), p.LastPageOffset, p.ItemsProcessed, nullable(p.ErrorMessage), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	return nil
}

// ListProgress returns the progress rows of a run in insertion order.
func (s *telemetryStore) ListProgress(ctx context.Context, runID string) ([]domain.EntityProgress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, entity, status, last_page_offset, items_processed, COALESCE(error_message, ''), updated_at
		FROM entity_progress WHERE run_id = $1 ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying progress: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EntityProgress, error) {
		var p domain.EntityProgress
		var status string
		err := row.Scan(&p.RunID, &p.Entity, &status, &p.LastPageOffset, &p.ItemsProcessed, &p.ErrorMessage, &p.UpdatedAt)
		p.Status = domain.ProgressStatus(status)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning progress: %w", err)
	}
	return out, nil
}

// RecordRequest appends a request metric.
func (s *telemetryStore) RecordRequest(ctx context.Context, m *domain.RequestMetric) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO request_metrics (run_id, entity, endpoint, page_offset, page_limit, http_status,
			item_count, duration_ms, throttle_remaining, throttle_type, retry_count, response_size,
			error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, m.RunID, m.Entity, m.Endpoint, m.PageOffset, m.PageLimit, m.HTTPStatus,
		m.ItemCount, m.Duration.Milliseconds(), m.ThrottleRemaining, nullable(m.ThrottleType),
		m.RetryCount, m.ResponseSize, nullable(m.Error), m.CreatedAt)
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO throttle_events (run_id, entity, endpoint, type, remaining, wait_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.RunID, e.Entity, e.Endpoint, e.Type, e.Remaining, e.Wait.Milliseconds(), e.CreatedAt)
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
		errCtx = e.Context
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO error_events (run_id, entity, endpoint, error_type, message, context, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.RunID, e.Entity, nullable(e.Endpoint), e.ErrorType, e.Message, errCtx, e.RetryCount, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording error: %w", err)
	}
	return nil
}

// RecordSourceCount stores the source item count for (run, entity).
func (s *telemetryStore) RecordSourceCount(ctx context.Context, runID, entity string, count int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_counts (run_id, entity, count) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, entity) DO UPDATE SET count = EXCLUDED.count
	`, runID, entity, count)
	if err != nil {
		return fmt.Errorf("recording source count: %w", err)
	}
	return nil
}

// SourceCounts returns the source counts of a run.
func (s *telemetryStore) SourceCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT entity, count FROM source_counts WHERE run_id = $1", runID)
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
	return counts, rows.Err()
}

// RunMetrics aggregates the request metrics of a run.
func (s *telemetryStore) RunMetrics(ctx context.Context, runID string) (*domain.RunMetrics, error) {
	var m domain.RunMetrics
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(item_count), 0),
			COALESCE(SUM(duration_ms), 0),
			COUNT(*) FILTER (WHERE error IS NOT NULL),
			COUNT(*) FILTER (WHERE throttle_type IS NOT NULL OR http_status = 429)
		FROM request_metrics WHERE run_id = $1
	`, runID).Scan(&m.TotalRequests, &m.TotalItems, &m.TotalDurationMS, &m.ErrorCount, &m.ThrottleCount)
	if err != nil {
		return nil, fmt.Errorf("aggregating metrics: %w", err)
	}
	return &m, nil
}

// PruneRuns deletes finished runs started before the cutoff.
func (s *telemetryStore) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sync_runs WHERE status <> $1 AND started_at < $2
	`, string(domain.RunRunning), before)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRun(row pgx.Row) (*domain.SyncRun, error) {
	var run domain.SyncRun
	var status string
	if err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.Notes); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	return &run, nil
}
