package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// schedulerStore implements driven.SchedulerStore for "keapsync serve".
type schedulerStore struct {
	store *Store
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

const selectTaskSQL = `
	SELECT id, name, interval_seconds, last_run, next_run, last_error, last_success, enabled
	FROM scheduled_tasks`

// GetTask retrieves a scheduled task by ID.
// Returns nil and no error if the task does not exist.
func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	task, err := scanScheduledTask(s.store.db.QueryRowContext(ctx, selectTaskSQL+" WHERE id = ?", taskID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning scheduled task: %w", err)
	}
	return task, nil
}

// ListTasks returns all scheduled tasks ordered by ID.
func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.store.db.QueryContext(ctx, selectTaskSQL+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying scheduled tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask //nolint:prealloc // size unknown from query
	for rows.Next() {
		task, err := scanScheduledTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scheduled task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scheduled tasks: %w", err)
	}
	return tasks, nil
}

// SaveTask creates or updates a task.
func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, name, interval_seconds, last_run, next_run, last_error, last_success, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			interval_seconds = excluded.interval_seconds,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			last_error = excluded.last_error,
			last_success = excluded.last_success,
			enabled = excluded.enabled
	`, task.ID, task.Name, int64(task.Interval.Seconds()),
		formatNullableTime(task.LastRun), formatNullableTime(task.NextRun),
		nullString(task.LastError), formatNullableTime(task.LastSuccess),
		boolToInt(task.Enabled))
	if err != nil {
		return fmt.Errorf("saving scheduled task: %w", err)
	}
	return nil
}

// DeleteTask removes a task and its history.
func (s *schedulerStore) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM task_results WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("deleting task history: %w", err)
	}
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE id = ?", taskID); err != nil {
		return fmt.Errorf("deleting scheduled task: %w", err)
	}
	return nil
}

// RecordResult logs a task execution result.
func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, started_at, ended_at, success, error, items_processed, run_id, failed_entities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, result.TaskID, formatTime(result.StartedAt), formatTime(result.EndedAt),
		boolToInt(result.Success), nullString(result.Error), result.ItemsProcessed,
		nullString(result.RunID), nullString(strings.Join(result.FailedEntities, ",")))
	if err != nil {
		return fmt.Errorf("recording task result: %w", err)
	}
	return nil
}

// GetTaskHistory returns recent results for a task, most recent first.
func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT task_id, started_at, ended_at, success, error, items_processed, run_id, failed_entities
		FROM task_results
		WHERE task_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying task history: %w", err)
	}
	defer rows.Close()

	var results []domain.TaskResult //nolint:prealloc // size unknown from query
	for rows.Next() {
		var result domain.TaskResult
		var startedAt, endedAt, errMsg, runID, failed sql.NullString
		var success int
		if err := rows.Scan(&result.TaskID, &startedAt, &endedAt,
			&success, &errMsg, &result.ItemsProcessed, &runID, &failed); err != nil {
			return nil, fmt.Errorf("scanning task result: %w", err)
		}
		result.StartedAt = parseNullableTime(startedAt)
		result.EndedAt = parseNullableTime(endedAt)
		result.Success = success == 1
		result.Error = errMsg.String
		result.RunID = runID.String
		if failed.String != "" {
			result.FailedEntities = strings.Split(failed.String, ",")
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task history: %w", err)
	}
	return results, nil
}

// PruneHistory keeps the most recent keep results per task.
func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM task_results
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY started_at DESC, id DESC) AS rn
				FROM task_results
			) WHERE rn <= ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("pruning task history: %w", err)
	}
	return nil
}

func scanScheduledTask(row rowScanner) (*domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	var intervalSeconds int64
	var lastRun, nextRun, lastError, lastSuccess sql.NullString
	var enabled int

	if err := row.Scan(&task.ID, &task.Name, &intervalSeconds,
		&lastRun, &nextRun, &lastError, &lastSuccess, &enabled); err != nil {
		return nil, err
	}

	task.Interval = time.Duration(intervalSeconds) * time.Second
	task.LastRun = parseNullableTime(lastRun)
	task.NextRun = parseNullableTime(nextRun)
	task.LastError = lastError.String
	task.LastSuccess = parseNullableTime(lastSuccess)
	task.Enabled = enabled == 1
	return &task, nil
}
