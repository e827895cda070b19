package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

const taskColumns = `id, task_type, priority, source_type, source_ids, payload, status,
	retry_count, max_retries, scheduled_for, started_at, completed_at,
	result_summary, error_message, created_at`

const requeueMessage = "requeued after interrupted processing"

// EnqueueTask inserts a pending task.
func (s *Store) EnqueueTask(ctx context.Context, task *types.QueueTask) error {
	if task == nil {
		return storage.ErrInvalidInput
	}
	if task.ID == "" {
		return fmt.Errorf("%w: task ID is required", storage.ErrInvalidInput)
	}
	if task.TaskType == "" {
		return fmt.Errorf("%w: task type is required", storage.ErrInvalidInput)
	}
	if len(task.SourceIDs) == 0 {
		return fmt.Errorf("%w: task source_ids must not be empty", storage.ErrInvalidInput)
	}

	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.ScheduledFor.IsZero() {
		task.ScheduledFor = task.CreatedAt
	}
	if task.SourceType == "" {
		task.SourceType = types.SourceMemory
	}
	task.Priority = types.ClampPriority(task.Priority)
	task.Status = types.TaskPending

	sourceIDs, err := marshalJSON(task.SourceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source_ids: %w", err)
	}
	payload, err := marshalJSON(task.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processing_queue (
			id, task_type, priority, source_type, source_ids, payload, status,
			retry_count, max_retries, scheduled_for, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.TaskType, task.Priority, string(task.SourceType), sourceIDs, payload,
		task.Status, task.RetryCount, task.MaxRetries, formatTime(task.ScheduledFor),
		formatTime(task.CreatedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// ClaimTasks selects due pending tasks and marks them processing in one transaction.
func (s *Store) ClaimTasks(ctx context.Context, now time.Time, limit int) ([]*types.QueueTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM processing_queue
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY priority DESC, scheduled_for ASC, created_at ASC
		LIMIT ?
	`, types.TaskPending, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select tasks: %w", err)
	}

	var claimed []*types.QueueTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		claimed = append(claimed, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	rows.Close()

	startedAt := now
	for _, task := range claimed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE processing_queue SET status = ?, started_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, types.TaskProcessing, formatTime(startedAt), formatTime(now), task.ID, types.TaskPending); err != nil {
			return nil, fmt.Errorf("failed to claim task %s: %w", task.ID, err)
		}
		task.Status = types.TaskProcessing
		task.StartedAt = &startedAt
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

// CompleteTask marks a task completed with a result summary.
func (s *Store) CompleteTask(ctx context.Context, id, summary string, at time.Time) error {
	return s.updateTask(ctx, `
		UPDATE processing_queue
		SET status = ?, completed_at = ?, result_summary = ?, error_message = NULL, updated_at = ?
		WHERE id = ?
	`, types.TaskCompleted, formatTime(at), nullableString(summary), formatTime(at), id)
}

// RescheduleTask returns a task to pending for another attempt.
func (s *Store) RescheduleTask(ctx context.Context, id, errMsg string, retryCount int, scheduledFor time.Time) error {
	return s.updateTask(ctx, `
		UPDATE processing_queue
		SET status = ?, retry_count = ?, error_message = ?, scheduled_for = ?, started_at = NULL, updated_at = ?
		WHERE id = ?
	`, types.TaskPending, retryCount, nullableString(errMsg), formatTime(scheduledFor), formatTime(time.Now()), id)
}

// RequeueProcessing returns tasks stuck in processing to pending.
func (s *Store) RequeueProcessing(ctx context.Context, startedBefore, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE processing_queue
		SET status = ?, started_at = NULL, scheduled_for = ?, error_message = ?, updated_at = ?
		WHERE status = ? AND (started_at IS NULL OR started_at < ?)
	`, types.TaskPending, formatTime(now), requeueMessage, formatTime(now),
		types.TaskProcessing, formatTime(startedBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue tasks: %w", err)
	}
	return result.RowsAffected()
}

// FailTask marks a task terminally failed, keeping the error for inspection.
func (s *Store) FailTask(ctx context.Context, id, errMsg string, retryCount int, at time.Time) error {
	return s.updateTask(ctx, `
		UPDATE processing_queue
		SET status = ?, retry_count = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, types.TaskFailed, retryCount, nullableString(errMsg), formatTime(at), formatTime(at), id)
}

func (s *Store) updateTask(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*types.QueueTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM processing_queue WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// TaskCounts returns the number of tasks per status.
func (s *Store) TaskCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM processing_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		types.TaskPending:    0,
		types.TaskProcessing: 0,
		types.TaskCompleted:  0,
		types.TaskFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PurgeTasks deletes tasks in status that finished before the cutoff.
func (s *Store) PurgeTasks(ctx context.Context, status string, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM processing_queue
		WHERE status = ? AND COALESCE(completed_at, created_at) < ?
	`, status, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", err)
	}
	return result.RowsAffected()
}

func scanTask(row rowScanner) (*types.QueueTask, error) {
	var (
		t                        types.QueueTask
		sourceType               string
		sourceIDs, payload       sql.NullString
		scheduledFor, createdAt  string
		startedAt, completedAt   sql.NullString
		resultSummary, errorText sql.NullString
	)
	if err := row.Scan(&t.ID, &t.TaskType, &t.Priority, &sourceType, &sourceIDs, &payload, &t.Status,
		&t.RetryCount, &t.MaxRetries, &scheduledFor, &startedAt, &completedAt,
		&resultSummary, &errorText, &createdAt); err != nil {
		return nil, err
	}

	t.SourceType = types.SourceType(sourceType)
	t.ResultSummary = resultSummary.String
	t.ErrorMessage = errorText.String
	if err := unmarshalJSON(sourceIDs, &t.SourceIDs, "source_ids"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &t.Payload, "payload"); err != nil {
		return nil, err
	}

	var err error
	if t.ScheduledFor, err = parseTime(scheduledFor); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = scanTime(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = scanTime(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
