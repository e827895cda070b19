package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

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

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.ScheduledFor.IsZero() {
		task.ScheduledFor = task.CreatedAt
	}
	if task.SourceType == "" {
		task.SourceType = types.SourceMemory
	}
	task.Priority = types.ClampPriority(task.Priority)
	task.Status = types.TaskPending

	payload, err := jsonb(task.Payload)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processing_queue (
			id, task_type, priority, source_type, source_ids, payload, status,
			retry_count, max_retries, scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`,
		task.ID, task.TaskType, task.Priority, string(task.SourceType), pq.Array(task.SourceIDs), payload,
		task.Status, task.RetryCount, task.MaxRetries, task.ScheduledFor, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to enqueue task: %w", err)
	}
	return nil
}

// ClaimTasks marks due pending tasks processing. SKIP LOCKED lets several
// consumers claim concurrently without handing out the same task twice.
func (s *Store) ClaimTasks(ctx context.Context, now time.Time, limit int) ([]*types.QueueTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE processing_queue SET status = $1, started_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM processing_queue
			WHERE status = $3 AND scheduled_for <= $2
			ORDER BY priority DESC, scheduled_for ASC, created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		types.TaskProcessing, now, types.TaskPending, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to claim tasks: %w", err)
	}
	defer rows.Close()

	var claimed []*types.QueueTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan task: %w", err)
		}
		claimed = append(claimed, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate claimed tasks: %w", err)
	}

	// RETURNING does not preserve the subquery's order.
	sort.SliceStable(claimed, func(i, j int) bool {
		if claimed[i].Priority != claimed[j].Priority {
			return claimed[i].Priority > claimed[j].Priority
		}
		return claimed[i].ScheduledFor.Before(claimed[j].ScheduledFor)
	})
	return claimed, nil
}

// RequeueProcessing returns tasks stuck in processing to pending.
func (s *Store) RequeueProcessing(ctx context.Context, startedBefore, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE processing_queue
		SET status = $1, started_at = NULL, scheduled_for = $2, error_message = $3, updated_at = $2
		WHERE status = $4 AND (started_at IS NULL OR started_at < $5)
	`, types.TaskPending, now, requeueMessage, types.TaskProcessing, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to requeue tasks: %w", err)
	}
	return result.RowsAffected()
}

// CompleteTask marks a task completed with a result summary.
func (s *Store) CompleteTask(ctx context.Context, id, summary string, at time.Time) error {
	return s.updateTask(ctx, `
		UPDATE processing_queue
		SET status = $1, completed_at = $2, result_summary = $3, error_message = NULL, updated_at = $2
		WHERE id = $4
	`, types.TaskCompleted, at, nullableString(summary), id)
}

// RescheduleTask returns a task to pending for another attempt.
func (s *Store) RescheduleTask(ctx context.Context, id, errMsg string, retryCount int, scheduledFor time.Time) error {
	return s.updateTask(ctx, `
		UPDATE processing_queue
		SET status = $1, retry_count = $2, error_message = $3, scheduled_for = $4, started_at = NULL, updated_at = NOW()
		WHERE id = $5
	`, types.TaskPending, retryCount, nullableString(errMsg), scheduledFor, id)
}

// FailTask marks a task terminally failed.
func (s *Store) FailTask(ctx context.Context, id, errMsg string, retryCount int, at time.Time) error {
	return s.updateTask(ctx, `
		UPDATE processing_queue
		SET status = $1, retry_count = $2, error_message = $3, completed_at = $4, updated_at = $4
		WHERE id = $5
	`, types.TaskFailed, retryCount, nullableString(errMsg), at, id)
}

func (s *Store) updateTask(ctx context.Context, query string, values ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("postgres: failed to update task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*types.QueueTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM processing_queue WHERE id = $1`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get task: %w", err)
	}
	return task, nil
}

// TaskCounts returns the number of tasks per status.
func (s *Store) TaskCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM processing_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to count tasks: %w", err)
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
			return nil, fmt.Errorf("postgres: failed to scan task count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PurgeTasks deletes tasks in status that finished before the cutoff.
func (s *Store) PurgeTasks(ctx context.Context, status string, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM processing_queue
		WHERE status = $1 AND COALESCE(completed_at, created_at) < $2
	`, status, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to purge tasks: %w", err)
	}
	return result.RowsAffected()
}

func scanTask(row rowScanner) (*types.QueueTask, error) {
	var (
		t                        types.QueueTask
		sourceType               string
		payload                  sql.NullString
		startedAt, completedAt   sql.NullTime
		resultSummary, errorText sql.NullString
	)
	if err := row.Scan(&t.ID, &t.TaskType, &t.Priority, &sourceType, pq.Array(&t.SourceIDs), &payload,
		&t.Status, &t.RetryCount, &t.MaxRetries, &t.ScheduledFor, &startedAt, &completedAt,
		&resultSummary, &errorText, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.SourceType = types.SourceType(sourceType)
	t.ResultSummary = resultSummary.String
	t.ErrorMessage = errorText.String
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	if err := unjsonb(payload, &t.Payload, "payload"); err != nil {
		return nil, err
	}
	return &t, nil
}
