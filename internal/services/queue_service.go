package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// ErrQueueEmpty is returned by Claim when no task is due.
var ErrQueueEmpty = errors.New("queue: no pending tasks")

// QueueConfig tunes retry behavior.
type QueueConfig struct {
	MaxRetries   int           // default for tasks enqueued without one (default: 3)
	RetryBackoff time.Duration // base delay, multiplied by retry_count squared (default: 30s)
}

// DefaultQueueConfig returns the retry settings used when none are configured.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxRetries: 3, RetryBackoff: 30 * time.Second}
}

// EnqueueOptions are the optional task fields.
type EnqueueOptions struct {
	Priority     int
	Payload      map[string]interface{}
	ScheduledFor time.Time
	MaxRetries   int
}

// QueueStats summarizes the queue by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Depth returns the number of tasks not yet in a terminal state.
func (s QueueStats) Depth() int {
	return s.Pending + s.Processing
}

// QueueService is the durable priority queue feeding the batch path.
type QueueService struct {
	store  storage.TaskQueueStore
	config QueueConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewQueueService creates a queue service over store.
func NewQueueService(store storage.TaskQueueStore, cfg QueueConfig, logger *zap.Logger) *QueueService {
	d := DefaultQueueConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = d.RetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueService{
		store:  store,
		config: cfg,
		logger: logger.Named("queue"),
		now:    time.Now,
	}
}

// Enqueue inserts a pending task and returns it.
func (q *QueueService) Enqueue(ctx context.Context, taskType string, sourceType types.SourceType, sourceIDs []string, opts EnqueueOptions) (*types.QueueTask, error) {
	switch taskType {
	case types.TaskProcessMemory, types.TaskProcessBatch, types.TaskClusterAnalysis:
	default:
		return nil, fmt.Errorf("%w: unknown task type %q", storage.ErrInvalidInput, taskType)
	}
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one source id is required", storage.ErrInvalidInput)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.config.MaxRetries
	}
	now := q.now().UTC()
	scheduled := opts.ScheduledFor
	if scheduled.IsZero() {
		scheduled = now
	}

	task := &types.QueueTask{
		ID:           uuid.New().String(),
		TaskType:     taskType,
		Priority:     types.ClampPriority(opts.Priority),
		SourceType:   sourceType,
		SourceIDs:    append([]string(nil), sourceIDs...),
		Payload:      opts.Payload,
		Status:       types.TaskPending,
		MaxRetries:   maxRetries,
		ScheduledFor: scheduled,
		CreatedAt:    now,
	}
	if task.SourceType == "" {
		task.SourceType = types.SourceMemory
	}

	if err := q.store.EnqueueTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s task: %w", taskType, err)
	}
	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("task_type", taskType),
		zap.Int("priority", task.Priority),
		zap.Int("sources", len(sourceIDs)))
	return task, nil
}

// Claim atomically takes up to n due tasks, highest priority first.
// Returns ErrQueueEmpty when nothing is due.
func (q *QueueService) Claim(ctx context.Context, n int) ([]*types.QueueTask, error) {
	if n <= 0 {
		n = 1
	}
	tasks, err := q.store.ClaimTasks(ctx, q.now().UTC(), n)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, ErrQueueEmpty
	}
	return tasks, nil
}

// Complete marks a task completed with a result summary.
func (q *QueueService) Complete(ctx context.Context, id, summary string) error {
	if err := q.store.CompleteTask(ctx, id, summary, q.now().UTC()); err != nil {
		return fmt.Errorf("failed to complete task %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. The task is rescheduled after
// retry_count² × RetryBackoff while retries remain, otherwise it is marked
// failed with cause preserved. It reports whether the task will run again.
func (q *QueueService) Fail(ctx context.Context, task *types.QueueTask, cause error) (bool, error) {
	if task == nil {
		return false, storage.ErrInvalidInput
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	retryCount := task.RetryCount + 1
	now := q.now().UTC()
	if task.CanRetry() {
		delay := q.Backoff(retryCount)
		if err := q.store.RescheduleTask(ctx, task.ID, msg, retryCount, now.Add(delay)); err != nil {
			return false, fmt.Errorf("failed to reschedule task %s: %w", task.ID, err)
		}
		q.logger.Warn("task failed, rescheduled",
			zap.String("task_id", task.ID),
			zap.Int("retry_count", retryCount),
			zap.Duration("delay", delay),
			zap.String("error", msg))
		return true, nil
	}

	if err := q.store.FailTask(ctx, task.ID, msg, retryCount, now); err != nil {
		return false, fmt.Errorf("failed to mark task %s failed: %w", task.ID, err)
	}
	q.logger.Error("task failed permanently",
		zap.String("task_id", task.ID),
		zap.Int("retry_count", retryCount),
		zap.String("error", msg))
	return false, nil
}

// Backoff returns the delay before retry number retryCount.
func (q *QueueService) Backoff(retryCount int) time.Duration {
	return time.Duration(retryCount*retryCount) * q.config.RetryBackoff
}

// Get returns a task by id.
func (q *QueueService) Get(ctx context.Context, id string) (*types.QueueTask, error) {
	return q.store.GetTask(ctx, id)
}

// Stats returns task counts by status.
func (q *QueueService) Stats(ctx context.Context) (QueueStats, error) {
	counts, err := q.store.TaskCounts(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("failed to count tasks: %w", err)
	}
	return QueueStats{
		Pending:    counts[types.TaskPending],
		Processing: counts[types.TaskProcessing],
		Completed:  counts[types.TaskCompleted],
		Failed:     counts[types.TaskFailed],
	}, nil
}

// RecoverStale returns tasks that have been processing for longer than
// olderThan to pending. A consumer that crashed after Claim leaves its tasks
// in processing; this makes them claimable again.
func (q *QueueService) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := q.now().UTC()
	n, err := q.store.RequeueProcessing(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale tasks: %w", err)
	}
	if n > 0 {
		q.logger.Warn("requeued stale processing tasks", zap.Int64("count", n), zap.Duration("older_than", olderThan))
	}
	return n, nil
}

// PurgeCompleted deletes completed tasks that finished more than olderThan ago.
func (q *QueueService) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := q.store.PurgeTasks(ctx, types.TaskCompleted, q.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed tasks: %w", err)
	}
	if n > 0 {
		q.logger.Info("purged completed tasks", zap.Int64("count", n))
	}
	return n, nil
}
