package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

func newTestQueue(t *testing.T) (*QueueService, *time.Time) {
	t.Helper()
	q := NewQueueService(newTestStore(t), QueueConfig{MaxRetries: 2, RetryBackoff: time.Minute}, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, &now
}

func TestQueueService_EnqueueValidates(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "reindex", types.SourceMemory, []string{"m1"}, EnqueueOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = q.Enqueue(ctx, types.TaskProcessMemory, types.SourceMemory, nil, EnqueueOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	task, err := q.Enqueue(ctx, types.TaskProcessMemory, "", []string{"m1"}, EnqueueOptions{Priority: 42})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, types.MaxTaskPriority, task.Priority)
	assert.Equal(t, types.SourceMemory, task.SourceType)
	assert.Equal(t, 2, task.MaxRetries)
	assert.Equal(t, types.TaskPending, task.Status)
}

func TestQueueService_ClaimOrder(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	low, err := q.Enqueue(ctx, types.TaskProcessBatch, types.SourceMemory, []string{"m1"}, EnqueueOptions{Priority: 2})
	require.NoError(t, err)
	high, err := q.Enqueue(ctx, types.TaskClusterAnalysis, types.SourceMemoryCluster, []string{"m2", "m3", "m4"}, EnqueueOptions{Priority: 9})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, types.TaskProcessMemory, types.SourceMemory, []string{"m5"}, EnqueueOptions{Priority: 10, ScheduledFor: now.Add(time.Hour)})
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, high.ID, claimed[0].ID)
	assert.Equal(t, low.ID, claimed[1].ID)

	_, err = q.Claim(ctx, 5)
	assert.ErrorIs(t, err, ErrQueueEmpty)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Pending: 1, Processing: 2}, stats)
	assert.Equal(t, 3, stats.Depth())
}

func TestQueueService_CompleteAndPurge(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	task, err := q.Enqueue(ctx, types.TaskProcessBatch, types.SourceMemory, []string{"m1"}, EnqueueOptions{})
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, claimed[0].ID, "2 insights stored"))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.Equal(t, "2 insights stored", got.ResultSummary)

	n, err := q.PurgeCompleted(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "completed just now")

	*now = now.Add(2 * time.Hour)
	n, err = q.PurgeCompleted(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, task.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQueueService_FailRetriesWithBackoffThenFails(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()
	start := *now

	task, err := q.Enqueue(ctx, types.TaskProcessBatch, types.SourceMemory, []string{"m1"}, EnqueueOptions{})
	require.NoError(t, err)

	cause := errors.New("store unavailable")
	wantDelays := []time.Duration{time.Minute, 4 * time.Minute}
	for i, delay := range wantDelays {
		claimed, err := q.Claim(ctx, 1)
		require.NoError(t, err, "attempt %d", i+1)

		retry, err := q.Fail(ctx, claimed[0], cause)
		require.NoError(t, err)
		assert.True(t, retry)

		got, err := q.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskPending, got.Status)
		assert.Equal(t, i+1, got.RetryCount)
		assert.Equal(t, "store unavailable", got.ErrorMessage)
		assert.True(t, got.ScheduledFor.Equal(now.Add(delay)), "scheduled %v, want now+%v", got.ScheduledFor, delay)

		_, err = q.Claim(ctx, 1)
		assert.ErrorIs(t, err, ErrQueueEmpty, "not due before the backoff elapses")
		*now = now.Add(delay)
	}

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	retry, err := q.Fail(ctx, claimed[0], cause)
	require.NoError(t, err)
	assert.False(t, retry)

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, "store unavailable", got.ErrorMessage)
	assert.True(t, now.After(start))
}

func TestQueueService_RecoverStale(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	crashed := NewQueueService(store, DefaultQueueConfig(), nil)
	crashed.now = func() time.Time { return now }
	ctx := context.Background()

	task, err := crashed.Enqueue(ctx, types.TaskProcessBatch, types.SourceMemory, []string{"m1"}, EnqueueOptions{})
	require.NoError(t, err)
	_, err = crashed.Claim(ctx, 1)
	require.NoError(t, err)

	// A new service over the same store stands in for a restarted worker.
	restarted := NewQueueService(store, DefaultQueueConfig(), nil)
	later := now.Add(10 * time.Minute)
	restarted.now = func() time.Time { return later }

	_, err = restarted.Claim(ctx, 1)
	assert.ErrorIs(t, err, ErrQueueEmpty)

	n, err := restarted.RecoverStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "claimed too recently to be stale")

	n, err = restarted.RecoverStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := restarted.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Zero(t, got.RetryCount)

	claimed, err := restarted.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, task.ID, claimed[0].ID)
}

func TestQueueService_Backoff(t *testing.T) {
	q := NewQueueService(newTestStore(t), QueueConfig{}, nil)
	assert.Equal(t, 30*time.Second, q.Backoff(1))
	assert.Equal(t, 120*time.Second, q.Backoff(2))
	assert.Equal(t, 270*time.Second, q.Backoff(3))
}
