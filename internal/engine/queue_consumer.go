package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/memento-insights/internal/services"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// ConsumerConfig tunes the queue consumer.
type ConsumerConfig struct {
	// PollInterval is the delay between claim attempts.
	PollInterval time.Duration

	// ClaimBatchSize is the maximum number of tasks claimed per poll.
	ClaimBatchSize int

	// Workers bounds how many claimed tasks run at once.
	Workers int

	// ShutdownTimeout bounds how long Stop waits for in-flight tasks.
	ShutdownTimeout time.Duration

	// PurgeAfter is the age after which completed tasks are deleted. Zero disables purging.
	PurgeAfter time.Duration

	// StaleAfter is how long a task may stay processing before it is treated
	// as abandoned and returned to pending. It must exceed the longest task.
	StaleAfter time.Duration
}

// DefaultConsumerConfig returns the consumer defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		PollInterval:    2 * time.Second,
		ClaimBatchSize:  10,
		Workers:         3,
		ShutdownTimeout: 30 * time.Second,
		PurgeAfter:      7 * 24 * time.Hour,
		StaleAfter:      15 * time.Minute,
	}
}

// maintainEvery is how many polls pass between stale-task recovery and
// purges of old completed tasks.
const maintainEvery = 100

// QueueConsumer drains the processing queue into the orchestrator.
type QueueConsumer struct {
	orch     *Orchestrator
	queue    *services.QueueService
	memories storage.MemoryReader
	config   ConsumerConfig
	logger   *zap.Logger

	polls  atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewQueueConsumer creates a consumer. Zero config fields take the defaults.
func NewQueueConsumer(orch *Orchestrator, queue *services.QueueService, memories storage.MemoryReader, cfg ConsumerConfig, logger *zap.Logger) *QueueConsumer {
	def := DefaultConsumerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = def.ClaimBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueConsumer{
		orch:     orch,
		queue:    queue,
		memories: memories,
		config:   cfg,
		logger:   logger.Named("queue_consumer"),
	}
}

// Start launches the poll loop. It returns an error if the consumer is already running.
func (c *QueueConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("queue consumer already started")
	}

	// Tasks left processing by a previous run are made claimable again.
	c.recoverStale(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(loopCtx, c.done)
	c.logger.Info("queue consumer started",
		zap.Duration("poll_interval", c.config.PollInterval),
		zap.Int("workers", c.config.Workers))
	return nil
}

func (c *QueueConsumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := c.PollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("queue poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce claims due tasks, processes them with bounded concurrency and
// waits for them. It returns the number of tasks claimed. Claimed tasks run to
// completion even if ctx is cancelled meanwhile, so no task is left in the
// processing state.
func (c *QueueConsumer) PollOnce(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tasks, err := c.queue.Claim(ctx, c.config.ClaimBatchSize)
	if errors.Is(err, services.ErrQueueEmpty) {
		c.maintain(ctx)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	taskCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(c.config.Workers)
	for _, task := range tasks {
		g.Go(func() error {
			c.processTask(taskCtx, task)
			return nil
		})
	}
	_ = g.Wait()

	c.maintain(ctx)
	return len(tasks), nil
}

// maintain refreshes the queue depth gauge and periodically requeues stale
// tasks and purges old completed ones.
func (c *QueueConsumer) maintain(ctx context.Context) {
	if stats, err := c.queue.Stats(ctx); err == nil {
		c.orch.Metrics().SetQueueDepth(stats.Depth())
	}

	if c.polls.Add(1)%maintainEvery != 0 {
		return
	}
	c.recoverStale(ctx)
	if c.config.PurgeAfter <= 0 {
		return
	}
	if _, err := c.queue.PurgeCompleted(ctx, c.config.PurgeAfter); err != nil {
		c.logger.Warn("failed to purge completed tasks", zap.Error(err))
	}
}

func (c *QueueConsumer) recoverStale(ctx context.Context) {
	if _, err := c.queue.RecoverStale(ctx, c.config.StaleAfter); err != nil {
		c.logger.Warn("failed to recover stale tasks", zap.Error(err))
	}
}

func (c *QueueConsumer) processTask(ctx context.Context, task *types.QueueTask) {
	logger := c.logger.With(
		zap.String("task_id", task.ID),
		zap.String("task_type", task.TaskType),
		zap.Int("attempt", task.RetryCount+1))
	logger.Debug("processing task")

	summary, err := c.runTask(ctx, task)
	if err == nil {
		if err := c.queue.Complete(ctx, task.ID, summary); err != nil {
			logger.Error("failed to complete task", zap.Error(err))
		}
		return
	}

	retry, failErr := c.queue.Fail(ctx, task, err)
	if failErr != nil {
		logger.Error("failed to record task failure", zap.Error(failErr), zap.NamedError("cause", err))
		return
	}
	logger.Warn("task failed", zap.Error(err), zap.Bool("will_retry", retry))
}

func (c *QueueConsumer) runTask(ctx context.Context, task *types.QueueTask) (string, error) {
	memories, err := c.memories.GetMemories(ctx, task.SourceIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load memories: %w", err)
	}
	if len(memories) == 0 {
		return "", fmt.Errorf("%w: none of %d source memories exist", storage.ErrNotFound, len(task.SourceIDs))
	}

	opts := optionsFromPayload(task)
	if task.TaskType == types.TaskClusterAnalysis {
		cluster := types.NewCluster("task:"+task.ID, "task", memories)
		res, err := c.orch.AnalyzeCluster(ctx, memories, cluster, opts)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("cluster of %d memories: %d insights stored, %d rejected",
			len(memories), res.Metrics.Stored, res.Metrics.Rejected), nil
	}

	res, err := c.orch.ProcessBatch(ctx, memories, opts)
	if err != nil {
		return "", err
	}
	if res.Failed > 0 {
		return "", fmt.Errorf("%d of %d memories failed", res.Failed, len(memories))
	}
	if res.ClusterError != "" {
		return "", fmt.Errorf("cluster analysis failed: %s", res.ClusterError)
	}
	return fmt.Sprintf("%d memories processed, %d insights stored", res.Successful, len(res.Insights)), nil
}

// optionsFromPayload reads processing options carried in the task payload.
func optionsFromPayload(task *types.QueueTask) ProcessOptions {
	opts := ProcessOptions{Priority: priorityLabel(task.Priority)}
	p := task.Payload
	if p == nil {
		return opts
	}
	if v, ok := p["real_time"].(bool); ok {
		opts.RealTime = v
	}
	if v, ok := p["comprehensive"].(bool); ok {
		opts.Comprehensive = v
	}
	if v, ok := p["cluster_mode"].(bool); ok {
		opts.ClusterMode = v
	}
	if v, ok := p["priority"].(string); ok && v != "" {
		opts.Priority = v
	}
	switch v := p["processors"].(type) {
	case []string:
		opts.Processors = v
	case []interface{}:
		for _, s := range v {
			if name, ok := s.(string); ok {
				opts.Processors = append(opts.Processors, name)
			}
		}
	}
	return opts
}

// priorityLabel maps a numeric task priority to a processor priority.
func priorityLabel(p int) string {
	switch {
	case p >= 8:
		return types.PriorityHigh
	case p <= 3:
		return types.PriorityLow
	default:
		return types.PriorityMedium
	}
}

// Stop cancels the poll loop and waits for in-flight tasks, up to
// ShutdownTimeout or until ctx is done.
func (c *QueueConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		c.logger.Info("queue consumer stopped")
		return nil
	case <-time.After(c.config.ShutdownTimeout):
		c.logger.Warn("timeout waiting for queue consumer to stop", zap.Duration("timeout", c.config.ShutdownTimeout))
		return fmt.Errorf("timeout waiting for queue consumer after %v", c.config.ShutdownTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
