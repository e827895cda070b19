package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/internal/services"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

var (
	// ErrShuttingDown is returned by processing calls after Shutdown.
	ErrShuttingDown = errors.New("engine: shutting down")

	// ErrNoQueue is returned by QueueForProcessing when no queue is configured.
	ErrNoQueue = errors.New("engine: no processing queue configured")
)

// Deps are the orchestrator's collaborators. Registry and Store are required.
type Deps struct {
	Registry *processor.Registry
	Store    storage.InsightStore

	// Queue backs QueueForProcessing and the queue depth in GetHealth.
	Queue *services.QueueService

	// Embedder fills insight embeddings when set. Embedded insights are then
	// linked to their nearest stored neighbours.
	Embedder llm.EmbeddingGenerator

	// Enrichers replaces the default context, embedding, related-insight and
	// contradiction enrichers when non-nil.
	Enrichers []Enricher

	Metrics *Metrics
	Logger  *zap.Logger
}

// Orchestrator runs memories through strategy selection, processors,
// deduplication, enrichment, validation and storage.
type Orchestrator struct {
	config Config

	registry  *processor.Registry
	storage   *services.InsightStorageService
	query     *services.InsightQueryService
	queue     *services.QueueService
	dedup     Deduplicator
	enrichers *EnricherPipeline
	validator *Validator
	metrics   *Metrics
	logger    *zap.Logger

	startedAt    time.Time
	shuttingDown bool
	mu           sync.RWMutex
}

// NewOrchestrator creates an orchestrator with the given configuration.
// Use DefaultConfig() for sensible defaults.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("processor registry is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("insight store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics("")
	}

	enrichers := deps.Enrichers
	if enrichers == nil {
		enrichers = []Enricher{
			ContextEnricher{},
			NewEmbeddingEnricher(deps.Embedder),
			NewRelatedInsightEnricher(deps.Store),
			NewContradictionEnricher(deps.Store),
		}
	}

	return &Orchestrator{
		config:    cfg,
		registry:  deps.Registry,
		storage:   services.NewInsightStorageService(deps.Store, cfg.DedupWindow, logger),
		query:     services.NewInsightQueryService(deps.Store),
		queue:     deps.Queue,
		enrichers: NewEnricherPipeline(logger, enrichers...),
		validator: NewValidator(cfg.MinConfidence),
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}, nil
}

// Metrics returns the orchestrator's collectors.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

func (o *Orchestrator) checkRunning() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.shuttingDown {
		return ErrShuttingDown
	}
	return nil
}

// ProcessMemory runs the selected strategy for memory and stores the
// surviving insights. Processor failures are contained; a storage failure is
// recorded and returned with the partial result.
func (o *Orchestrator) ProcessMemory(ctx context.Context, memory *types.Memory, opts ProcessOptions) (*ProcessResult, error) {
	if err := o.checkRunning(); err != nil {
		return nil, err
	}
	if memory == nil {
		return nil, fmt.Errorf("%w: memory is required", storage.ErrInvalidInput)
	}

	start := time.Now()
	result := &ProcessResult{MemoryID: memory.ID}
	if !memory.HasContent() {
		o.logger.Debug("skipping memory without content", zap.String("memory_id", memory.ID))
		result.Success = true
		return result, nil
	}

	strategy := SelectStrategy(memory, opts)
	result.Metrics.Strategy = strategy

	drafts, err := o.runProcessors(ctx, memory, strategy, opts.processorOptions(), &result.Metrics)
	if err == nil {
		result.Insights, result.Rejected, err = o.finish(ctx, drafts, memory, opts, &result.Metrics)
	}

	result.Metrics.Duration = time.Since(start)
	o.metrics.recordMemory(result.Metrics.Duration, err)
	if err != nil {
		o.logger.Error("memory processing failed", zap.String("memory_id", memory.ID), zap.Error(err))
		return result, err
	}

	result.Success = true
	o.logger.Debug("memory processed",
		zap.String("memory_id", memory.ID),
		zap.Int("generated", result.Metrics.Generated),
		zap.Int("stored", result.Metrics.Stored),
		zap.Int("rejected", result.Metrics.Rejected),
		zap.Duration("duration", result.Metrics.Duration))
	return result, nil
}

// runProcessors runs the strategy in order. A failing processor contributes a
// diagnostic draft instead of its insights; only cancellation stops the run.
func (o *Orchestrator) runProcessors(ctx context.Context, memory *types.Memory, strategy []processor.Name, opts processor.Options, m *RunMetrics) ([]*types.Insight, error) {
	var drafts []*types.Insight
	for _, r := range o.registry.Resolve(ctx, strategy) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		insights, err := safeProcess(ctx, r.Processor, memory, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.ProcessorErrors++
			o.metrics.recordProcessorError(string(r.Name))
			o.logger.Warn("processor failed",
				zap.String("processor", string(r.Name)),
				zap.String("memory_id", memory.ID),
				zap.Error(err))
			drafts = append(drafts, processor.HandleError(memory, r.Name, err))
			continue
		}
		drafts = append(drafts, insights...)
	}
	return drafts, nil
}

// safeProcess converts a processor panic into an error.
func safeProcess(ctx context.Context, p processor.Processor, memory *types.Memory, opts processor.Options) (insights []*types.Insight, err error) {
	defer func() {
		if r := recover(); r != nil {
			insights = nil
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return p.Process(ctx, memory, opts)
}

// finish is the shared tail: dedup, enrich, validate, store.
func (o *Orchestrator) finish(ctx context.Context, drafts []*types.Insight, memory *types.Memory, opts ProcessOptions, m *RunMetrics) (stored, rejected []*types.Insight, err error) {
	m.Generated = len(drafts)
	o.metrics.recordInsights(stageGenerated, len(drafts))

	unique := o.dedup.Deduplicate(drafts)
	m.Deduplicated = len(drafts) - len(unique)
	o.metrics.recordInsights(stageDeduplicated, m.Deduplicated)

	o.enrichers.Run(ctx, unique, memory)

	validated, rejected := o.validator.Validate(unique)
	m.Rejected = len(rejected)
	o.metrics.recordInsights(stageRejected, len(rejected))
	for _, in := range rejected {
		o.logger.Debug("insight rejected",
			zap.String("title", in.Title),
			zap.String("detection_method", in.DetectionMethod),
			zap.String("reason", in.RejectionReason))
	}

	if opts.SkipStorage {
		return validated, rejected, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, rejected, err
	}

	res, err := o.storage.Store(ctx, validated)
	if err != nil {
		return nil, rejected, err
	}
	m.Stored = len(res.Stored)
	o.metrics.recordInsights(stageStored, len(res.Stored))
	return res.Stored, rejected, nil
}

// ProcessBatch processes memories in groups of BatchConcurrency, running each
// group concurrently and waiting for it before starting the next. A failing
// memory is counted and does not fail the batch. With ClusterMode the
// clustering processor then analyzes the whole batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, memories []*types.Memory, opts ProcessOptions) (*BatchResult, error) {
	if err := o.checkRunning(); err != nil {
		return nil, err
	}

	result := &BatchResult{Errors: make(map[string]string)}
	groupSize := o.config.BatchConcurrency
	for start := 0; start < len(memories); start += groupSize {
		end := start + groupSize
		if end > len(memories) {
			end = len(memories)
		}
		group := memories[start:end]

		results := make([]*ProcessResult, len(group))
		errs := make([]error, len(group))
		var g errgroup.Group
		for i, m := range group {
			g.Go(func() error {
				results[i], errs[i] = o.ProcessMemory(ctx, m, opts)
				return nil
			})
		}
		_ = g.Wait()

		for i, m := range group {
			if errs[i] != nil {
				result.Failed++
				id := ""
				if m != nil {
					id = m.ID
				}
				result.Errors[id] = errs[i].Error()
				continue
			}
			result.Successful++
			result.Insights = append(result.Insights, results[i].Insights...)
		}
	}

	if opts.ClusterMode {
		clusterResult, err := o.AnalyzeCluster(ctx, memories, nil, opts)
		if err != nil {
			result.ClusterError = err.Error()
		} else {
			result.Insights = append(result.Insights, clusterResult.Insights...)
		}
	}

	o.logger.Info("batch processed",
		zap.Int("memories", len(memories)),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Int("insights", len(result.Insights)))
	return result, nil
}

// AnalyzeCluster runs the clustering processor over memories (or over cluster
// when given) and stores its insights through the shared tail.
func (o *Orchestrator) AnalyzeCluster(ctx context.Context, memories []*types.Memory, cluster *types.Cluster, opts ProcessOptions) (*ProcessResult, error) {
	if err := o.checkRunning(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &ProcessResult{}
	if cluster != nil {
		result.MemoryID = cluster.ID
	}
	result.Metrics.Strategy = []processor.Name{processor.NameClustering}

	p, err := o.registry.Get(ctx, processor.NameClustering)
	if err != nil {
		return result, fmt.Errorf("failed to resolve clustering processor: %w", err)
	}
	cp, ok := p.(processor.ClusterProcessor)
	if !ok {
		return result, fmt.Errorf("processor %s does not analyze clusters", processor.NameClustering)
	}

	drafts, err := cp.ProcessCluster(ctx, memories, cluster, opts.processorOptions())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		result.Metrics.ProcessorErrors++
		o.metrics.recordProcessorError(string(processor.NameClustering))
		o.logger.Warn("cluster analysis failed", zap.Error(err))
	}

	result.Insights, result.Rejected, err = o.finish(ctx, drafts, nil, opts, &result.Metrics)
	result.Metrics.Duration = time.Since(start)
	if err != nil {
		o.logger.Error("failed to store cluster insights", zap.Error(err))
		return result, err
	}
	result.Success = true
	return result, nil
}

// QueryInsights returns one page of stored insights.
func (o *Orchestrator) QueryInsights(ctx context.Context, filter storage.InsightFilter) (*storage.PaginatedResult[types.Insight], error) {
	return o.query.Query(ctx, filter)
}

// QueueForProcessing enqueues an asynchronous task.
func (o *Orchestrator) QueueForProcessing(ctx context.Context, taskType string, sourceIDs []string, opts services.EnqueueOptions) (*types.QueueTask, error) {
	if err := o.checkRunning(); err != nil {
		return nil, err
	}
	if o.queue == nil {
		return nil, ErrNoQueue
	}
	sourceType := types.SourceMemory
	if taskType == types.TaskClusterAnalysis {
		sourceType = types.SourceMemoryCluster
	}
	return o.queue.Enqueue(ctx, taskType, sourceType, sourceIDs, opts)
}

// GetHealth reports status, uptime and the in-process counters.
func (o *Orchestrator) GetHealth(ctx context.Context) Health {
	h := Health{
		Status:        HealthOK,
		UptimeSeconds: time.Since(o.startedAt).Seconds(),
		Metrics:       o.metrics.Snapshot(),
	}
	for _, name := range o.registry.Catalog() {
		h.Processors = append(h.Processors, string(name))
	}

	if o.queue != nil {
		stats, err := o.queue.Stats(ctx)
		if err != nil {
			o.logger.Warn("failed to read queue stats", zap.Error(err))
			h.Status = HealthDegraded
		} else {
			h.QueueDepth = stats.Depth()
			o.metrics.SetQueueDepth(h.QueueDepth)
		}
	}

	if o.checkRunning() != nil {
		h.Status = HealthStopped
	}
	return h
}

// Shutdown stops accepting work and releases processor resources.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return fmt.Errorf("engine already shut down")
	}
	o.shuttingDown = true
	o.mu.Unlock()

	o.logger.Info("shutting down insight engine")
	o.registry.Cleanup(ctx)
	return nil
}
