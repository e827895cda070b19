// Package storage provides composable storage interfaces for the insight pipeline.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The SQLite backend
// implements all of them; the Postgres backend implements InsightStore with
// vector similarity on top.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/memento-insights/pkg/types"
)

// MemoryReader gives read-only access to memories. Memories are created
// upstream and never mutated by the pipeline.
type MemoryReader interface {
	// GetMemory retrieves a memory by ID.
	// Returns ErrNotFound if the memory doesn't exist.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// GetMemories retrieves the memories with the given IDs in the order given.
	// Unknown IDs are skipped, not reported as errors.
	GetMemories(ctx context.Context, ids []string) ([]*types.Memory, error)
}

// InsightStore persists and reads insights.
type InsightStore interface {
	// InsertInsight inserts a new insight row. The caller assigns ID and timestamps.
	InsertInsight(ctx context.Context, insight *types.Insight) error

	// InsertWithSupersession performs the dedup-window read and the conditional
	// insert as one unit. When no insight with the same project and signature was
	// created within window, insight is inserted (OutcomeInserted). When one
	// exists with identical summary and sources, nothing is inserted and the
	// existing ID is copied into insight.ID (OutcomeCollapsed). Otherwise insight
	// is inserted with SupersedesInsightID pointing at the existing row
	// (OutcomeSuperseded); the existing row is kept for history.
	InsertWithSupersession(ctx context.Context, insight *types.Insight, window time.Duration) (StoreOutcome, error)

	// FindRecentBySignature returns the newest insight in the project whose
	// signature matches and that was created at or after since.
	// Returns ErrNotFound when there is none.
	FindRecentBySignature(ctx context.Context, projectID, signature string, since time.Time) (*types.Insight, error)

	// GetInsight retrieves an insight by ID.
	// Returns ErrNotFound if the insight doesn't exist.
	GetInsight(ctx context.Context, id string) (*types.Insight, error)

	// QueryInsights returns a filtered, paginated page of insights.
	QueryInsights(ctx context.Context, filter InsightFilter) (*PaginatedResult[types.Insight], error)

	// FindBySourceIDs returns stored insights in the project that reference any
	// of the given memory IDs, newest first.
	FindBySourceIDs(ctx context.Context, projectID string, sourceIDs []string, limit int) ([]*types.Insight, error)

	// FindByTypeCategory returns stored insights in the project with the given
	// type and category, newest first.
	FindByTypeCategory(ctx context.Context, projectID string, insightType types.InsightType, category string, limit int) ([]*types.Insight, error)

	// InsightStats aggregates counts for a project ("" means all projects).
	InsightStats(ctx context.Context, projectID string) (*InsightStats, error)
}

// SimilarInsightFinder is implemented by stores with vector similarity support.
type SimilarInsightFinder interface {
	// SimilarInsights returns up to limit insights ordered by cosine distance to
	// embedding, restricted to the project when projectID is non-empty.
	SimilarInsights(ctx context.Context, projectID string, embedding []float32, limit int) ([]*types.Insight, error)
}

// TemplateStore holds analysis templates.
type TemplateStore interface {
	// UpsertTemplate creates or replaces the template with the same name.
	UpsertTemplate(ctx context.Context, tmpl *types.AnalysisTemplate) error

	// ListTemplates returns templates in the category ("" means all), most
	// recently updated first.
	ListTemplates(ctx context.Context, category string, activeOnly bool) ([]*types.AnalysisTemplate, error)

	// GetTemplateByName retrieves a template by its unique name.
	// Returns ErrNotFound if the template doesn't exist.
	GetTemplateByName(ctx context.Context, name string) (*types.AnalysisTemplate, error)
}

// TaskQueueStore is the durable backing of the processing queue.
type TaskQueueStore interface {
	// EnqueueTask inserts a pending task.
	EnqueueTask(ctx context.Context, task *types.QueueTask) error

	// ClaimTasks atomically selects up to limit pending tasks scheduled at or
	// before now, ordered by priority descending then scheduled_for ascending,
	// marks them processing and returns them.
	ClaimTasks(ctx context.Context, now time.Time, limit int) ([]*types.QueueTask, error)

	// CompleteTask marks a processing task completed with a result summary.
	CompleteTask(ctx context.Context, id, summary string, at time.Time) error

	// RescheduleTask returns a task to pending with an incremented retry count.
	RescheduleTask(ctx context.Context, id, errMsg string, retryCount int, scheduledFor time.Time) error

	// RequeueProcessing returns processing tasks claimed before startedBefore to
	// pending, due at now. Retry counts are left unchanged. It returns the
	// number of tasks requeued.
	RequeueProcessing(ctx context.Context, startedBefore, now time.Time) (int64, error)

	// FailTask marks a task terminally failed.
	FailTask(ctx context.Context, id, errMsg string, retryCount int, at time.Time) error

	// GetTask retrieves a task by ID.
	// Returns ErrNotFound if the task doesn't exist.
	GetTask(ctx context.Context, id string) (*types.QueueTask, error)

	// TaskCounts returns the number of tasks per status.
	TaskCounts(ctx context.Context) (map[string]int, error)

	// PurgeTasks deletes tasks in the given status completed before the cutoff.
	PurgeTasks(ctx context.Context, status string, before time.Time) (int64, error)
}

// Store is the full set of contracts a single backend can provide.
type Store interface {
	MemoryReader
	InsightStore
	TemplateStore
	TaskQueueStore

	// Close releases any resources held by the store.
	Close() error
}
