package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/internal/storage/postgres"
	"github.com/scrypster/memento-insights/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore connects to the test database and empties every table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	store, err := postgres.NewStore(postgresTestDSN(t), zap.NewNop())
	require.NoError(t, err, "NewStore should succeed")
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.TruncateForTest(context.Background()), "truncate tables")
	return store
}

func newInsight(id, title string, embedding []float32, sources ...string) *types.Insight {
	return &types.Insight{
		ID:               id,
		ProjectID:        "proj",
		InsightType:      types.InsightPattern,
		InsightCategory:  types.CategoryArchitectural,
		Title:            title,
		Summary:          "Handlers delegate to services.",
		SourceType:       types.SourceMemory,
		SourceIDs:        sources,
		DetectionMethod:  "category",
		ConfidenceScore:  0.7,
		ValidationStatus: types.ValidationValidated,
		Tags:             []string{"architecture"},
		Embedding:        embedding,
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutMemory(ctx, &types.Memory{ID: "m1", MemoryType: types.MemoryTypeBug, Content: "nil pointer", Tags: []string{"go"}}))
	require.NoError(t, store.PutMemory(ctx, &types.Memory{ID: "m2", Content: "other"}))

	got, err := store.GetMemories(ctx, []string{"m2", "nope", "m1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, []string{"go"}, got[1].Tags)

	_, err = store.GetMemory(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsightSupersessionAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newInsight("i1", "Layered architecture", []float32{1, 0, 0}, "m1")
	outcome, err := store.InsertWithSupersession(ctx, first, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeInserted, outcome)

	dup := newInsight("i2", "layered architecture", nil, "m1")
	outcome, err = store.InsertWithSupersession(ctx, dup, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeCollapsed, outcome)
	assert.Equal(t, "i1", dup.ID)

	next := newInsight("i3", "Layered architecture", []float32{0.9, 0.1, 0}, "m1", "m2")
	outcome, err = store.InsertWithSupersession(ctx, next, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeSuperseded, outcome)

	got, err := store.GetInsight(ctx, "i3")
	require.NoError(t, err)
	assert.Equal(t, "i1", got.SupersedesInsightID)
	assert.Equal(t, []string{"m1", "m2"}, got.SourceIDs)

	page, err := store.QueryInsights(ctx, storage.InsightFilter{SourceID: "m2"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "i3", page.Items[0].ID)

	bySource, err := store.FindBySourceIDs(ctx, "proj", []string{"m1"}, 10)
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	similar, err := store.SimilarInsights(ctx, "proj", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "i1", similar[0].ID)
}

func TestConcurrentSupersessionCollapses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.InsertWithSupersession(ctx, newInsight(fmt.Sprintf("c%d", i), "Retry with backoff", nil, "m1"), time.Hour)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats, err := store.InsightStats(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestQueueClaimSkipsLocked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.EnqueueTask(ctx, &types.QueueTask{
			ID:           fmt.Sprintf("t%d", i),
			TaskType:     types.TaskProcessMemory,
			Priority:     i + 1,
			SourceIDs:    []string{"m1"},
			MaxRetries:   3,
			ScheduledFor: now.Add(-time.Minute),
		}))
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[string]int)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimTasks(ctx, now, 2)
			assert.NoError(t, err)
			mu.Lock()
			for _, task := range claimed {
				seen[task.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 4)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s claimed more than once", id)
	}

	require.NoError(t, store.CompleteTask(ctx, "t3", "done", now))
	counts, err := store.TaskCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.TaskCompleted])
	assert.Equal(t, 3, counts[types.TaskProcessing])

	n, err := store.RequeueProcessing(ctx, now.Add(time.Second), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	counts, err = store.TaskCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[types.TaskPending])
	assert.Equal(t, 0, counts[types.TaskProcessing])
}

func TestTemplateUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tmpl := &types.AnalysisTemplate{Name: "evolution_analysis", Category: types.TemplateCategoryClusterAnalysis,
		PromptTemplate: "Trace {focus}", Variables: []string{"focus"}, IsActive: true, Temperature: 0.3, MaxTokens: 1000}
	require.NoError(t, store.UpsertTemplate(ctx, tmpl))
	id := tmpl.ID

	again := *tmpl
	again.ID = ""
	require.NoError(t, store.UpsertTemplate(ctx, &again))
	assert.Equal(t, id, again.ID)

	list, err := store.ListTemplates(ctx, types.TemplateCategoryClusterAnalysis, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"focus"}, list[0].Variables)
}
