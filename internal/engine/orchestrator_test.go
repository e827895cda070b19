package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/internal/services"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

const nestedFunction = `function f(a,b,c,d,e,f,g,h){ if(a){if(b){if(c){...}}} }`

func TestNewOrchestrator_RequiresDeps(t *testing.T) {
	store := newTestStore(t)
	registry := processor.NewRegistry(processor.Deps{})

	_, err := NewOrchestrator(DefaultConfig(), Deps{Store: store})
	assert.Error(t, err)

	_, err = NewOrchestrator(DefaultConfig(), Deps{Registry: registry})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.BatchConcurrency = 0
	_, err = NewOrchestrator(cfg, Deps{Registry: registry, Store: store})
	assert.Error(t, err)
}

func TestProcessMemory_CodeMemoryEndToEnd(t *testing.T) {
	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, nil)
	ctx := context.Background()

	res, err := orch.ProcessMemory(ctx, newMemory("m1", types.MemoryTypeCode, nestedFunction), ProcessOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, []processor.Name{processor.NameCodeQuality, processor.NamePatternDetector, processor.NameCategory}, res.Metrics.Strategy)
	assert.Zero(t, res.Metrics.ProcessorErrors)

	require.Len(t, res.Insights, 2)
	var smells []string
	for _, in := range res.Insights {
		smells = append(smells, in.Subcategory)
		assert.NotEmpty(t, in.ID)
		assert.Equal(t, types.ValidationValidated, in.ValidationStatus)
		assert.Equal(t, "proj", in.ProjectID)
		assert.Equal(t, []string{"m1"}, in.SourceIDs)
		assert.Contains(t, in.Tags, types.MemoryTypeCode)
		assert.Contains(t, in.DetailedContent, "context")
	}
	assert.Equal(t, []string{processor.SmellLongParameterList, processor.SmellNestedConditionals}, smells)
	assert.Equal(t, 2, res.Metrics.Generated)
	assert.Equal(t, 2, res.Metrics.Stored)

	page, err := orch.QueryInsights(ctx, storage.InsightFilter{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	// Reprocessing the same memory collapses into the existing rows.
	again, err := orch.ProcessMemory(ctx, newMemory("m1", types.MemoryTypeCode, nestedFunction), ProcessOptions{})
	require.NoError(t, err)
	assert.Zero(t, again.Metrics.Stored)
	page, err = orch.QueryInsights(ctx, storage.InsightFilter{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestProcessMemory_GeneralMemoryUsesFallback(t *testing.T) {
	orch := newTestOrchestrator(t, newTestStore(t), nil)

	res, err := orch.ProcessMemory(context.Background(), newMemory("m1", types.MemoryTypeGeneral, nestedFunction), ProcessOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []processor.Name{processor.NamePatternDetector}, res.Metrics.Strategy)
	assert.Empty(t, res.Insights)
}

func TestProcessMemory_BlankContentShortCircuits(t *testing.T) {
	stub := &stubProcessor{}
	orch := newTestOrchestrator(t, newTestStore(t), map[processor.Name]processor.Factory{
		processor.NamePatternDetector: stubFactory(stub),
	})

	res, err := orch.ProcessMemory(context.Background(), newMemory("m1", types.MemoryTypeGeneral, " \n\t "), ProcessOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Insights)
	assert.Empty(t, stub.seen())

	_, err = orch.ProcessMemory(context.Background(), nil, ProcessOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestProcessMemory_ProcessorFailureBecomesRejectedDiagnostic(t *testing.T) {
	failing := &stubProcessor{failFor: map[string]bool{"m1": true}}
	panicking := &stubProcessor{panicFor: map[string]bool{"m1": true}}
	healthy := &stubProcessor{}
	orch := newTestOrchestrator(t, newTestStore(t), map[processor.Name]processor.Factory{
		"failing":   stubFactory(failing),
		"panicking": stubFactory(panicking),
		"healthy":   stubFactory(healthy),
	})

	res, err := orch.ProcessMemory(context.Background(), newMemory("m1", types.MemoryTypeNote, "some content"), ProcessOptions{
		Processors: []string{"failing", "panicking", "healthy"},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Metrics.ProcessorErrors)
	assert.Equal(t, []string{"m1"}, healthy.seen())

	require.Len(t, res.Insights, 1)
	assert.Equal(t, "Finding for m1", res.Insights[0].Title)

	require.Len(t, res.Rejected, 2)
	for _, in := range res.Rejected {
		assert.Equal(t, types.CategoryProcessingError, in.InsightCategory)
		assert.Equal(t, types.ValidationRejected, in.ValidationStatus)
		assert.Contains(t, in.RejectionReason, "below minimum")
	}
}

func TestProcessMemory_SkipStorage(t *testing.T) {
	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, map[processor.Name]processor.Factory{
		processor.NamePatternDetector: stubFactory(&stubProcessor{}),
	})

	res, err := orch.ProcessMemory(context.Background(), newMemory("m1", types.MemoryTypeGeneral, "content"), ProcessOptions{SkipStorage: true})
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	assert.Empty(t, res.Insights[0].ID)

	stats, err := store.InsightStats(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	base := newTestStore(t)
	store := &selectiveFailStore{InsightStore: base, failSource: "m3"}
	orch := newTestOrchestrator(t, store, map[processor.Name]processor.Factory{
		processor.NamePatternDetector: stubFactory(&stubProcessor{}),
	})
	orch.config.BatchConcurrency = 2

	var memories []*types.Memory
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		memories = append(memories, newMemory(id, types.MemoryTypeGeneral, "content for "+id))
	}

	res, err := orch.ProcessBatch(context.Background(), memories, ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Contains(t, res.Errors, "m3")
	assert.Contains(t, res.Errors["m3"], "disk full")
	assert.ElementsMatch(t,
		[]string{"Finding for m1", "Finding for m2", "Finding for m4", "Finding for m5"},
		titles(res.Insights))

	snap := orch.Metrics().Snapshot()
	assert.Equal(t, int64(4), snap.Processed)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(4), snap.InsightsStored)
}

func TestProcessBatch_ClusterMode(t *testing.T) {
	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, map[processor.Name]processor.Factory{
		processor.NameBugAnalyzer: stubFactory(&stubProcessor{}),
		processor.NameCategory:    stubFactory(&stubProcessor{}),
	})

	memories := []*types.Memory{
		newMemory("m1", types.MemoryTypeBug, "Login endpoint returned a 500 and leaked the session token into the error log."),
		newMemory("m2", types.MemoryTypeBug, "Password reset form crashed with a nil pointer when the email was missing."),
		newMemory("m3", types.MemoryTypeBug, "Auth middleware panicked on an expired token during login."),
	}

	res, err := orch.ProcessBatch(context.Background(), memories, ProcessOptions{ClusterMode: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Successful)
	assert.Empty(t, res.ClusterError)

	var cluster *types.Insight
	for _, in := range res.Insights {
		if in.InsightType == types.InsightCluster {
			cluster = in
		}
	}
	require.NotNil(t, cluster)
	assert.Equal(t, types.SourceMemoryCluster, cluster.SourceType)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, cluster.SourceIDs)
	assert.Equal(t, "Recurring themes across 3 bug memories", cluster.Title)
}

func TestAnalyzeCluster_RequiresClusterProcessor(t *testing.T) {
	orch := newTestOrchestrator(t, newTestStore(t), map[processor.Name]processor.Factory{
		processor.NameClustering: stubFactory(&stubProcessor{}),
	})
	_, err := orch.AnalyzeCluster(context.Background(), nil, nil, ProcessOptions{})
	assert.Error(t, err)
}

func TestShutdownAndHealth(t *testing.T) {
	orch := newTestOrchestrator(t, newTestStore(t), nil)
	ctx := context.Background()

	h := orch.GetHealth(ctx)
	assert.Equal(t, HealthOK, h.Status)
	assert.Contains(t, h.Processors, string(processor.NameCodeQuality))

	_, err := orch.QueueForProcessing(ctx, types.TaskProcessMemory, []string{"m1"}, services.EnqueueOptions{})
	assert.ErrorIs(t, err, ErrNoQueue)

	require.NoError(t, orch.Shutdown(ctx))
	assert.Error(t, orch.Shutdown(ctx))
	assert.Equal(t, HealthStopped, orch.GetHealth(ctx).Status)

	_, err = orch.ProcessMemory(ctx, newMemory("m1", types.MemoryTypeCode, nestedFunction), ProcessOptions{})
	assert.ErrorIs(t, err, ErrShuttingDown)
	_, err = orch.ProcessBatch(ctx, nil, ProcessOptions{})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestProcessMemory_EmbedsAndLinksNeighbours(t *testing.T) {
	store := newTestStore(t)
	neighbour := draft(types.InsightBug, "debugging", "Retry storm", okSummary, 0.8, "m9")
	neighbour.Embedding = []float32{0.1, 0.2, 0.3}
	insertDraft(t, store, "neighbour", neighbour)

	emb := &fakeEmbedder{}
	registry := processor.NewRegistry(processor.Deps{})
	registry.Register(processor.NamePatternDetector, stubFactory(&stubProcessor{}))
	orch, err := NewOrchestrator(DefaultConfig(), Deps{
		Registry: registry,
		Store:    store,
		Embedder: emb,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)

	res, err := orch.ProcessMemory(context.Background(), newMemory("m1", types.MemoryTypeGeneral, "content"), ProcessOptions{})
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	assert.Len(t, res.Insights[0].Embedding, 3)
	assert.Len(t, emb.texts, 1)
	assert.Equal(t, []string{"neighbour"}, res.Insights[0].RelatedInsightIDs)

	stored, err := store.GetInsight(context.Background(), res.Insights[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"neighbour"}, stored.RelatedInsightIDs)
}
