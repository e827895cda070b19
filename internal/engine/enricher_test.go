package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/pkg/types"
)

func storedInsight(t *testing.T, store interface {
	InsertInsight(ctx context.Context, in *types.Insight) error
}, id string, typ types.InsightType, category, title string, sources ...string) *types.Insight {
	t.Helper()
	in := draft(typ, category, title, okSummary, 0.8, sources...)
	in.ID = id
	in.ValidationStatus = types.ValidationValidated
	in.CreatedAt = time.Now().UTC()
	in.UpdatedAt = in.CreatedAt
	require.NoError(t, store.InsertInsight(context.Background(), in))
	return in
}

func insertDraft(t *testing.T, store interface {
	InsertInsight(ctx context.Context, in *types.Insight) error
}, id string, in *types.Insight) {
	t.Helper()
	in.ID = id
	in.ValidationStatus = types.ValidationValidated
	in.CreatedAt = time.Now().UTC()
	in.UpdatedAt = in.CreatedAt
	require.NoError(t, store.InsertInsight(context.Background(), in))
}

func TestContextEnricher(t *testing.T) {
	m := newMemory("m1", types.MemoryTypeCode, "content")
	m.Tags = []string{"go", "api"}

	in := draft(types.InsightCodeSmell, "code_quality", "Title", okSummary, 0.7)
	in.ProjectID = ""
	in.Tags = []string{"go"}

	require.NoError(t, ContextEnricher{}.Enrich(context.Background(), in, m))
	assert.Equal(t, "proj", in.ProjectID)
	assert.Equal(t, []string{"go", "api", "code"}, in.Tags)

	ctxInfo, ok := in.DetailedContent["context"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "m1", ctxInfo["memory_id"])
	assert.Equal(t, types.MemoryTypeCode, ctxInfo["memory_type"])

	cluster := draft(types.InsightCluster, "meta_learning", "Cluster", okSummary, 0.7)
	require.NoError(t, ContextEnricher{}.Enrich(context.Background(), cluster, nil))
	assert.Nil(t, cluster.DetailedContent)
}

func TestRelatedInsightEnricher(t *testing.T) {
	store := newTestStore(t)
	storedInsight(t, store, "same-source", types.InsightBug, "debugging", "Timeout", "m1")
	storedInsight(t, store, "same-kind", types.InsightCodeSmell, "code_quality", "Magic numbers", "m9")
	storedInsight(t, store, "unrelated", types.InsightPattern, "design_pattern", "Factory", "m7")

	in := draft(types.InsightCodeSmell, "code_quality", "Long function", okSummary, 0.7, "m1")
	require.NoError(t, NewRelatedInsightEnricher(store).Enrich(context.Background(), in, nil))
	assert.ElementsMatch(t, []string{"same-source", "same-kind"}, in.RelatedInsightIDs)
}

func TestContradictionEnricher(t *testing.T) {
	store := newTestStore(t)
	storedInsight(t, store, "praise", types.InsightImprovement, "code_quality", "Cleaner error handling", "m1")
	storedInsight(t, store, "other-category", types.InsightImprovement, "performance", "Faster startup", "m1")
	storedInsight(t, store, "other-source", types.InsightImprovement, "code_quality", "Better naming", "m2")
	storedInsight(t, store, "also-negative", types.InsightBug, "code_quality", "Crash", "m1")

	in := draft(types.InsightCodeSmell, "code_quality", "Long function", okSummary, 0.7, "m1")
	require.NoError(t, NewContradictionEnricher(store).Enrich(context.Background(), in, nil))
	assert.Equal(t, []string{"praise"}, in.ContradictsInsightIDs)

	neutral := draft(types.InsightGeneral, "code_quality", "Note", okSummary, 0.7, "m1")
	require.NoError(t, NewContradictionEnricher(store).Enrich(context.Background(), neutral, nil))
	assert.Empty(t, neutral.ContradictsInsightIDs)
}

type fakeEmbedder struct {
	err   error
	texts []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

func TestEmbeddingEnricher(t *testing.T) {
	emb := &fakeEmbedder{}
	in := draft(types.InsightBug, "debugging", "Timeout", okSummary, 0.7)
	require.NoError(t, NewEmbeddingEnricher(emb).Enrich(context.Background(), in, nil))
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, in.Embedding)
	assert.Equal(t, []string{"Timeout\n" + okSummary}, emb.texts)

	none := draft(types.InsightBug, "debugging", "Timeout", okSummary, 0.7)
	require.NoError(t, NewEmbeddingEnricher(nil).Enrich(context.Background(), none, nil))
	assert.Nil(t, none.Embedding)
}

func TestRelatedInsightEnricher_EmbeddingNeighbours(t *testing.T) {
	store := newTestStore(t)
	near := draft(types.InsightBug, "debugging", "Retry storm", okSummary, 0.8, "m7")
	near.Embedding = []float32{0.1, 0.2, 0.3}
	insertDraft(t, store, "near", near)
	far := draft(types.InsightPattern, "architectural", "Event sourcing", okSummary, 0.8, "m8")
	far.Embedding = []float32{-0.3, 0.2, -0.1}
	insertDraft(t, store, "far", far)

	emb := &fakeEmbedder{}
	p := NewEnricherPipeline(zap.NewNop(), NewEmbeddingEnricher(emb), NewRelatedInsightEnricher(store))

	in := draft(types.InsightCodeSmell, "code_quality", "Long function", okSummary, 0.7, "m1")
	require.Zero(t, p.Run(context.Background(), []*types.Insight{in}, nil))
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, in.Embedding)
	assert.Equal(t, []string{"near"}, in.RelatedInsightIDs)

	// Without an embedding only source and kind matches apply.
	plain := draft(types.InsightCodeSmell, "code_quality", "Long function", okSummary, 0.7, "m1")
	require.NoError(t, NewRelatedInsightEnricher(store).Enrich(context.Background(), plain, nil))
	assert.Empty(t, plain.RelatedInsightIDs)
}

func TestEnricherPipeline_ContinuesPastFailures(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("model offline")}
	p := NewEnricherPipeline(zap.NewNop(), NewEmbeddingEnricher(emb), ContextEnricher{})

	m := newMemory("m1", types.MemoryTypeBug, "content")
	insights := []*types.Insight{
		draft(types.InsightBug, "debugging", "A", okSummary, 0.7),
		draft(types.InsightBug, "debugging", "B", okSummary, 0.7),
	}
	assert.Equal(t, 2, p.Run(context.Background(), insights, m))
	for _, in := range insights {
		assert.Contains(t, in.Tags, types.MemoryTypeBug)
	}
}
