package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// maxRelatedInsights bounds RelatedInsightIDs on a single insight.
const maxRelatedInsights = 10

// minRelatedSimilarity is the cosine similarity an embedding neighbour needs
// to count as related.
const minRelatedSimilarity = 0.8

// Enricher adds relational or contextual metadata to a draft insight.
// memory is nil for cluster insights.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, insight *types.Insight, memory *types.Memory) error
}

// EnricherPipeline runs enrichers in order. A failing enricher is logged and
// the remaining enrichers still run.
type EnricherPipeline struct {
	enrichers []Enricher
	logger    *zap.Logger
}

// NewEnricherPipeline creates a pipeline over enrichers.
func NewEnricherPipeline(logger *zap.Logger, enrichers ...Enricher) *EnricherPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnricherPipeline{enrichers: enrichers, logger: logger.Named("enrichers")}
}

// Run enriches every insight and returns the number of enricher failures.
func (p *EnricherPipeline) Run(ctx context.Context, insights []*types.Insight, memory *types.Memory) int {
	failures := 0
	for _, in := range insights {
		for _, e := range p.enrichers {
			if err := e.Enrich(ctx, in, memory); err != nil {
				failures++
				p.logger.Warn("enricher failed",
					zap.String("enricher", e.Name()),
					zap.String("insight", in.Title),
					zap.Error(err))
			}
		}
	}
	return failures
}

// ContextEnricher copies memory context onto the insight: project, tags, type.
type ContextEnricher struct{}

// Name implements Enricher.
func (ContextEnricher) Name() string { return "context" }

// Enrich implements Enricher.
func (ContextEnricher) Enrich(ctx context.Context, in *types.Insight, memory *types.Memory) error {
	if memory == nil {
		return nil
	}
	if in.ProjectID == "" {
		in.ProjectID = memory.ProjectID
	}
	for _, tag := range memory.Tags {
		processor.AddTag(in, tag)
	}
	if memory.MemoryType != "" {
		processor.AddTag(in, memory.MemoryType)
	}

	if in.DetailedContent == nil {
		in.DetailedContent = make(map[string]interface{})
	}
	in.DetailedContent["context"] = map[string]interface{}{
		"memory_id":   memory.ID,
		"memory_type": memory.MemoryType,
		"memory_tags": append([]string{}, memory.Tags...),
		"project_id":  memory.ProjectID,
	}
	return nil
}

// RelatedInsightEnricher links stored insights that share a source memory,
// that are nearest to the insight's embedding, or that have the same type and
// category, in that order of preference. The embedding lookup needs a store
// implementing storage.SimilarInsightFinder and an embedded insight, so it
// runs after EmbeddingEnricher.
type RelatedInsightEnricher struct {
	store   storage.InsightStore
	similar storage.SimilarInsightFinder
}

// NewRelatedInsightEnricher creates the enricher.
func NewRelatedInsightEnricher(store storage.InsightStore) *RelatedInsightEnricher {
	e := &RelatedInsightEnricher{store: store}
	if finder, ok := store.(storage.SimilarInsightFinder); ok {
		e.similar = finder
	}
	return e
}

// Name implements Enricher.
func (e *RelatedInsightEnricher) Name() string { return "related_insights" }

// Enrich implements Enricher.
func (e *RelatedInsightEnricher) Enrich(ctx context.Context, in *types.Insight, memory *types.Memory) error {
	bySource, err := e.store.FindBySourceIDs(ctx, in.ProjectID, in.SourceIDs, maxRelatedInsights)
	if err != nil {
		return fmt.Errorf("failed to find insights by source: %w", err)
	}
	var nearest []*types.Insight
	if e.similar != nil && len(in.Embedding) > 0 {
		found, err := e.similar.SimilarInsights(ctx, in.ProjectID, in.Embedding, maxRelatedInsights)
		if err != nil {
			return fmt.Errorf("failed to find similar insights: %w", err)
		}
		for _, f := range found {
			if processor.CosineSimilarity(in.Embedding, f.Embedding) >= minRelatedSimilarity {
				nearest = append(nearest, f)
			}
		}
	}
	byKind, err := e.store.FindByTypeCategory(ctx, in.ProjectID, in.InsightType, in.InsightCategory, maxRelatedInsights)
	if err != nil {
		return fmt.Errorf("failed to find insights by type: %w", err)
	}

	candidates := append(append(bySource, nearest...), byKind...)
	ids := append([]string{}, in.RelatedInsightIDs...)
	for _, found := range candidates {
		if len(ids) >= maxRelatedInsights {
			break
		}
		if found.ID == "" || found.ID == in.ID || containsString(ids, found.ID) {
			continue
		}
		ids = append(ids, found.ID)
	}
	in.RelatedInsightIDs = ids
	return nil
}

// Polarity of an insight type: positive findings describe something done
// well, negative ones something to fix.
const (
	polarityNone = iota
	polarityPositive
	polarityNegative
)

var typePolarity = map[types.InsightType]int{
	types.InsightImprovement:      polarityPositive,
	types.InsightPattern:          polarityPositive,
	types.InsightAntiPattern:      polarityNegative,
	types.InsightCodeSmell:        polarityNegative,
	types.InsightBug:              polarityNegative,
	types.InsightSecurityIssue:    polarityNegative,
	types.InsightPerformanceIssue: polarityNegative,
}

// ContradictionEnricher flags stored insights about the same sources and
// category whose type has the opposite polarity.
type ContradictionEnricher struct {
	store storage.InsightStore
	limit int
}

// NewContradictionEnricher creates the enricher.
func NewContradictionEnricher(store storage.InsightStore) *ContradictionEnricher {
	return &ContradictionEnricher{store: store, limit: 20}
}

// Name implements Enricher.
func (e *ContradictionEnricher) Name() string { return "contradictions" }

// Enrich implements Enricher.
func (e *ContradictionEnricher) Enrich(ctx context.Context, in *types.Insight, memory *types.Memory) error {
	polarity := typePolarity[in.InsightType]
	if polarity == polarityNone {
		return nil
	}

	candidates, err := e.store.FindBySourceIDs(ctx, in.ProjectID, in.SourceIDs, e.limit)
	if err != nil {
		return fmt.Errorf("failed to find insights by source: %w", err)
	}
	for _, c := range candidates {
		other := typePolarity[c.InsightType]
		if other == polarityNone || other == polarity {
			continue
		}
		if !strings.EqualFold(c.InsightCategory, in.InsightCategory) {
			continue
		}
		if c.ID == in.ID || containsString(in.ContradictsInsightIDs, c.ID) {
			continue
		}
		in.ContradictsInsightIDs = append(in.ContradictsInsightIDs, c.ID)
	}
	return nil
}

// EmbeddingEnricher fills the insight embedding from its title and summary.
// It is a no-op without a generator.
type EmbeddingEnricher struct {
	embedder llm.EmbeddingGenerator
}

// NewEmbeddingEnricher creates the enricher. embedder may be nil.
func NewEmbeddingEnricher(embedder llm.EmbeddingGenerator) *EmbeddingEnricher {
	return &EmbeddingEnricher{embedder: embedder}
}

// Name implements Enricher.
func (e *EmbeddingEnricher) Name() string { return "embedding" }

// Enrich implements Enricher.
func (e *EmbeddingEnricher) Enrich(ctx context.Context, in *types.Insight, memory *types.Memory) error {
	if e.embedder == nil || len(in.Embedding) > 0 {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, strings.TrimSpace(in.Title+"\n"+in.Summary))
	if err != nil {
		return fmt.Errorf("failed to embed insight: %w", err)
	}
	in.Embedding = vec
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
