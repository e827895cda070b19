package processor

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-insights/pkg/types"
)

func TestNewDraft(t *testing.T) {
	m := &types.Memory{ID: "m1", ProjectID: "p1"}
	in := NewDraft(m, types.InsightPattern, types.CategoryArchitectural, "Title", "Summary text", "x")

	assert.Equal(t, []string{"m1"}, in.SourceIDs)
	assert.Equal(t, "p1", in.ProjectID)
	assert.Equal(t, types.SourceMemory, in.SourceType)
	assert.Equal(t, types.ValidationPending, in.ValidationStatus)
	assert.Empty(t, in.ID)
}

func TestAddHelpersDeduplicate(t *testing.T) {
	in := &types.Insight{}

	AddEvidence(in, types.Evidence{Type: "code", Description: "x := 1"})
	AddEvidence(in, types.Evidence{Type: "CODE", Description: "x := 1"})
	AddEvidence(in, types.Evidence{Type: "code", Description: "  "})
	assert.Len(t, in.Evidence, 1)

	AddRecommendation(in, types.Recommendation{Title: "Refactor", Category: "anti_pattern"})
	AddRecommendation(in, types.Recommendation{Title: "refactor", Category: "anti_pattern"})
	AddRecommendation(in, types.Recommendation{Title: "Refactor", Category: "security"})
	require.Len(t, in.Recommendations, 2)
	assert.Equal(t, types.PriorityMedium, in.Recommendations[0].Priority)

	AddTechnology(in, types.Technology{Name: "Go", Category: "language", Confidence: 0.5})
	AddTechnology(in, types.Technology{Name: "go", Category: "language", Confidence: 0.9})
	require.Len(t, in.Technologies, 1)
	assert.Equal(t, 0.9, in.Technologies[0].Confidence)

	AddTag(in, " Security ")
	AddTag(in, "security")
	assert.Equal(t, []string{"security"}, in.Tags)
}

func TestAddPatternMerges(t *testing.T) {
	in := &types.Insight{}
	AddPattern(in, types.Pattern{Name: "God Object", Category: "anti_pattern", Confidence: 0.6, Evidence: []string{"a"}})
	AddPattern(in, types.Pattern{Name: "god_object", Category: "Anti_Pattern", Confidence: 0.8, Evidence: []string{"b", "a"}})
	AddPattern(in, types.Pattern{Name: "god_object", Category: "design_pattern", Confidence: 0.5})

	require.Len(t, in.Patterns, 2)
	assert.Equal(t, 0.8, in.Patterns[0].Confidence)
	assert.Equal(t, []string{"a", "b"}, in.Patterns[0].Evidence)
}

func TestMergePatternsIsIdempotent(t *testing.T) {
	patterns := []types.Pattern{
		{Name: "retry", Category: "architectural", Confidence: 0.7},
		{Name: "Retry", Category: "architectural", Confidence: 0.9},
		{Name: "cache", Category: "performance", Confidence: 0.6},
	}
	once := MergePatterns(patterns)
	twice := MergePatterns(once)

	assert.Len(t, once, 2)
	assert.Equal(t, once, twice)
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0.42, 0.42},
		{1.7, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampConfidence(tt.in))
	}
}

func TestAggregateConfidence(t *testing.T) {
	assert.Equal(t, 0.0, AggregateConfidence(nil))

	single := []types.Pattern{{Confidence: 0.7}}
	assert.InDelta(t, 0.7, AggregateConfidence(single), 1e-9)

	// (0.9*3 + 0.5*1) / 4 = 0.8, plus 0.04 for two pieces of evidence.
	weighted := []types.Pattern{
		{Confidence: 0.9, Evidence: []string{"a", "b"}},
		{Confidence: 0.5},
	}
	assert.InDelta(t, 0.84, AggregateConfidence(weighted), 1e-9)

	capped := []types.Pattern{{Confidence: 1, Evidence: []string{"a", "b", "c", "d", "e", "f", "g"}}}
	assert.Equal(t, 1.0, AggregateConfidence(capped))
}

func TestHandleError(t *testing.T) {
	m := &types.Memory{ID: "m9", ProjectID: "p"}
	in := HandleError(m, NameCategory, errors.New("llm timeout"))

	assert.Equal(t, types.InsightGeneral, in.InsightType)
	assert.Equal(t, types.CategoryProcessingError, in.InsightCategory)
	assert.Equal(t, 0.1, in.ConfidenceScore)
	assert.Equal(t, []string{"m9"}, in.SourceIDs)
	assert.Contains(t, in.Summary, "llm timeout")
	assert.Equal(t, "diagnostic", in.DetailedContent["kind"])
	assert.Equal(t, "category", in.DetailedContent["processor"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}
