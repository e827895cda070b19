package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-insights/pkg/types"
)

const securityMemoryContent = `Login handler builds the SQL query with string concatenation and the admin password is hard-coded in config.go.`

func newCategoryProcessor(t *testing.T, client *mockLLMClient, store *memTemplateStore) *CategoryProcessor {
	t.Helper()
	p := NewCategoryProcessor(Deps{LLM: client, Templates: store})
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func TestCategoryProcessor_OneInsightPerCategory(t *testing.T) {
	client := newMockLLMClient(
		`["security_review", "not_a_template"]`,
		"```json\n"+`{"patterns": [
			{"name": "sql_injection", "category": "security", "description": "Query built by concatenation", "confidence": 0.9, "evidence": ["query := \"SELECT ...\" + name"]},
			{"name": "hardcoded_credentials", "category": "security", "confidence": 0.8},
			{"name": "god_config", "category": "anti_pattern", "confidence": 0.7}
		]}`+"\n```",
	)
	p := newCategoryProcessor(t, client, defaultTemplateStore(t))
	m := &types.Memory{ID: "m1", ProjectID: "p1", MemoryType: types.MemoryTypeCode, Content: securityMemoryContent, Tags: []string{"go", "postgres"}}

	insights, err := p.Process(context.Background(), m, Options{})
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, 2, client.calls(), "tags skip the technology call")

	sec := insights[0]
	assert.Equal(t, types.InsightSecurityIssue, sec.InsightType)
	assert.Equal(t, types.CategorySecurity, sec.InsightCategory)
	assert.Equal(t, MethodCategory, sec.DetectionMethod)
	assert.Equal(t, []string{"m1"}, sec.SourceIDs)
	assert.Equal(t, "p1", sec.ProjectID)
	assert.Len(t, sec.Patterns, 2)
	require.Len(t, sec.Recommendations, 1)
	assert.Equal(t, types.PriorityCritical, sec.Recommendations[0].Priority)
	assert.Contains(t, sec.Tags, "security_review")
	assert.GreaterOrEqual(t, sec.ConfidenceScore, 0.6)
	assert.LessOrEqual(t, sec.ConfidenceScore, 1.0)
	require.Len(t, sec.Technologies, 2)
	assert.Equal(t, "go", sec.Technologies[0].Name)
	assert.Equal(t, "pattern", sec.DetailedContent["kind"])

	anti := insights[1]
	assert.Equal(t, types.InsightAntiPattern, anti.InsightType)
	require.Len(t, anti.Recommendations, 1)
	assert.Equal(t, types.PriorityHigh, anti.Recommendations[0].Priority)

	assert.Contains(t, client.prompt(1), "Perform a security review", "selected template rendered")
	assert.Contains(t, client.prompt(1), securityMemoryContent)
}

func TestCategoryProcessor_ClassificationFallsBackToGeneric(t *testing.T) {
	client := newMockLLMClient(
		"I think you should use several templates.",
		`{"patterns": [{"name": "layered_architecture", "category": "architectural", "confidence": 0.8}]}`,
	)
	p := newCategoryProcessor(t, client, defaultTemplateStore(t))
	m := &types.Memory{ID: "m1", MemoryType: types.MemoryTypeNote, Content: "Handlers call services which call repositories; nothing skips a layer in this codebase.", Tags: []string{"architecture"}}

	insights, err := p.Process(context.Background(), m, Options{})
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Contains(t, client.prompt(1), "You are analyzing a developer's note memory")
	assert.Equal(t, []string{GenericTemplate}, insights[0].DetailedContent["templates"])
}

func TestCategoryProcessor_ExtractsTechnologiesWithoutTags(t *testing.T) {
	client := newMockLLMClient(
		`["Go", "PostgreSQL"]`,
		`["generic_patterns"]`,
		`{"patterns": [{"name": "connection_pooling", "category": "performance", "confidence": 0.75, "evidence": ["db.SetMaxOpenConns(25)"]}]}`,
	)
	p := newCategoryProcessor(t, client, defaultTemplateStore(t))
	m := &types.Memory{ID: "m1", MemoryType: types.MemoryTypeLearning, Content: "Raising the connection pool to 25 fixed the latency spikes we saw under load in the API."}

	insights, err := p.Process(context.Background(), m, Options{})
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, 3, client.calls())

	in := insights[0]
	require.Len(t, in.Technologies, 2)
	assert.Equal(t, "go", in.Technologies[0].Name)
	assert.Equal(t, "postgresql", in.Technologies[1].Name)
	assert.Equal(t, types.InsightPerformanceIssue, in.InsightType)
	assert.Contains(t, client.prompt(2), "go, postgresql")
}

func TestCategoryProcessor_MergesPatternsAcrossTemplates(t *testing.T) {
	client := newMockLLMClient(
		`["anti_patterns", "architecture_patterns"]`,
		`{"patterns": [{"name": "god_object", "category": "anti_pattern", "confidence": 0.6, "evidence": ["Manager has 40 methods"]}]}`,
		`{"patterns": [{"name": "God Object", "category": "anti_pattern", "confidence": 0.85, "evidence": ["Manager owns all state"]}]}`,
	)
	p := newCategoryProcessor(t, client, defaultTemplateStore(t))
	m := &types.Memory{ID: "m1", MemoryType: types.MemoryTypeCode, Content: "The Manager type has 40 methods and owns the cache, the db handle and every config value.", Tags: []string{"go"}}

	insights, err := p.Process(context.Background(), m, Options{})
	require.NoError(t, err)
	require.Len(t, insights, 1)

	in := insights[0]
	require.Len(t, in.Patterns, 1)
	assert.Equal(t, 0.85, in.Patterns[0].Confidence)
	assert.ElementsMatch(t, []string{"Manager has 40 methods", "Manager owns all state"}, in.Patterns[0].Evidence)
	assert.ElementsMatch(t, []string{"anti_patterns", "architecture_patterns"}, in.DetailedContent["templates"])
}

func TestCategoryProcessor_DiscardsLowConfidenceAndEmpty(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"low confidence", `{"patterns": [{"name": "maybe_cache", "category": "performance", "confidence": 0.3}]}`},
		{"no patterns", `{"patterns": []}`},
		{"degenerate", `{"patterns": [{"name": "x", "confidence": 0.9}]} ===================`},
		{"unparseable", "nothing useful here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockLLMClient(`["generic_patterns"]`, tt.response)
			p := newCategoryProcessor(t, client, defaultTemplateStore(t))
			m := &types.Memory{ID: "m1", MemoryType: types.MemoryTypeNote, Content: "We might want a cache in front of the pricing service at some point later.", Tags: []string{"pricing"}}

			insights, err := p.Process(context.Background(), m, Options{})
			require.NoError(t, err)
			assert.Empty(t, insights)
		})
	}
}

func TestCategoryProcessor_SkipsWithoutCalling(t *testing.T) {
	tests := []struct {
		name   string
		memory *types.Memory
	}{
		{"empty content", &types.Memory{ID: "m1", MemoryType: types.MemoryTypeNote, Content: "   \n\t"}},
		{"short content", &types.Memory{ID: "m1", MemoryType: types.MemoryTypeNote, Content: "too short to analyze"}},
		{"skipped type", &types.Memory{ID: "m1", MemoryType: "session_summary", Content: securityMemoryContent}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockLLMClient()
			p := newCategoryProcessor(t, client, defaultTemplateStore(t))

			insights, err := p.Process(context.Background(), tt.memory, Options{})
			require.NoError(t, err)
			assert.Empty(t, insights)
			assert.Equal(t, 0, client.calls())
		})
	}
}

func TestCategoryProcessor_AllTemplateCallsFail(t *testing.T) {
	client := newMockLLMClient()
	client.errors = []error{errors.New("classify timeout"), errors.New("generate timeout")}
	p := newCategoryProcessor(t, client, defaultTemplateStore(t))
	m := &types.Memory{ID: "m1", MemoryType: types.MemoryTypeNote, Content: securityMemoryContent, Tags: []string{"go"}}

	insights, err := p.Process(context.Background(), m, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate timeout")
	assert.Empty(t, insights)
}

func TestCategoryProcessor_NoGenerator(t *testing.T) {
	p := NewCategoryProcessor(Deps{Templates: defaultTemplateStore(t)})
	require.NoError(t, p.Initialize(context.Background()))

	insights, err := p.Process(context.Background(), &types.Memory{ID: "m1", Content: securityMemoryContent}, Options{})
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestTemplateCatalog_ReloadIsExplicit(t *testing.T) {
	store := defaultTemplateStore(t, "generic_patterns", "evolution_analysis")
	catalog := NewTemplateCatalog(store, types.TemplateCategoryPatternDetection)
	assert.Equal(t, 0, catalog.Len(), "nothing is loaded before Reload")

	require.NoError(t, catalog.Reload(context.Background()))
	assert.Equal(t, 1, catalog.Len())
	assert.NotNil(t, catalog.Get("generic_patterns"))
	assert.Nil(t, catalog.Get("evolution_analysis"))

	require.NoError(t, store.UpsertTemplate(context.Background(), &types.AnalysisTemplate{
		Name: "extra", Category: types.TemplateCategoryPatternDetection, PromptTemplate: "{content}", IsActive: true,
	}))
	assert.Equal(t, 1, catalog.Len(), "store changes are invisible until Reload")

	require.NoError(t, catalog.Reload(context.Background()))
	assert.Equal(t, 2, catalog.Len())

	store.err = errors.New("db down")
	require.Error(t, catalog.Reload(context.Background()))
	assert.Equal(t, 2, catalog.Len(), "failed reload keeps the previous snapshot")
}
