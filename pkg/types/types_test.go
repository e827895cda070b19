package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/memento-insights/pkg/types"
)

func TestMemoryHelpers(t *testing.T) {
	var nilMem *types.Memory
	assert.False(t, nilMem.HasContent())
	assert.Zero(t, nilMem.ImportanceScore())

	m := &types.Memory{Content: " \n\t "}
	assert.False(t, m.HasContent())
	assert.Zero(t, m.ImportanceScore())

	score := 0.8
	m = &types.Memory{Content: "refactored the parser", Importance: &score}
	assert.True(t, m.HasContent())
	assert.Equal(t, 0.8, m.ImportanceScore())
}

func TestInsightSignature(t *testing.T) {
	a := &types.Insight{
		InsightType:     types.InsightCodeSmell,
		InsightCategory: "Code_Quality ",
		Title:           "  Deeply-Nested   Conditionals!!",
	}
	b := &types.Insight{
		InsightType:     types.InsightCodeSmell,
		InsightCategory: types.CategoryCodeQuality,
		Title:           "deeply nested conditionals",
	}
	assert.Equal(t, "code_smell|code_quality|deeply nested conditionals", a.Signature())
	assert.Equal(t, a.Signature(), b.Signature())

	b.InsightType = types.InsightAntiPattern
	assert.NotEqual(t, a.Signature(), b.Signature())
}

func TestInsightDetail(t *testing.T) {
	i := &types.Insight{SourceIDs: []string{"m1", "m2"}}
	assert.True(t, i.HasSource("m2"))
	assert.False(t, i.HasSource("m3"))

	i.SetDetail(nil)
	assert.Nil(t, i.DetailedContent)

	i.SetDetail(types.BugDetail{RootCause: "nil map"})
	assert.Equal(t, "bug", i.DetailedContent["kind"])
	assert.Equal(t, []string{}, i.DetailedContent["error_classes"])

	i.DetailedContent["related_memories"] = []string{"m9"}
	i.MergeDetail(types.DiagnosticDetail{Processor: "bug_analyzer", Error: "boom"})
	assert.Equal(t, "diagnostic", i.DetailedContent["kind"])
	assert.Equal(t, "boom", i.DetailedContent["error"])
	assert.Equal(t, []string{"m9"}, i.DetailedContent["related_memories"])
}

func TestIsValidInsightType(t *testing.T) {
	for _, typ := range types.ValidInsightTypes {
		assert.True(t, types.IsValidInsightType(string(typ)), typ)
	}
	assert.False(t, types.IsValidInsightType("Pattern"))
	assert.False(t, types.IsValidInsightType(""))
}

func TestClampPriority(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, types.DefaultTaskPriority},
		{-4, types.MinTaskPriority},
		{1, 1},
		{7, 7},
		{42, types.MaxTaskPriority},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, types.ClampPriority(tt.in), "ClampPriority(%d)", tt.in)
	}

	task := &types.QueueTask{RetryCount: 2, MaxRetries: 3}
	assert.True(t, task.CanRetry())
	task.RetryCount = 3
	assert.False(t, task.CanRetry())
}

func TestTemplateRender(t *testing.T) {
	tmpl := &types.AnalysisTemplate{
		PromptTemplate: "Analyze {content} as {memory_type}. Again: {content}. Missing: {focus}",
		Tags:           []string{"Architecture"},
	}
	assert.Equal(t, []string{"content", "memory_type", "focus"}, tmpl.Placeholders())
	assert.Equal(t,
		"Analyze x as code. Again: x. Missing: {focus}",
		tmpl.Render(map[string]string{"content": "x", "memory_type": "code"}))
	assert.True(t, tmpl.HasTag("architecture"))
	assert.False(t, tmpl.HasTag("security"))
}

func TestNewCluster(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	memories := []*types.Memory{
		{ID: "m1", MemoryType: "bug", Content: "Login endpoint leaked the session token", Tags: []string{"Auth", " auth"}, CreatedAt: start},
		{ID: "m2", MemoryType: "bug", Content: "Session token expired during login", Tags: []string{"auth", "db"}, CreatedAt: start.Add(36 * time.Hour)},
		{ID: "m3", MemoryType: "note", Content: "Cache warmed", Tags: []string{"db"}},
	}

	c := types.NewCluster("c1", "type", memories)
	assert.Equal(t, 3, c.Size())
	assert.Equal(t, []string{"m1", "m2", "m3"}, c.MemberIDs())
	assert.Equal(t, map[string]int{"bug": 2, "note": 1}, c.TypeCounts())
	assert.Equal(t, []string{"auth", "db"}, c.CommonTags)
	assert.Equal(t, []string{"login", "session", "token"}, c.CommonThemes)
	assert.Equal(t, start, c.Earliest)
	assert.Equal(t, 2, c.TimeSpanDays)
}

func TestContentTerms(t *testing.T) {
	assert.Equal(t,
		[]string{"retry_count", "should_not", "overflow"},
		types.ContentTerms("The retry_count should_not overflow; this is it."))
}
