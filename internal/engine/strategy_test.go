package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/pkg/types"
)

func TestSelectStrategy_Table(t *testing.T) {
	tests := []struct {
		memoryType string
		want       []processor.Name
	}{
		{types.MemoryTypeCode, []processor.Name{processor.NameCodeQuality, processor.NamePatternDetector, processor.NameCategory}},
		{types.MemoryTypeBug, []processor.Name{processor.NameBugAnalyzer, processor.NameCategory}},
		{types.MemoryTypeError, []processor.Name{processor.NameBugAnalyzer, processor.NameCategory}},
		{types.MemoryTypeDecision, []processor.Name{processor.NameDecisionAnalyzer, processor.NameCategory}},
		{types.MemoryTypeArchitecture, []processor.Name{processor.NameDecisionAnalyzer, processor.NameCategory}},
		{types.MemoryTypeReasoning, []processor.Name{processor.NameReasoningAnalyzer}},
		{types.MemoryTypeReasoningStep, []processor.Name{processor.NameReasoningAnalyzer}},
		{types.MemoryTypeNote, []processor.Name{processor.NameCategory, processor.NamePatternDetector}},
		{types.MemoryTypeLearning, []processor.Name{processor.NameCategory, processor.NamePatternDetector}},
		{types.MemoryTypeInsight, []processor.Name{processor.NameCategory, processor.NamePatternDetector}},
		{types.MemoryTypeGeneral, []processor.Name{processor.NamePatternDetector}},
		{"", []processor.Name{processor.NamePatternDetector}},
		{"something_new", []processor.Name{processor.NamePatternDetector}},
		{"  CODE ", []processor.Name{processor.NameCodeQuality, processor.NamePatternDetector, processor.NameCategory}},
	}

	for _, tt := range tests {
		t.Run(tt.memoryType, func(t *testing.T) {
			m := newMemory("m1", tt.memoryType, "content")
			assert.Equal(t, tt.want, SelectStrategy(m, ProcessOptions{}))
		})
	}
}

func TestSelectStrategy_RealTimePutsCategoryFirst(t *testing.T) {
	code := newMemory("m1", types.MemoryTypeCode, "content")
	assert.Equal(t,
		[]processor.Name{processor.NameCategory, processor.NameCodeQuality, processor.NamePatternDetector},
		SelectStrategy(code, ProcessOptions{RealTime: true}))

	reasoning := newMemory("m2", types.MemoryTypeReasoning, "content")
	assert.Equal(t,
		[]processor.Name{processor.NameCategory, processor.NameReasoningAnalyzer},
		SelectStrategy(reasoning, ProcessOptions{RealTime: true}))
}

func TestSelectStrategy_TemplateAppended(t *testing.T) {
	m := newMemory("m1", types.MemoryTypeBug, "content")
	assert.Equal(t,
		[]processor.Name{processor.NameBugAnalyzer, processor.NameCategory, processor.NameTemplate},
		SelectStrategy(m, ProcessOptions{Comprehensive: true}))

	m.Importance = importance(0.9)
	assert.Equal(t,
		[]processor.Name{processor.NameBugAnalyzer, processor.NameCategory, processor.NameTemplate},
		SelectStrategy(m, ProcessOptions{}))

	m.Importance = importance(0.8)
	assert.NotContains(t, SelectStrategy(m, ProcessOptions{}), processor.NameTemplate)
}

func TestSelectStrategy_ExplicitProcessors(t *testing.T) {
	m := newMemory("m1", types.MemoryTypeCode, "content")
	got := SelectStrategy(m, ProcessOptions{
		RealTime:   true,
		Processors: []string{" bug_analyzer", "", "bug_analyzer", "no_such_processor"},
	})
	assert.Equal(t, []processor.Name{processor.NameBugAnalyzer, "no_such_processor"}, got)
}

func TestSelectStrategy_TotalAndDuplicateFree(t *testing.T) {
	memoryTypes := []string{"", "code", "bug", "error", "decision", "architecture", "reasoning",
		"reasoning_step", "note", "learning", "insight", "general", "unknown"}
	optionSets := []ProcessOptions{
		{}, {RealTime: true}, {Comprehensive: true}, {RealTime: true, Comprehensive: true},
	}

	for _, mt := range memoryTypes {
		for _, opts := range optionSets {
			got := SelectStrategy(newMemory("m1", mt, "content"), opts)
			assert.NotEmpty(t, got, "type %q opts %+v", mt, opts)

			seen := map[processor.Name]bool{}
			for _, n := range got {
				assert.False(t, seen[n], "duplicate %s for type %q", n, mt)
				seen[n] = true
			}
		}
	}
}

func TestProcessOptions_RealTimeForcesHighPriority(t *testing.T) {
	assert.Equal(t, types.PriorityHigh, ProcessOptions{RealTime: true, Priority: types.PriorityLow}.processorOptions().Priority)
	assert.Equal(t, types.PriorityLow, ProcessOptions{Priority: types.PriorityLow}.processorOptions().Priority)
}
