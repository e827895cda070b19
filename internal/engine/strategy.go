package engine

import (
	"strings"

	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/pkg/types"
)

// importanceThreshold is the importance above which the template processor is added.
const importanceThreshold = 0.8

// generalStrategy is used for memory types without an entry in strategyTable.
var generalStrategy = []processor.Name{processor.NamePatternDetector}

var strategyTable = map[string][]processor.Name{
	types.MemoryTypeCode:          {processor.NameCodeQuality, processor.NamePatternDetector, processor.NameCategory},
	types.MemoryTypeBug:           {processor.NameBugAnalyzer, processor.NameCategory},
	types.MemoryTypeError:         {processor.NameBugAnalyzer, processor.NameCategory},
	types.MemoryTypeDecision:      {processor.NameDecisionAnalyzer, processor.NameCategory},
	types.MemoryTypeArchitecture:  {processor.NameDecisionAnalyzer, processor.NameCategory},
	types.MemoryTypeReasoning:     {processor.NameReasoningAnalyzer},
	types.MemoryTypeReasoningStep: {processor.NameReasoningAnalyzer},
	types.MemoryTypeNote:          {processor.NameCategory, processor.NamePatternDetector},
	types.MemoryTypeLearning:      {processor.NameCategory, processor.NamePatternDetector},
	types.MemoryTypeInsight:       {processor.NameCategory, processor.NamePatternDetector},
}

// SelectStrategy returns the ordered, duplicate-free list of processors to run
// for memory. The result is never empty.
func SelectStrategy(memory *types.Memory, opts ProcessOptions) []processor.Name {
	if explicit := explicitStrategy(opts.Processors); len(explicit) > 0 {
		return explicit
	}

	memoryType := ""
	if memory != nil {
		memoryType = strings.ToLower(strings.TrimSpace(memory.MemoryType))
	}
	base, ok := strategyTable[memoryType]
	if !ok {
		base = generalStrategy
	}

	names := make([]processor.Name, 0, len(base)+2)
	if opts.RealTime {
		names = append(names, processor.NameCategory)
	}
	names = append(names, base...)
	if opts.Comprehensive || memory.ImportanceScore() > importanceThreshold {
		names = append(names, processor.NameTemplate)
	}
	return uniqueNames(names)
}

func explicitStrategy(requested []string) []processor.Name {
	names := make([]processor.Name, 0, len(requested))
	for _, r := range requested {
		if r = strings.TrimSpace(r); r != "" {
			names = append(names, processor.Name(r))
		}
	}
	return uniqueNames(names)
}

func uniqueNames(names []processor.Name) []processor.Name {
	seen := make(map[processor.Name]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
