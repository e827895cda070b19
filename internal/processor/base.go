package processor

import (
	"fmt"
	"math"
	"strings"

	"github.com/scrypster/memento-insights/pkg/types"
)

// diagnosticConfidence is the score given to processing-error insights.
const diagnosticConfidence = 0.1

// NewDraft returns a pending insight draft sourced from a single memory.
// ID and timestamps are assigned at storage time.
func NewDraft(memory *types.Memory, insightType types.InsightType, category, title, summary, method string) *types.Insight {
	in := &types.Insight{
		InsightType:      insightType,
		InsightCategory:  category,
		Title:            title,
		Summary:          summary,
		SourceType:       types.SourceMemory,
		DetectionMethod:  method,
		ValidationStatus: types.ValidationPending,
	}
	if memory != nil {
		in.ProjectID = memory.ProjectID
		in.SourceIDs = []string{memory.ID}
	}
	return in
}

// AddEvidence appends ev unless an entry with the same type and description exists.
func AddEvidence(in *types.Insight, ev types.Evidence) {
	if strings.TrimSpace(ev.Description) == "" {
		return
	}
	for _, e := range in.Evidence {
		if strings.EqualFold(e.Type, ev.Type) && e.Description == ev.Description {
			return
		}
	}
	in.Evidence = append(in.Evidence, ev)
}

// AddRecommendation appends rec unless one with the same title and category exists.
func AddRecommendation(in *types.Insight, rec types.Recommendation) {
	if strings.TrimSpace(rec.Title) == "" {
		return
	}
	for _, r := range in.Recommendations {
		if strings.EqualFold(r.Title, rec.Title) && strings.EqualFold(r.Category, rec.Category) {
			return
		}
	}
	if rec.Priority == "" {
		rec.Priority = types.PriorityMedium
	}
	in.Recommendations = append(in.Recommendations, rec)
}

// AddPattern merges p into the insight's patterns keyed by name and category.
// On collision the higher confidence wins and evidence is unioned.
func AddPattern(in *types.Insight, p types.Pattern) {
	in.Patterns = mergePattern(in.Patterns, p)
}

// AddTechnology appends t unless a technology with the same name and category exists.
func AddTechnology(in *types.Insight, t types.Technology) {
	if strings.TrimSpace(t.Name) == "" {
		return
	}
	for i, existing := range in.Technologies {
		if strings.EqualFold(existing.Name, t.Name) && strings.EqualFold(existing.Category, t.Category) {
			if t.Confidence > existing.Confidence {
				in.Technologies[i].Confidence = t.Confidence
			}
			return
		}
	}
	in.Technologies = append(in.Technologies, t)
}

// AddTag appends tag once, lowercased.
func AddTag(in *types.Insight, tag string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return
	}
	for _, t := range in.Tags {
		if t == tag {
			return
		}
	}
	in.Tags = append(in.Tags, tag)
}

// MergePatterns collapses patterns sharing a category and name.
func MergePatterns(patterns []types.Pattern) []types.Pattern {
	var out []types.Pattern
	for _, p := range patterns {
		out = mergePattern(out, p)
	}
	return out
}

func mergePattern(list []types.Pattern, p types.Pattern) []types.Pattern {
	if strings.TrimSpace(p.Name) == "" {
		return list
	}
	key := patternKey(p)
	for i := range list {
		if patternKey(list[i]) != key {
			continue
		}
		if p.Confidence > list[i].Confidence {
			list[i].Confidence = p.Confidence
			if p.Description != "" {
				list[i].Description = p.Description
			}
		}
		list[i].Evidence = unionStrings(list[i].Evidence, p.Evidence)
		return list
	}
	p.Evidence = unionStrings(nil, p.Evidence)
	return append(list, p)
}

func patternKey(p types.Pattern) string {
	return strings.ToLower(strings.TrimSpace(p.Category)) + "|" + types.NormalizeTitle(p.Name)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ClampConfidence bounds v to [0, 1]. NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// AggregateConfidence combines pattern confidences into one score: a mean
// weighted by each pattern's evidence count, plus a small bonus for the total
// amount of evidence.
func AggregateConfidence(patterns []types.Pattern) float64 {
	if len(patterns) == 0 {
		return 0
	}
	var sum, weights float64
	evidence := 0
	for _, p := range patterns {
		w := 1 + float64(len(p.Evidence))
		sum += ClampConfidence(p.Confidence) * w
		weights += w
		evidence += len(p.Evidence)
	}
	bonus := math.Min(0.1, 0.02*float64(evidence))
	return ClampConfidence(sum/weights + bonus)
}

// HandleError converts a processor failure into a low-confidence diagnostic insight.
func HandleError(memory *types.Memory, name Name, err error) *types.Insight {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	memoryID := ""
	if memory != nil {
		memoryID = memory.ID
	}

	in := NewDraft(memory, types.InsightGeneral, types.CategoryProcessingError,
		fmt.Sprintf("Processing error in %s", name),
		fmt.Sprintf("Processor %s failed to analyze memory %s: %s", name, memoryID, msg),
		string(name))
	in.ConfidenceScore = diagnosticConfidence
	in.SetDetail(types.DiagnosticDetail{Processor: string(name), Error: msg, MemoryID: memoryID})
	AddTag(in, "processing_error")
	return in
}

// truncate shortens s to n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

// titleCase turns snake_case into "Snake case".
func titleCase(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
