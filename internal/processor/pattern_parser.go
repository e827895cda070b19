package processor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scrypster/memento-insights/internal/lenient"
	"github.com/scrypster/memento-insights/pkg/types"
)

// ManualReviewPattern names the synthetic pattern emitted for unparseable responses.
const ManualReviewPattern = "needs_manual_review"

const (
	manualReviewConfidence   = 0.3
	defaultPatternConfidence = 0.5
)

// ParsedPatterns is the result of reading a model response as a pattern list.
type ParsedPatterns struct {
	Patterns []types.Pattern
	Stage    lenient.Stage
	Degraded bool // true when the patterns are the manual-review fallback
}

// ParsePatterns reads a model response in any of the accepted shapes:
//
//	{"patterns": [...]}                     standard list
//	[...]                                   bare list
//	{"name": ..., "category": ...}          single pattern
//	{"insight": ..., "key_findings": [...]} compact summary
//
// A response with a repeated-symbol run yields zero patterns. Any other
// unparseable response degrades to one low-confidence manual-review pattern.
func ParsePatterns(response string) ParsedPatterns {
	if strings.TrimSpace(response) == "" {
		return ParsedPatterns{Stage: lenient.StageFailed}
	}

	res := lenient.Parse(response)
	switch res.Stage {
	case lenient.StageRejected:
		return ParsedPatterns{Stage: res.Stage}
	case lenient.StageFailed:
		return ParsedPatterns{
			Patterns: []types.Pattern{manualReview(response)},
			Stage:    res.Stage,
			Degraded: true,
		}
	}

	out := ParsedPatterns{Stage: res.Stage}
	if arr, ok := res.Array(); ok {
		out.Patterns = patternsFromList(arr)
		return out
	}

	obj, _ := res.Object()
	switch {
	case obj == nil:
	case obj["patterns"] != nil:
		if arr, ok := obj["patterns"].([]interface{}); ok {
			out.Patterns = patternsFromList(arr)
		}
	case hasAny(obj, "insight", "key_findings", "findings"):
		if p, ok := compactPattern(obj); ok {
			out.Patterns = []types.Pattern{p}
		}
	case hasAny(obj, "name"):
		if p, ok := patternFromObject(obj); ok {
			out.Patterns = []types.Pattern{p}
		}
	}
	return out
}

func manualReview(response string) types.Pattern {
	return types.Pattern{
		Name:        ManualReviewPattern,
		Category:    types.CategoryGeneral,
		Description: "Model response could not be parsed and needs manual review",
		Confidence:  manualReviewConfidence,
		Evidence:    []string{truncate(response, 200)},
	}
}

func patternsFromList(items []interface{}) []types.Pattern {
	var out []types.Pattern
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if p, ok := patternFromObject(obj); ok {
			out = append(out, p)
		}
	}
	return out
}

func patternFromObject(obj map[string]interface{}) (types.Pattern, bool) {
	p := types.Pattern{
		Name:        firstString(obj, "name", "pattern", "title"),
		Category:    strings.ToLower(firstString(obj, "category", "type")),
		Description: firstString(obj, "description", "summary", "details"),
		Confidence:  numberOr(obj["confidence"], defaultPatternConfidence),
		Evidence:    stringList(obj["evidence"]),
	}
	if p.Name == "" {
		return p, false
	}
	if p.Category == "" {
		p.Category = types.CategoryGeneral
	}
	p.Confidence = ClampConfidence(p.Confidence)
	return p, true
}

// compactPattern maps the summary shape some models return instead of a list.
func compactPattern(obj map[string]interface{}) (types.Pattern, bool) {
	text := firstString(obj, "insight", "summary", "description")
	evidence := stringList(obj["key_findings"])
	if len(evidence) == 0 {
		evidence = stringList(obj["findings"])
	}
	if text == "" && len(evidence) > 0 {
		text = evidence[0]
	}
	if text == "" {
		return types.Pattern{}, false
	}
	name := firstString(obj, "name", "title")
	if name == "" {
		name = truncate(text, 60)
	}
	category := strings.ToLower(firstString(obj, "category"))
	if category == "" {
		category = types.CategoryGeneral
	}
	return types.Pattern{
		Name:        name,
		Category:    category,
		Description: text,
		Confidence:  ClampConfidence(numberOr(obj["confidence"], defaultPatternConfidence)),
		Evidence:    evidence,
	}, true
}

func hasAny(obj map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// numberOr reads a JSON number, a numeric string, or a percentage string.
// Values written with "%" or between 10 and 100 are percentages; values
// above 1 and below 10 are read on a ten-point scale, so 5 means 0.5.
func numberOr(v interface{}, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return scaleConfidence(n, false)
	case string:
		s := strings.TrimSpace(n)
		pct := strings.HasSuffix(s, "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return fallback
		}
		return scaleConfidence(f, pct)
	}
	return fallback
}

func scaleConfidence(f float64, pct bool) float64 {
	switch {
	case pct || (f >= 10 && f <= 100):
		return f / 100
	case f > 1 && f < 10:
		return f / 10
	}
	return f
}

// stringList reads an array of strings, an array of objects with a
// description, or a single string.
func stringList(v interface{}) []string {
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return []string{strings.TrimSpace(x)}
	case []interface{}:
		var out []string
		for _, item := range x {
			switch e := item.(type) {
			case string:
				if s := strings.TrimSpace(e); s != "" {
					out = append(out, s)
				}
			case map[string]interface{}:
				if s := firstString(e, "description", "text", "title", "name"); s != "" {
					out = append(out, s)
				}
			case float64, bool:
				out = append(out, fmt.Sprint(e))
			}
		}
		return out
	}
	return nil
}
