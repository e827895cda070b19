package processor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/pkg/types"
)

// patternFamily is one fixed regular-expression detector.
type patternFamily struct {
	name        string
	title       string
	insightType types.InsightType
	category    string
	re          *regexp.Regexp
	base        float64
	summary     string
	rec         types.Recommendation
}

var patternFamilies = []patternFamily{
	{
		name:        "singleton",
		title:       "Singleton pattern",
		insightType: types.InsightPattern,
		category:    types.CategoryDesignPattern,
		re:          regexp.MustCompile(`(?i)\b(singleton|getInstance|sync\.Once|instance\s*==\s*nil)\b`),
		base:        0.65,
		summary:     "The memory shows a single shared instance created lazily.",
		rec:         types.Recommendation{Title: "Prefer injected dependencies over global instances", Priority: types.PriorityLow},
	},
	{
		name:        "factory",
		title:       "Factory pattern",
		insightType: types.InsightPattern,
		category:    types.CategoryDesignPattern,
		re:          regexp.MustCompile(`(?i)\b\w*factory\b`),
		base:        0.6,
		summary:     "Object construction is delegated to a factory.",
		rec:         types.Recommendation{Title: "Keep factory signatures small and return interfaces sparingly", Priority: types.PriorityLow},
	},
	{
		name:        "observer",
		title:       "Observer pattern",
		insightType: types.InsightPattern,
		category:    types.CategoryDesignPattern,
		re:          regexp.MustCompile(`(?i)\b(observer|subscribe[sd]?|addEventListener|pub/?sub|event\s+listener)\b`),
		base:        0.6,
		summary:     "Components communicate through subscriptions or listeners.",
		rec:         types.Recommendation{Title: "Document event ordering and unsubscription", Priority: types.PriorityLow},
	},
	{
		name:        "retry_backoff",
		title:       "Retry with backoff",
		insightType: types.InsightPattern,
		category:    types.CategoryArchitectural,
		re:          regexp.MustCompile(`(?i)\b(retry|retries|retrying|backoff|back-off|exponential\s+back)\b`),
		base:        0.65,
		summary:     "Failed operations are retried, possibly with a growing delay.",
		rec:         types.Recommendation{Title: "Bound retries and add jitter", Priority: types.PriorityMedium},
	},
	{
		name:        "caching",
		title:       "Caching",
		insightType: types.InsightPattern,
		category:    types.CategoryPerformance,
		re:          regexp.MustCompile(`(?i)\b(cache[sd]?|caching|memoi[sz]\w*|lru|ttl)\b`),
		base:        0.6,
		summary:     "Results are cached to avoid repeated work.",
		rec:         types.Recommendation{Title: "Define cache invalidation and size limits", Priority: types.PriorityMedium},
	},
	{
		name:        "debt_marker",
		title:       "Technical debt markers",
		insightType: types.InsightCodeSmell,
		category:    types.CategoryTechnicalDebt,
		re:          regexp.MustCompile(`\b(TODO|FIXME|HACK|XXX)\b`),
		base:        0.6,
		summary:     "The memory contains explicit markers for unfinished or temporary work.",
		rec:         types.Recommendation{Title: "Turn debt markers into tracked issues", Priority: types.PriorityMedium},
	},
	{
		name:        "hardcoded_secret",
		title:       "Hard-coded secret",
		insightType: types.InsightSecurityIssue,
		category:    types.CategorySecurity,
		re:          regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_-]?key|access[_-]?token|token)\s*[:=]\s*["'][^"'\s]{4,}["']`),
		base:        0.75,
		summary:     "A credential appears to be assigned as a literal value.",
		rec:         types.Recommendation{Title: "Move secrets to a secret store or environment", Priority: types.PriorityCritical},
	},
}

const maxRegexEvidence = 3

// PatternDetector finds well-known patterns with fixed regular expressions.
// It never calls a model.
type PatternDetector struct {
	families []patternFamily
	logger   *zap.Logger
}

// NewPatternDetector builds a detector with the built-in pattern families.
func NewPatternDetector(deps Deps) *PatternDetector {
	return &PatternDetector{families: patternFamilies, logger: deps.logger(NamePatternDetector)}
}

// DetectionMethod implements Processor.
func (d *PatternDetector) DetectionMethod() string { return MethodRegex }

// Process implements Processor. Each matching family yields one insight.
func (d *PatternDetector) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	if !memory.HasContent() {
		return nil, nil
	}

	var out []*types.Insight
	for _, f := range d.families {
		matches := f.re.FindAllString(memory.Content, -1)
		if len(matches) == 0 {
			continue
		}

		confidence := math.Min(f.base+0.05*float64(len(matches)-1), f.base+0.15)
		in := NewDraft(memory, f.insightType, f.category,
			f.title+" detected",
			fmt.Sprintf("%s Found %d occurrence(s).", f.summary, len(matches)),
			MethodRegex)
		in.Subcategory = f.name
		in.ConfidenceScore = ClampConfidence(confidence)

		evidence := make([]string, 0, maxRegexEvidence)
		for _, m := range matches {
			if len(evidence) == maxRegexEvidence {
				break
			}
			snippet := strings.TrimSpace(m)
			if f.name == "hardcoded_secret" {
				snippet = redact(snippet)
			}
			evidence = append(evidence, snippet)
			AddEvidence(in, types.Evidence{Type: "regex_match", Description: snippet, Source: memory.ID, Category: f.category})
		}
		AddPattern(in, types.Pattern{Name: f.name, Category: f.category, Description: f.summary, Confidence: in.ConfidenceScore, Evidence: evidence})
		rec := f.rec
		rec.Category = f.category
		AddRecommendation(in, rec)
		AddTag(in, f.name)
		AddTag(in, f.category)
		out = append(out, in)
	}

	if len(out) > 0 {
		d.logger.Debug("regex patterns detected", zap.String("memory_id", memory.ID), zap.Int("count", len(out)))
	}
	return out, nil
}

// redact keeps the key of a key=value match and hides the value.
func redact(s string) string {
	if i := strings.IndexAny(s, ":="); i >= 0 {
		return strings.TrimSpace(s[:i+1]) + " [redacted]"
	}
	return "[redacted]"
}
