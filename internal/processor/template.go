package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/scrypster/memento-insights/pkg/types"
)

// TemplateProcessor applies every template that scores above zero against a
// memory and emits one insight per template.
type TemplateProcessor struct {
	llm      llm.TextGenerator
	catalog  *TemplateCatalog
	settings Settings
	logger   *zap.Logger
}

// NewTemplateProcessor builds a template processor over all non-cluster templates.
func NewTemplateProcessor(deps Deps) *TemplateProcessor {
	return &TemplateProcessor{
		llm:      deps.LLM,
		catalog:  NewTemplateCatalog(deps.Templates, "").excluding(types.TemplateCategoryClusterAnalysis),
		settings: deps.Settings.withDefaults(),
		logger:   deps.logger(NameTemplate),
	}
}

// DetectionMethod implements Processor.
func (p *TemplateProcessor) DetectionMethod() string { return MethodTemplate }

// Initialize loads the template catalog.
func (p *TemplateProcessor) Initialize(ctx context.Context) error {
	return p.catalog.Reload(ctx)
}

// Reload refreshes the template catalog from the store.
func (p *TemplateProcessor) Reload(ctx context.Context) error {
	return p.catalog.Reload(ctx)
}

// MatchTemplates scores templates against a memory and returns those with a
// positive score, best first (ties by name), capped at limit.
func MatchTemplates(templates []*types.AnalysisTemplate, memory *types.Memory, limit int) []*types.AnalysisTemplate {
	type scored struct {
		t     *types.AnalysisTemplate
		score int
	}
	var candidates []scored
	for _, t := range templates {
		if s := templateScore(t, memory); s > 0 {
			candidates = append(candidates, scored{t, s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].t.Name < candidates[j].t.Name
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*types.AnalysisTemplate, len(candidates))
	for i, c := range candidates {
		out[i] = c.t
	}
	return out
}

func templateScore(t *types.AnalysisTemplate, memory *types.Memory) int {
	score := 0
	mt := strings.ToLower(memory.MemoryType)
	if mt != "" {
		if t.HasTag(mt) {
			score += 2
		}
		if strings.Contains(t.Name, mt) {
			score++
		}
	}
	for _, tag := range memory.Tags {
		if t.HasTag(strings.TrimSpace(tag)) {
			score++
		}
	}
	return score
}

// Process implements Processor.
func (p *TemplateProcessor) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	if !memory.HasContent() || skippedMemoryTypes[memory.MemoryType] {
		return nil, nil
	}
	if len(strings.TrimSpace(memory.Content)) < p.settings.ContentThreshold {
		return nil, nil
	}
	if p.llm == nil {
		return nil, nil
	}

	matched := MatchTemplates(p.catalog.All(), memory, p.settings.MaxTemplates)
	if len(matched) == 0 {
		return nil, nil
	}

	var (
		out       []*types.Insight
		failures  []error
		succeeded int
	)
	for _, tmpl := range matched {
		response, err := p.llm.Generate(ctx, tmpl.Render(promptVars(memory, nil)), llm.GenerateOptions{
			Temperature: tmpl.Temperature,
			MaxTokens:   tmpl.MaxTokens,
		})
		if err != nil {
			p.logger.Warn("template analysis failed",
				zap.String("memory_id", memory.ID),
				zap.String("template", tmpl.Name),
				zap.Error(err))
			failures = append(failures, fmt.Errorf("template %s: %w", tmpl.Name, err))
			continue
		}
		succeeded++

		parsed := ParsePatterns(response)
		patterns := MergePatterns(parsed.Patterns)
		if len(patterns) == 0 {
			continue
		}
		if in := p.buildInsight(memory, tmpl, patterns, parsed.Degraded); in != nil {
			out = append(out, in)
		}
	}
	if succeeded == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}
	return out, nil
}

func (p *TemplateProcessor) buildInsight(memory *types.Memory, tmpl *types.AnalysisTemplate, patterns []types.Pattern, degraded bool) *types.Insight {
	sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].Confidence > patterns[j].Confidence })

	confidence := AggregateConfidence(patterns)
	if confidence < p.settings.MinConfidence {
		return nil
	}

	cat := normalizeCategory(patterns[0].Category)
	top := strings.ReplaceAll(patterns[0].Name, "_", " ")
	summary := fmt.Sprintf("Template %s found %d pattern(s) in %s memory.", tmpl.Name, len(patterns), memoryTypeOr(memory))
	if patterns[0].Description != "" {
		summary += " " + patterns[0].Description
	}

	in := NewDraft(memory, insightTypeForCategory(cat), cat,
		fmt.Sprintf("%s: %s", titleCase(tmpl.Name), top),
		summary,
		MethodTemplate+":"+tmpl.Name)
	in.Subcategory = tmpl.Name
	in.ConfidenceScore = confidence
	for _, pat := range patterns {
		AddPattern(in, pat)
		for _, ev := range pat.Evidence {
			AddEvidence(in, types.Evidence{Type: "pattern", Description: ev, Source: memory.ID, Category: pat.Category})
		}
	}
	if rec, ok := categoryRecommendations[cat]; ok {
		rec.Category = cat
		AddRecommendation(in, rec)
	}
	AddTag(in, cat)
	AddTag(in, tmpl.Name)

	notes := ""
	if degraded {
		notes = "model response could not be parsed"
	}
	in.SetDetail(types.PatternDetail{
		Category:      cat,
		PatternCount:  len(patterns),
		Templates:     []string{tmpl.Name},
		AnalysisNotes: notes,
	})
	return in
}
