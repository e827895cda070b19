package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/lenient"
	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/scrypster/memento-insights/pkg/types"
)

// GenericTemplate is the classification fallback when the model picks nothing usable.
const GenericTemplate = "generic_patterns"

// Categories is the taxonomy offered to the model and used to group patterns.
var Categories = []string{
	types.CategoryArchitectural,
	types.CategoryDesignPattern,
	types.CategoryAntiPattern,
	types.CategorySecurity,
	types.CategoryPerformance,
	types.CategoryCodeQuality,
	types.CategoryDebugging,
	types.CategoryDecisionMaking,
	types.CategoryMetaLearning,
	types.CategoryWorkflow,
	types.CategoryTechnicalDebt,
	types.CategoryGeneral,
}

// skippedMemoryTypes are bookkeeping records with nothing to analyze.
var skippedMemoryTypes = map[string]bool{
	"processing_marker": true,
	"system":            true,
	"session_summary":   true,
}

// categoryRecommendations holds the fixed follow-up attached to each category.
var categoryRecommendations = map[string]types.Recommendation{
	types.CategoryArchitectural:  {Title: "Document the architectural decision", Description: "Capture the structure and its constraints in an ADR so later changes can be checked against it.", Priority: types.PriorityMedium},
	types.CategoryDesignPattern:  {Title: "Standardize the pattern", Description: "Extract the pattern into a shared helper or guideline so it is applied consistently.", Priority: types.PriorityLow},
	types.CategoryAntiPattern:    {Title: "Refactor the anti-pattern", Description: "Schedule a refactor before the pattern spreads to new code.", Priority: types.PriorityHigh},
	types.CategorySecurity:       {Title: "Review the security weakness", Description: "Have the finding reviewed, fix it, and add a regression test or lint rule that catches it.", Priority: types.PriorityCritical},
	types.CategoryPerformance:    {Title: "Profile the hot path", Description: "Add a benchmark or profile around the hot path before optimizing it.", Priority: types.PriorityMedium},
	types.CategoryCodeQuality:    {Title: "Improve code quality", Description: "Simplify the affected code and cover it with tests.", Priority: types.PriorityMedium},
	types.CategoryDebugging:      {Title: "Capture the debugging approach", Description: "Record the root cause and the steps that found it in a runbook.", Priority: types.PriorityMedium},
	types.CategoryDecisionMaking: {Title: "Record decision rationale", Description: "Write down the alternatives and trade-offs that were weighed.", Priority: types.PriorityMedium},
	types.CategoryMetaLearning:   {Title: "Share the lesson", Description: "Turn the lesson into team documentation or a checklist item.", Priority: types.PriorityLow},
	types.CategoryWorkflow:       {Title: "Streamline the workflow", Description: "Automate the repeated steps in the workflow.", Priority: types.PriorityMedium},
	types.CategoryTechnicalDebt:  {Title: "Track the technical debt", Description: "File the debt with an owner and an estimate so it can be prioritized.", Priority: types.PriorityMedium},
	types.CategoryGeneral:        {Title: "Review the finding", Description: "Confirm whether the finding needs follow-up.", Priority: types.PriorityLow},
}

const technologyPrompt = `List the programming languages, frameworks, libraries, databases and tools mentioned in the following text.
Respond with a JSON array of names only, for example ["go", "postgresql"].

Text:
%s`

const classifyPrompt = `Choose the analysis templates that best fit this %s memory.
Technologies: %s

Available templates:
%s

Memory:
%s

Respond with a JSON array containing at most %d template names from the list above.`

// CategoryProcessor runs LLM pattern analysis through the templates that best
// fit a memory and emits one insight per pattern category.
type CategoryProcessor struct {
	llm      llm.TextGenerator
	catalog  *TemplateCatalog
	settings Settings
	logger   *zap.Logger
}

// NewCategoryProcessor builds a category processor over the pattern-detection templates.
func NewCategoryProcessor(deps Deps) *CategoryProcessor {
	return &CategoryProcessor{
		llm:      deps.LLM,
		catalog:  NewTemplateCatalog(deps.Templates, types.TemplateCategoryPatternDetection),
		settings: deps.Settings.withDefaults(),
		logger:   deps.logger(NameCategory),
	}
}

// DetectionMethod implements Processor.
func (p *CategoryProcessor) DetectionMethod() string { return MethodCategory }

// Initialize loads the template catalog.
func (p *CategoryProcessor) Initialize(ctx context.Context) error {
	return p.catalog.Reload(ctx)
}

// Reload refreshes the template catalog from the store.
func (p *CategoryProcessor) Reload(ctx context.Context) error {
	return p.catalog.Reload(ctx)
}

// Catalog exposes the processor's template snapshot.
func (p *CategoryProcessor) Catalog() *TemplateCatalog { return p.catalog }

// Process implements Processor.
func (p *CategoryProcessor) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	if !memory.HasContent() || skippedMemoryTypes[memory.MemoryType] {
		return nil, nil
	}
	if len(strings.TrimSpace(memory.Content)) < p.settings.ContentThreshold {
		return nil, nil
	}
	if p.llm == nil {
		return nil, nil
	}
	if p.catalog.Len() == 0 {
		p.logger.Warn("no pattern-detection templates loaded", zap.String("memory_id", memory.ID))
		return nil, nil
	}

	techs := p.technologies(ctx, memory)
	selected := p.classify(ctx, memory, techs)

	var (
		patterns  []types.Pattern
		used      []string
		degraded  bool
		failures  []error
		succeeded int
	)
	for _, tmpl := range selected {
		response, err := p.llm.Generate(ctx, tmpl.Render(promptVars(memory, techs)), llm.GenerateOptions{
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
		if parsed.Stage == lenient.StageRejected {
			p.logger.Warn("discarding degenerate model response",
				zap.String("memory_id", memory.ID),
				zap.String("template", tmpl.Name))
		}
		degraded = degraded || parsed.Degraded
		patterns = append(patterns, parsed.Patterns...)
		used = append(used, tmpl.Name)
	}
	if succeeded == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}

	return p.synthesize(memory, MergePatterns(patterns), techs, used, degraded), nil
}

// technologies prefers the memory's tags and asks the model only when there are none.
func (p *CategoryProcessor) technologies(ctx context.Context, memory *types.Memory) []types.Technology {
	var out []types.Technology
	if len(memory.Tags) > 0 {
		seen := make(map[string]bool)
		for _, tag := range memory.Tags {
			name := strings.ToLower(strings.TrimSpace(tag))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, types.Technology{Name: name, Category: "tag", Confidence: 0.9})
		}
		return out
	}

	response, err := p.llm.Generate(ctx, fmt.Sprintf(technologyPrompt, truncate(memory.Content, 2000)),
		llm.GenerateOptions{Temperature: 0.1, MaxTokens: 200})
	if err != nil {
		p.logger.Debug("technology extraction failed", zap.String("memory_id", memory.ID), zap.Error(err))
		return nil
	}
	res := lenient.Parse(response)
	var items []interface{}
	if arr, ok := res.Array(); ok {
		items = arr
	} else if obj, ok := res.Object(); ok {
		items, _ = obj["technologies"].([]interface{})
	}
	for _, name := range stringList(items) {
		out = append(out, types.Technology{Name: strings.ToLower(name), Category: "detected", Confidence: 0.6})
	}
	return out
}

// classify asks the model for up to MaxTemplates template names and falls back
// to the generic template.
func (p *CategoryProcessor) classify(ctx context.Context, memory *types.Memory, techs []types.Technology) []*types.AnalysisTemplate {
	all := p.catalog.All()
	if len(all) == 1 {
		return all
	}

	var listing strings.Builder
	for _, t := range all {
		fmt.Fprintf(&listing, "- %s: %s\n", t.Name, t.Description)
	}
	prompt := fmt.Sprintf(classifyPrompt, memoryTypeOr(memory), techNames(techs),
		listing.String(), truncate(memory.Content, 1500), p.settings.MaxTemplates)

	var selected []*types.AnalysisTemplate
	response, err := p.llm.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.1, MaxTokens: 100})
	if err != nil {
		p.logger.Debug("template classification failed", zap.String("memory_id", memory.ID), zap.Error(err))
	} else {
		res := lenient.Parse(response)
		var names []string
		if arr, ok := res.Array(); ok {
			names = stringList(arr)
		} else if obj, ok := res.Object(); ok {
			names = stringList(obj["templates"])
		}
		seen := make(map[string]bool)
		for _, name := range names {
			t := p.catalog.Get(strings.TrimSpace(name))
			if t == nil || seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			selected = append(selected, t)
			if len(selected) == p.settings.MaxTemplates {
				break
			}
		}
	}

	if len(selected) == 0 {
		if t := p.catalog.Get(GenericTemplate); t != nil {
			return []*types.AnalysisTemplate{t}
		}
		return all[:1]
	}
	return selected
}

// synthesize builds one insight per category from the merged patterns.
func (p *CategoryProcessor) synthesize(memory *types.Memory, patterns []types.Pattern, techs []types.Technology, templates []string, degraded bool) []*types.Insight {
	if len(patterns) == 0 {
		return nil
	}

	byCategory := make(map[string][]types.Pattern)
	var order []string
	for _, pat := range patterns {
		cat := normalizeCategory(pat.Category)
		pat.Category = cat
		if _, ok := byCategory[cat]; !ok {
			order = append(order, cat)
		}
		byCategory[cat] = append(byCategory[cat], pat)
	}

	notes := ""
	if degraded {
		notes = "one or more model responses could not be parsed"
	}

	var out []*types.Insight
	for _, cat := range order {
		group := byCategory[cat]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Confidence > group[j].Confidence })

		confidence := AggregateConfidence(group)
		if confidence < p.settings.MinConfidence {
			p.logger.Debug("discarding low-confidence category",
				zap.String("memory_id", memory.ID),
				zap.String("category", cat),
				zap.Float64("confidence", confidence))
			continue
		}

		in := NewDraft(memory, insightTypeForCategory(cat), cat,
			categoryTitle(cat, group),
			categorySummary(memory, cat, group),
			MethodCategory)
		in.Subcategory = types.NormalizeTitle(group[0].Name)
		in.ConfidenceScore = confidence
		for _, pat := range group {
			AddPattern(in, pat)
			for _, ev := range pat.Evidence {
				AddEvidence(in, types.Evidence{Type: "pattern", Description: ev, Source: memory.ID, Category: cat})
			}
		}
		for _, t := range techs {
			AddTechnology(in, t)
		}
		if rec, ok := categoryRecommendations[cat]; ok {
			rec.Category = cat
			AddRecommendation(in, rec)
		}
		AddTag(in, cat)
		for _, t := range templates {
			AddTag(in, t)
		}
		in.SetDetail(types.PatternDetail{
			Category:      cat,
			PatternCount:  len(group),
			Templates:     templates,
			Technologies:  techNameList(techs),
			AnalysisNotes: notes,
		})
		out = append(out, in)
	}
	return out
}

func promptVars(memory *types.Memory, techs []types.Technology) map[string]string {
	return map[string]string{
		"memory_type":  memoryTypeOr(memory),
		"technologies": techNames(techs),
		"categories":   strings.Join(Categories, ", "),
		"content":      memory.Content,
		"tags":         strings.Join(memory.Tags, ", "),
	}
}

func memoryTypeOr(memory *types.Memory) string {
	if memory.MemoryType == "" {
		return types.MemoryTypeGeneral
	}
	return memory.MemoryType
}

func techNameList(techs []types.Technology) []string {
	names := make([]string, 0, len(techs))
	for _, t := range techs {
		names = append(names, t.Name)
	}
	return names
}

func techNames(techs []types.Technology) string {
	if len(techs) == 0 {
		return "unknown"
	}
	return strings.Join(techNameList(techs), ", ")
}

func normalizeCategory(cat string) string {
	cat = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(cat, " ", "_")))
	cat = strings.ReplaceAll(cat, "-", "_")
	for _, known := range Categories {
		if cat == known {
			return cat
		}
	}
	return types.CategoryGeneral
}

func insightTypeForCategory(cat string) types.InsightType {
	switch cat {
	case types.CategoryAntiPattern:
		return types.InsightAntiPattern
	case types.CategorySecurity:
		return types.InsightSecurityIssue
	case types.CategoryPerformance:
		return types.InsightPerformanceIssue
	case types.CategoryCodeQuality, types.CategoryTechnicalDebt:
		return types.InsightCodeSmell
	case types.CategoryDebugging:
		return types.InsightBug
	default:
		return types.InsightPattern
	}
}

func categoryTitle(cat string, group []types.Pattern) string {
	names := make([]string, 0, 3)
	for i, pat := range group {
		if i == 3 {
			break
		}
		names = append(names, strings.ReplaceAll(pat.Name, "_", " "))
	}
	return fmt.Sprintf("%s: %s", titleCase(cat), strings.Join(names, ", "))
}

func categorySummary(memory *types.Memory, cat string, group []types.Pattern) string {
	noun := "pattern"
	if len(group) != 1 {
		noun = "patterns"
	}
	s := fmt.Sprintf("Detected %d %s %s in %s memory.", len(group), strings.ReplaceAll(cat, "_", " "), noun, memoryTypeOr(memory))
	if d := group[0].Description; d != "" {
		s += " " + d
	}
	return s
}
