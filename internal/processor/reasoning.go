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

var (
	numberedStep = regexp.MustCompile(`(?im)^\s*(?:\d+[.)]|step\s+\d+:?|[-*])\s+(.+)$`)
	sequenceWord = regexp.MustCompile(`(?i)\b(first(?:ly)?|then|next|after that|finally|lastly)\b[,:]?\s+([^.\n]+)`)
	hypothesisRe = regexp.MustCompile(`(?i)\b(hypothesis|i think|suspect(?:ed)?|maybe|perhaps|assum(?:e|ed|ing)|might be|could be)\b`)
	conclusionRe = regexp.MustCompile(`(?i)\b(therefore|thus|in conclusion|turns out|concluded?|the answer|as a result|which means)\b`)
)

const minReasoningSteps = 2

// ReasoningAnalyzer recognizes step-by-step reasoning with hypotheses and conclusions.
type ReasoningAnalyzer struct {
	logger *zap.Logger
}

// NewReasoningAnalyzer builds the reasoning-analysis processor.
func NewReasoningAnalyzer(deps Deps) *ReasoningAnalyzer {
	return &ReasoningAnalyzer{logger: deps.logger(NameReasoningAnalyzer)}
}

// DetectionMethod implements Processor.
func (a *ReasoningAnalyzer) DetectionMethod() string { return MethodReasoning }

// Process implements Processor. It returns at most one insight.
func (a *ReasoningAnalyzer) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	if !memory.HasContent() {
		return nil, nil
	}
	content := memory.Content

	var steps []string
	for _, m := range numberedStep.FindAllStringSubmatch(content, -1) {
		steps = append(steps, truncate(m[1], 120))
	}
	if len(steps) < minReasoningSteps {
		steps = nil
		for _, m := range sequenceWord.FindAllStringSubmatch(content, -1) {
			steps = append(steps, truncate(m[2], 120))
		}
	}
	steps = unionStrings(nil, steps)

	var hypotheses, conclusions []string
	for _, loc := range hypothesisRe.FindAllStringIndex(content, 3) {
		hypotheses = append(hypotheses, sentenceAround(content[loc[0]:], hypothesisRe))
	}
	for _, loc := range conclusionRe.FindAllStringIndex(content, 3) {
		conclusions = append(conclusions, sentenceAround(content[loc[0]:], conclusionRe))
	}
	hypotheses = unionStrings(nil, hypotheses)
	conclusions = unionStrings(nil, conclusions)

	if len(steps) < minReasoningSteps && (len(hypotheses) == 0 || len(conclusions) == 0) {
		return nil, nil
	}

	confidence := 0.5 + math.Min(0.2, 0.05*float64(len(steps)))
	if len(hypotheses) > 0 {
		confidence += 0.1
	}
	if len(conclusions) > 0 {
		confidence += 0.1
	}

	title := fmt.Sprintf("Reasoning process with %d steps", len(steps))
	if len(steps) == 0 {
		title = "Hypothesis-driven reasoning"
	}
	summary := fmt.Sprintf("The memory records a reasoning sequence of %d step(s), %d hypothesis marker(s) and %d conclusion(s).",
		len(steps), len(hypotheses), len(conclusions))
	if len(conclusions) > 0 {
		summary += " " + conclusions[0]
	}

	in := NewDraft(memory, types.InsightReasoningProcess, types.CategoryMetaLearning, title, summary, MethodReasoning)
	in.Subcategory = "reasoning"
	in.ConfidenceScore = ClampConfidence(math.Min(confidence, 0.85))
	AddTag(in, "reasoning")
	for _, s := range steps {
		AddEvidence(in, types.Evidence{Type: "step", Description: s, Source: memory.ID, Category: types.CategoryMetaLearning})
	}
	for _, c := range conclusions {
		AddEvidence(in, types.Evidence{Type: "conclusion", Description: c, Source: memory.ID, Category: types.CategoryMetaLearning})
	}
	if len(conclusions) == 0 {
		AddRecommendation(in, types.Recommendation{Title: "Capture the conclusion", Description: "The reasoning stops without a stated outcome.", Priority: types.PriorityMedium, Category: types.CategoryMetaLearning})
	}
	if len(hypotheses) > 0 && len(conclusions) > 0 {
		AddRecommendation(in, types.Recommendation{Title: "Turn the approach into a checklist", Priority: types.PriorityLow, Category: types.CategoryMetaLearning})
	}
	if strings.TrimSpace(memory.Summary) != "" {
		AddEvidence(in, types.Evidence{Type: "summary", Description: memory.Summary, Source: memory.ID})
	}

	in.SetDetail(types.ReasoningDetail{
		Steps:       steps,
		Hypotheses:  hypotheses,
		Conclusions: conclusions,
		StepCount:   len(steps),
	})
	return []*types.Insight{in}, nil
}
