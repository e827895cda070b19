package processor

import (
	"context"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/pkg/types"
)

var (
	decisionRe     = regexp.MustCompile(`(?i)\b(?:decided to|we decided|we chose|chose to|opted for|going with|we will use|settled on|selected)\b|\bdecision:`)
	alternativeRe  = regexp.MustCompile(`(?i)\b(instead of|rather than|alternatives?:?|considered|versus|vs\.?)\s+([^.,;\n]{2,60})`)
	tradeOffRe     = regexp.MustCompile(`(?i)\b(?:trade-?offs?|downsides?|at the cost of|drawbacks?|however)\b|\bcons?:`)
	rationaleRe    = regexp.MustCompile(`(?i)\b(?:because|since|due to|so that|in order to)\b|\brationale:`)
	architectureRe = regexp.MustCompile(`(?i)\b(architecture|architectural|service|microservices?|monolith|database|schema|api|layer|queue|cache|protocol)\b`)
)

// DecisionAnalyzer extracts the decision, alternatives, trade-offs and
// rationale from decision records.
type DecisionAnalyzer struct {
	logger *zap.Logger
}

// NewDecisionAnalyzer builds the decision-analysis processor.
func NewDecisionAnalyzer(deps Deps) *DecisionAnalyzer {
	return &DecisionAnalyzer{logger: deps.logger(NameDecisionAnalyzer)}
}

// DetectionMethod implements Processor.
func (a *DecisionAnalyzer) DetectionMethod() string { return MethodDecision }

// Process implements Processor. It returns at most one insight.
func (a *DecisionAnalyzer) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	if !memory.HasContent() {
		return nil, nil
	}
	content := memory.Content

	decision := sentenceAround(content, decisionRe)
	var alternatives []string
	for _, m := range alternativeRe.FindAllStringSubmatch(content, 5) {
		alternatives = append(alternatives, strings.TrimSpace(m[2]))
	}
	alternatives = unionStrings(nil, alternatives)
	var tradeOffs []string
	for _, loc := range tradeOffRe.FindAllStringIndex(content, 3) {
		tradeOffs = append(tradeOffs, sentenceAround(content[loc[0]:], tradeOffRe))
	}
	tradeOffs = unionStrings(nil, tradeOffs)
	rationale := sentenceAround(content, rationaleRe)

	if decision == "" && (len(alternatives) == 0 || rationale == "") {
		return nil, nil
	}
	if decision == "" {
		decision = rationale
	}

	category := types.CategoryDecisionMaking
	if memory.MemoryType == types.MemoryTypeArchitecture || architectureRe.MatchString(content) {
		category = types.CategoryArchitectural
	}

	confidence := 0.55
	if len(alternatives) > 0 {
		confidence += 0.1
	}
	if len(tradeOffs) > 0 {
		confidence += 0.1
	}
	if rationale != "" {
		confidence += 0.1
	}

	summary := "Decision: " + decision
	if rationale != "" && rationale != decision {
		summary += " Rationale: " + rationale
	}

	in := NewDraft(memory, types.InsightPattern, category, "Decision: "+truncate(decision, 60), summary, MethodDecision)
	in.Subcategory = "decision"
	in.ConfidenceScore = ClampConfidence(math.Min(confidence, 0.85))
	AddTag(in, "decision")
	AddPattern(in, types.Pattern{Name: "recorded_decision", Category: category, Description: decision, Confidence: in.ConfidenceScore, Evidence: alternatives})
	for _, alt := range alternatives {
		AddEvidence(in, types.Evidence{Type: "alternative", Description: alt, Source: memory.ID, Category: category})
	}
	for _, t := range tradeOffs {
		AddEvidence(in, types.Evidence{Type: "trade_off", Description: t, Source: memory.ID, Category: category})
	}
	if len(alternatives) == 0 {
		AddRecommendation(in, types.Recommendation{Title: "Record the alternatives considered", Priority: types.PriorityMedium, Category: category})
	}
	if len(tradeOffs) == 0 {
		AddRecommendation(in, types.Recommendation{Title: "Document the trade-offs", Priority: types.PriorityLow, Category: category})
	}
	if rationale == "" {
		AddRecommendation(in, types.Recommendation{Title: "State the rationale", Priority: types.PriorityMedium, Category: category})
	}

	in.SetDetail(types.DecisionDetail{
		Decision:     decision,
		Alternatives: alternatives,
		TradeOffs:    tradeOffs,
		Rationale:    rationale,
	})
	return []*types.Insight{in}, nil
}
