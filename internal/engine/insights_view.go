package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// Analysis modes accepted by GetInsights.
const (
	AnalysisComprehensive = "comprehensive"
	AnalysisPatterns      = "patterns"
	AnalysisLearning      = "learning"
	AnalysisProgress      = "progress"
	AnalysisQuality       = "quality"
	AnalysisProductivity  = "productivity"
	AnalysisTechnicalDebt = "technical_debt"
)

var analysisModes = map[string]storage.InsightFilter{
	AnalysisComprehensive: {MinConfidence: 0.5},
	AnalysisPatterns: {Types: []types.InsightType{
		types.InsightPattern, types.InsightAntiPattern, types.InsightCrossMemoryPattern,
	}},
	AnalysisLearning:     {Categories: []string{types.CategoryMetaLearning, "learning"}},
	AnalysisProgress:     {Types: []types.InsightType{types.InsightImprovement}},
	AnalysisQuality:      {Types: []types.InsightType{types.InsightCodeSmell, types.InsightAntiPattern, types.InsightPerformanceIssue}},
	AnalysisProductivity: {Categories: []string{types.CategoryWorkflow, "productivity"}},
	AnalysisTechnicalDebt: {Types: []types.InsightType{
		types.InsightCodeSmell, types.InsightAntiPattern, types.InsightBug,
	}},
}

// AnalysisModes lists the modes GetInsights accepts, sorted.
func AnalysisModes() []string {
	modes := make([]string, 0, len(analysisModes))
	for m := range analysisModes {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

// ConfidenceDistribution buckets insights by confidence.
type ConfidenceDistribution struct {
	High   int `json:"high"`   // >= 0.8
	Medium int `json:"medium"` // 0.5 to 0.8
	Low    int `json:"low"`    // < 0.5
}

// InsightsResponse is the aggregated view returned by GetInsights.
type InsightsResponse struct {
	AnalysisType           string                 `json:"analysis_type"`
	Insights               []types.Insight        `json:"insights"`
	Total                  int                    `json:"total"`
	Page                   int                    `json:"page"`
	HasMore                bool                   `json:"has_more"`
	ConfidenceDistribution ConfidenceDistribution `json:"confidence_distribution"`
	Categories             []string               `json:"categories"`
	Recommendations        []types.Recommendation `json:"recommendations"`
	Evidence               []types.Evidence       `json:"evidence"`
}

// GetInsights queries stored insights through an analysis mode and aggregates
// the page. An empty mode means comprehensive. Caller filters narrow the mode:
// non-empty Types or Categories replace the mode's, and the higher
// MinConfidence wins.
func (o *Orchestrator) GetInsights(ctx context.Context, analysisType string, filters storage.InsightFilter) (*InsightsResponse, error) {
	mode := strings.ToLower(strings.TrimSpace(analysisType))
	if mode == "" {
		mode = AnalysisComprehensive
	}
	base, ok := analysisModes[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown analysis type %q", storage.ErrInvalidInput, analysisType)
	}

	filter := mergeFilters(base, filters)
	page, err := o.query.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	return summarizeInsights(mode, page), nil
}

func mergeFilters(mode, caller storage.InsightFilter) storage.InsightFilter {
	f := caller
	if len(f.Types) == 0 {
		f.Types = mode.Types
	}
	if len(f.Categories) == 0 {
		f.Categories = mode.Categories
	}
	if mode.MinConfidence > f.MinConfidence {
		f.MinConfidence = mode.MinConfidence
	}
	return f
}

func summarizeInsights(mode string, page *storage.PaginatedResult[types.Insight]) *InsightsResponse {
	resp := &InsightsResponse{
		AnalysisType:    mode,
		Insights:        page.Items,
		Total:           page.Total,
		Page:            page.Page,
		HasMore:         page.HasMore,
		Categories:      []string{},
		Recommendations: []types.Recommendation{},
		Evidence:        []types.Evidence{},
	}
	if resp.Insights == nil {
		resp.Insights = []types.Insight{}
	}

	categories := make(map[string]bool)
	seenRec := make(map[string]bool)
	seenEv := make(map[string]bool)
	for _, in := range page.Items {
		switch {
		case in.ConfidenceScore >= 0.8:
			resp.ConfidenceDistribution.High++
		case in.ConfidenceScore >= 0.5:
			resp.ConfidenceDistribution.Medium++
		default:
			resp.ConfidenceDistribution.Low++
		}

		if in.InsightCategory != "" && !categories[in.InsightCategory] {
			categories[in.InsightCategory] = true
			resp.Categories = append(resp.Categories, in.InsightCategory)
		}
		for _, r := range in.Recommendations {
			key := strings.ToLower(r.Title) + "|" + strings.ToLower(r.Category)
			if seenRec[key] {
				continue
			}
			seenRec[key] = true
			resp.Recommendations = append(resp.Recommendations, r)
		}
		for _, e := range in.Evidence {
			key := strings.ToLower(e.Type) + "|" + strings.ToLower(e.Description)
			if seenEv[key] {
				continue
			}
			seenEv[key] = true
			resp.Evidence = append(resp.Evidence, e)
		}
	}
	sort.Strings(resp.Categories)
	return resp
}
