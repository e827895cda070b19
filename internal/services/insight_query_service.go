package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// InsightQueryService serves filtered, paginated reads of stored insights.
type InsightQueryService struct {
	store storage.InsightStore
}

// NewInsightQueryService creates a query service over store.
func NewInsightQueryService(store storage.InsightStore) *InsightQueryService {
	return &InsightQueryService{store: store}
}

// Query normalizes filter and returns one page of matching insights.
func (s *InsightQueryService) Query(ctx context.Context, filter storage.InsightFilter) (*storage.PaginatedResult[types.Insight], error) {
	filter.Normalize()
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.MinConfidence > 1 {
		return nil, fmt.Errorf("%w: min confidence must be <= 1, got %v", storage.ErrInvalidInput, filter.MinConfidence)
	}
	if !filter.CreatedAfter.IsZero() && !filter.CreatedBefore.IsZero() && !filter.CreatedAfter.Before(filter.CreatedBefore) {
		return nil, fmt.Errorf("%w: created_after must be before created_before", storage.ErrInvalidInput)
	}

	result, err := s.store.QueryInsights(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	return result, nil
}

// Get returns a single insight. Returns storage.ErrNotFound when it does not exist.
func (s *InsightQueryService) Get(ctx context.Context, id string) (*types.Insight, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: insight id is required", storage.ErrInvalidInput)
	}
	return s.store.GetInsight(ctx, id)
}

// Stats returns counts by type, category and status for a project ("" means all).
func (s *InsightQueryService) Stats(ctx context.Context, projectID string) (*storage.InsightStats, error) {
	stats, err := s.store.InsightStats(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute insight stats: %w", err)
	}
	return stats, nil
}
