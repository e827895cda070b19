package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// DefaultDedupWindow is the rolling supersession window used when none is configured.
const DefaultDedupWindow = 24 * time.Hour

// StoreResult reports what happened to a set of validated drafts.
type StoreResult struct {
	// Stored holds the insights that produced a new row, in input order.
	Stored []*types.Insight

	// Superseded counts stored insights that link to an earlier row.
	Superseded int

	// Collapsed counts drafts that matched a recent row exactly and were not inserted.
	Collapsed int

	// Skipped counts drafts that were not validated.
	Skipped int
}

// InsightStorageService persists validated insights, enforcing the rolling
// dedup window and the supersession chain.
type InsightStorageService struct {
	store  storage.InsightStore
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewInsightStorageService creates a storage service. A non-positive window
// falls back to DefaultDedupWindow.
func NewInsightStorageService(store storage.InsightStore, window time.Duration, logger *zap.Logger) *InsightStorageService {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InsightStorageService{
		store:  store,
		window: window,
		logger: logger.Named("insight_storage"),
		now:    time.Now,
	}
}

// Store inserts every validated draft. Drafts in any other state are skipped.
// The first storage failure aborts the call and is returned; rows inserted
// before it stay stored and are reported in the partial result.
func (s *InsightStorageService) Store(ctx context.Context, drafts []*types.Insight) (*StoreResult, error) {
	result := &StoreResult{}
	for _, in := range drafts {
		if in == nil || in.ValidationStatus != types.ValidationValidated {
			result.Skipped++
			continue
		}

		now := s.now().UTC()
		if in.ID == "" {
			in.ID = uuid.New().String()
		}
		if in.CreatedAt.IsZero() {
			in.CreatedAt = now
		}
		in.UpdatedAt = now

		outcome, err := s.store.InsertWithSupersession(ctx, in, s.window)
		if err != nil {
			return result, fmt.Errorf("failed to store insight %q: %w", in.Title, err)
		}

		switch outcome {
		case storage.OutcomeCollapsed:
			result.Collapsed++
			s.logger.Debug("insight collapsed into recent duplicate",
				zap.String("insight_id", in.ID), zap.String("signature", in.Signature()))
			continue
		case storage.OutcomeSuperseded:
			result.Superseded++
			s.logger.Debug("insight supersedes recent duplicate",
				zap.String("insight_id", in.ID), zap.String("supersedes", in.SupersedesInsightID))
		}
		result.Stored = append(result.Stored, in)
	}
	return result, nil
}

// Window returns the effective dedup window.
func (s *InsightStorageService) Window() time.Duration {
	return s.window
}
