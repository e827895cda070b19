package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/storage/sqlite"
	"github.com/scrypster/memento-insights/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func validatedInsight(title, summary string, sources ...string) *types.Insight {
	return &types.Insight{
		ProjectID:        "proj",
		InsightType:      types.InsightCodeSmell,
		InsightCategory:  types.CategoryCodeQuality,
		Title:            title,
		Summary:          summary,
		SourceType:       types.SourceMemory,
		SourceIDs:        sources,
		DetectionMethod:  "code_quality",
		ConfidenceScore:  0.7,
		ValidationStatus: types.ValidationValidated,
	}
}
