package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-insights/pkg/types"
)

const okSummary = "Function takes eight parameters."

func TestDeduplicator_KeepsFirstWithMaxConfidence(t *testing.T) {
	a := draft(types.InsightCodeSmell, "code_quality", "Long parameter list", okSummary, 0.6)
	b := draft(types.InsightPattern, "design_pattern", "Factory", okSummary, 0.7)
	c := draft(types.InsightCodeSmell, "Code_Quality", "long parameter list!", "other summary text", 0.8)

	got := Deduplicator{}.Deduplicate([]*types.Insight{a, nil, b, c})
	require.Equal(t, []*types.Insight{a, b}, got)
	assert.InDelta(t, 0.8, a.ConfidenceScore, 1e-9)
	assert.Equal(t, okSummary, a.Summary)
}

func TestDeduplicator_Idempotent(t *testing.T) {
	drafts := []*types.Insight{
		draft(types.InsightBug, "debugging", "Null dereference", okSummary, 0.6),
		draft(types.InsightBug, "debugging", "Null  dereference", okSummary, 0.9),
		draft(types.InsightBug, "debugging", "Timeout", okSummary, 0.5),
	}
	d := Deduplicator{}
	once := d.Deduplicate(drafts)
	twice := d.Deduplicate(once)
	assert.Equal(t, once, twice)
	assert.Len(t, once, 2)
}

func TestValidator_Rules(t *testing.T) {
	tests := []struct {
		name   string
		in     *types.Insight
		reason string
	}{
		{
			name: "valid",
			in:   draft(types.InsightCodeSmell, "code_quality", "Long parameter list", okSummary, 0.7),
		},
		{
			name:   "missing title and summary",
			in:     draft(types.InsightCodeSmell, "code_quality", "   ", "", 0.7),
			reason: "missing required field: summary, title",
		},
		{
			name:   "missing sources",
			in:     &types.Insight{InsightType: types.InsightBug, InsightCategory: "debugging", Title: "t", Summary: okSummary, ConfidenceScore: 0.9},
			reason: "missing required field: source_ids",
		},
		{
			name:   "missing field wins over low confidence",
			in:     draft("", "code_quality", "Title", okSummary, 0.1),
			reason: "missing required field: insight_type",
		},
		{
			name:   "low confidence",
			in:     draft(types.InsightCodeSmell, "code_quality", "Title", okSummary, 0.55),
			reason: "confidence 0.55 below minimum 0.60",
		},
		{
			name:   "low confidence wins over short summary",
			in:     draft(types.InsightCodeSmell, "code_quality", "Title", "short", 0.1),
			reason: "confidence 0.10 below minimum 0.60",
		},
		{
			name:   "short summary after trimming",
			in:     draft(types.InsightCodeSmell, "code_quality", "Title", "   nine char   ", 0.9),
			reason: "summary shorter than 10 characters",
		},
		{
			name: "exactly ten characters",
			in:   draft(types.InsightCodeSmell, "code_quality", "Title", "0123456789", 0.9),
		},
		{
			name:   "confidence above one is clamped",
			in:     draft(types.InsightCodeSmell, "code_quality", "Title", okSummary, 3),
			reason: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validated, rejected := NewValidator(0.6).Validate([]*types.Insight{tt.in})
			if tt.reason == "" {
				require.Len(t, validated, 1)
				assert.Empty(t, rejected)
				assert.Equal(t, types.ValidationValidated, tt.in.ValidationStatus)
				assert.LessOrEqual(t, tt.in.ConfidenceScore, 1.0)
				return
			}
			require.Len(t, rejected, 1)
			assert.Empty(t, validated)
			assert.Equal(t, types.ValidationRejected, tt.in.ValidationStatus)
			assert.Equal(t, tt.reason, tt.in.RejectionReason)
		})
	}
}

func TestValidator_DuplicateInBatch(t *testing.T) {
	first := draft(types.InsightCodeSmell, "code_quality", "Magic numbers", okSummary, 0.7)
	lowDup := draft(types.InsightCodeSmell, "code_quality", "Magic numbers", okSummary, 0.2)
	dup := draft(types.InsightCodeSmell, "code_quality", "magic   numbers", okSummary, 0.9)

	validated, rejected := NewValidator(0.6).Validate([]*types.Insight{lowDup, first, dup})
	assert.Equal(t, []*types.Insight{first}, validated)
	require.Len(t, rejected, 2)
	assert.Equal(t, "confidence 0.20 below minimum 0.60", lowDup.RejectionReason)
	assert.Equal(t, "duplicate of an earlier insight in this batch", dup.RejectionReason)
}

func TestValidator_TerminalDraftsKeepStatus(t *testing.T) {
	done := draft(types.InsightCodeSmell, "code_quality", "Title", "short", 0.1)
	done.ValidationStatus = types.ValidationValidated
	gone := draft(types.InsightCodeSmell, "code_quality", "Other", okSummary, 0.9)
	gone.ValidationStatus = types.ValidationRejected
	gone.RejectionReason = "upstream"

	validated, rejected := NewValidator(0.6).Validate([]*types.Insight{done, gone})
	assert.Equal(t, []*types.Insight{done}, validated)
	assert.Equal(t, []*types.Insight{gone}, rejected)
	assert.Equal(t, "upstream", gone.RejectionReason)
}

func TestValidator_EveryDraftEndsTerminal(t *testing.T) {
	drafts := []*types.Insight{
		draft(types.InsightBug, "debugging", "A", okSummary, 0.9),
		draft(types.InsightBug, "debugging", "B", "tiny", 0.9),
		draft(types.InsightBug, "", "C", okSummary, 0.9),
		draft(types.InsightBug, "debugging", "A", okSummary, 0.9),
	}
	validated, rejected := NewValidator(0.6).Validate(drafts)
	assert.Equal(t, len(drafts), len(validated)+len(rejected))
	for _, in := range drafts {
		assert.NotEqual(t, types.ValidationPending, in.ValidationStatus)
		if in.ValidationStatus == types.ValidationRejected {
			assert.NotEmpty(t, in.RejectionReason)
		}
	}
}
