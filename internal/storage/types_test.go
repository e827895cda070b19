package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsightFilterNormalize(t *testing.T) {
	tests := []struct {
		name   string
		in     InsightFilter
		sortBy string
		order  string
		page   int
		limit  int
	}{
		{"defaults", InsightFilter{}, "created_at", "desc", 1, 20},
		{"injection attempt", InsightFilter{SortBy: "title; DROP TABLE insights"}, "created_at", "desc", 1, 20},
		{"confidence asc", InsightFilter{SortBy: "confidence_score", SortOrder: "asc", Page: 3, Limit: 50}, "confidence_score", "asc", 3, 50},
		{"limit capped", InsightFilter{Limit: 1000}, "created_at", "desc", 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.in
			f.Normalize()
			assert.Equal(t, tt.sortBy, f.SortBy)
			assert.Equal(t, tt.order, f.SortOrder)
			assert.Equal(t, tt.page, f.Page)
			assert.Equal(t, tt.limit, f.Limit)
		})
	}

	f := InsightFilter{Page: 3, Limit: 25}
	f.Normalize()
	assert.Equal(t, 50, f.Offset())
}
