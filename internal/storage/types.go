package storage

import (
	"errors"
	"time"

	"github.com/scrypster/memento-insights/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate indicates that a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate resource")
)

// StoreOutcome reports what InsertWithSupersession did.
type StoreOutcome int

const (
	OutcomeInserted StoreOutcome = iota
	OutcomeSuperseded
	OutcomeCollapsed
)

func (o StoreOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeCollapsed:
		return "collapsed"
	default:
		return "unknown"
	}
}

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// InsightFilter selects insights for QueryInsights. Zero values mean "no filter".
type InsightFilter struct {
	ProjectID        string
	Types            []types.InsightType
	Categories       []string
	MinConfidence    float64
	ValidationStatus types.ValidationStatus
	SourceID         string

	// Search matches title or summary by substring (case-insensitive).
	Search string

	// CreatedAfter/CreatedBefore bound created_at (exclusive). Zero means unbounded.
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 100).
	Limit int

	// SortBy is one of created_at, updated_at, confidence_score (default: created_at).
	SortBy string

	// SortOrder is asc or desc (default: desc).
	SortOrder string
}

// Normalize applies defaults and validates the filter.
func (f *InsightFilter) Normalize() {
	// Whitelist validation for SortBy to prevent SQL injection
	allowedSortFields := map[string]bool{
		"created_at":       true,
		"updated_at":       true,
		"confidence_score": true,
	}

	if !allowedSortFields[f.SortBy] {
		f.SortBy = "created_at"
	}

	if f.SortOrder != "asc" && f.SortOrder != "desc" {
		f.SortOrder = "desc"
	}

	if f.Page < 1 {
		f.Page = 1
	}

	if f.Limit < 1 {
		f.Limit = 20
	}

	if f.Limit > 100 {
		f.Limit = 100
	}

	if f.MinConfidence < 0 {
		f.MinConfidence = 0
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (f *InsightFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// InsightStats summarizes stored insights.
type InsightStats struct {
	Total             int            `json:"total"`
	ByType            map[string]int `json:"by_type"`
	ByCategory        map[string]int `json:"by_category"`
	ByStatus          map[string]int `json:"by_status"`
	AverageConfidence float64        `json:"average_confidence"`
}
