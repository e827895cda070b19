package types

import (
	"regexp"
	"strings"
	"time"
)

// Insight is a derived, scored, classified finding about one or more memories.
//
// Drafts are created by processors, mutated by enrichers and the validator, and
// then either persisted or discarded. The validate tags drive the validator's
// required-field rule.
type Insight struct {
	ID              string      `json:"id"`
	ProjectID       string      `json:"project_id,omitempty"`
	InsightType     InsightType `json:"insight_type" validate:"required"`
	InsightCategory string      `json:"insight_category" validate:"required"`
	Subcategory     string      `json:"insight_subcategory,omitempty"`
	Title           string      `json:"title" validate:"required"`
	Summary         string      `json:"summary" validate:"required"`

	// DetailedContent holds processor-specific evidence. It is schema-less at the
	// storage boundary; processors build it through the Detail variants.
	DetailedContent map[string]interface{} `json:"detailed_content,omitempty"`

	SourceType      SourceType `json:"source_type"`
	SourceIDs       []string   `json:"source_ids" validate:"required,min=1"`
	DetectionMethod string     `json:"detection_method"`
	ConfidenceScore float64    `json:"confidence_score"`

	ValidationStatus ValidationStatus `json:"validation_status"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`

	RelatedInsightIDs     []string `json:"related_insight_ids,omitempty"`
	SupersedesInsightID   string   `json:"supersedes_insight_id,omitempty"`
	ContradictsInsightIDs []string `json:"contradicts_insight_ids,omitempty"`

	Technologies    []Technology     `json:"technologies,omitempty"`
	Patterns        []Pattern        `json:"patterns,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Evidence        []Evidence       `json:"evidence,omitempty"`
	Tags            []string         `json:"tags,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Technology is a technology detected in or assigned to a memory.
type Technology struct {
	Name       string  `json:"name"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Pattern is a named pattern detected by a processor.
type Pattern struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Recommendation is an actionable follow-up attached to an insight.
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Evidence is a piece of supporting material for an insight.
type Evidence struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Source      string `json:"source,omitempty"`
	Category    string `json:"category,omitempty"`
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeTitle lowercases a title and collapses punctuation and whitespace
// runs into single spaces.
func NormalizeTitle(title string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(title), " ")
	return strings.TrimSpace(s)
}

// Signature returns the normalized (type, category, title) dedup key.
// Two insights with the same signature are duplicates.
func (i *Insight) Signature() string {
	return strings.ToLower(strings.TrimSpace(string(i.InsightType))) + "|" +
		strings.ToLower(strings.TrimSpace(i.InsightCategory)) + "|" +
		NormalizeTitle(i.Title)
}

// HasSource reports whether id is one of the insight's source memories.
func (i *Insight) HasSource(id string) bool {
	for _, s := range i.SourceIDs {
		if s == id {
			return true
		}
	}
	return false
}

// SetDetail replaces DetailedContent with the map form of a typed detail.
func (i *Insight) SetDetail(d Detail) {
	if d == nil {
		return
	}
	i.DetailedContent = d.ToMap()
}

// MergeDetail copies the entries of d into DetailedContent without dropping
// existing keys that d does not set.
func (i *Insight) MergeDetail(d Detail) {
	if d == nil {
		return
	}
	if i.DetailedContent == nil {
		i.DetailedContent = make(map[string]interface{})
	}
	for k, v := range d.ToMap() {
		i.DetailedContent[k] = v
	}
}
