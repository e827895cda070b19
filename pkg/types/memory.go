package types

import (
	"strings"
	"time"
)

// Memory is a single captured unit of project knowledge. The insight pipeline
// treats it as immutable input.
type Memory struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	MemoryType string    `json:"memory_type"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Importance *float64  `json:"importance,omitempty"` // 0.0-1.0, nil when unscored
	CreatedAt  time.Time `json:"created_at"`

	// Optional vectors produced upstream.
	ContentVector []float32 `json:"content_vector,omitempty"`
	TagsVector    []float32 `json:"tags_vector,omitempty"`
}

// HasContent reports whether the memory has non-whitespace content.
func (m *Memory) HasContent() bool {
	return m != nil && strings.TrimSpace(m.Content) != ""
}

// ImportanceScore returns the importance score, or 0 when it was never set.
func (m *Memory) ImportanceScore() float64 {
	if m == nil || m.Importance == nil {
		return 0
	}
	return *m.Importance
}

// Memory type values the strategy selector knows about. Unknown types are allowed.
const (
	MemoryTypeCode          = "code"
	MemoryTypeBug           = "bug"
	MemoryTypeError         = "error"
	MemoryTypeDecision      = "decision"
	MemoryTypeArchitecture  = "architecture"
	MemoryTypeReasoning     = "reasoning"
	MemoryTypeReasoningStep = "reasoning_step"
	MemoryTypeNote          = "note"
	MemoryTypeLearning      = "learning"
	MemoryTypeInsight       = "insight"
	MemoryTypeGeneral       = "general"
)
