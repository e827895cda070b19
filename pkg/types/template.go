package types

import (
	"regexp"
	"strings"
	"time"
)

// AnalysisTemplate is a parameterized prompt plus generation options stored as
// configuration. Placeholders use the {variable} form.
type AnalysisTemplate struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Category       string    `json:"category" yaml:"category"`
	Description    string    `json:"description,omitempty" yaml:"description"`
	PromptTemplate string    `json:"prompt_template" yaml:"prompt_template"`
	Variables      []string  `json:"variables,omitempty" yaml:"variables"`
	Temperature    float64   `json:"temperature" yaml:"temperature"`
	MaxTokens      int       `json:"max_tokens" yaml:"max_tokens"`
	IsActive       bool      `json:"is_active" yaml:"is_active"`
	Tags           []string  `json:"tags,omitempty" yaml:"tags"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// Template categories with special meaning to the processors.
const (
	TemplateCategoryPatternDetection = "pattern_detection"
	TemplateCategoryClusterAnalysis  = "cluster_analysis"
	TemplateCategoryGeneral          = "general"
)

var placeholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Render fills {variable} placeholders from vars. Placeholders without a value
// are left intact so a missing variable is visible in the prompt rather than
// silently blanked.
func (t *AnalysisTemplate) Render(vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(t.PromptTemplate, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

// Placeholders returns the distinct variable names referenced by the prompt body.
func (t *AnalysisTemplate) Placeholders() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(t.PromptTemplate, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// HasTag reports whether the template carries the tag (case-insensitive).
func (t *AnalysisTemplate) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if strings.EqualFold(tg, tag) {
			return true
		}
	}
	return false
}
