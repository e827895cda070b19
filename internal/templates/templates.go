// Package templates loads analysis template catalogs from YAML.
//
// A catalog file lists templates under a top-level "templates" key. The default
// catalog is embedded in the binary and used when no file is configured.
// Catalogs are seed data: the worker writes them into the template store, and
// processors read templates from the store on explicit reload.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/scrypster/memento-insights/pkg/types"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// ErrEmptyCatalog is returned when a catalog parses but defines no templates.
var ErrEmptyCatalog = errors.New("templates: catalog defines no templates")

type catalogFile struct {
	Templates []templateEntry `yaml:"templates"`
}

type templateEntry struct {
	Name           string   `yaml:"name"`
	Category       string   `yaml:"category"`
	Description    string   `yaml:"description"`
	PromptTemplate string   `yaml:"prompt_template"`
	Variables      []string `yaml:"variables"`
	Temperature    *float64 `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`
	Active         *bool    `yaml:"active"`
	Tags           []string `yaml:"tags"`
}

// Default returns the embedded default catalog.
func Default() ([]*types.AnalysisTemplate, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) ([]*types.AnalysisTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templates: read %s: %w", path, err)
	}
	tmpls, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("templates: %s: %w", path, err)
	}
	return tmpls, nil
}

// Load returns the catalog at path, or the embedded default when path is empty.
func Load(path string) ([]*types.AnalysisTemplate, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

// Parse decodes a YAML catalog. Templates default to active, temperature 0.3
// and 1500 max tokens; declared variables default to the placeholders found in
// the prompt body. Names must be unique and non-empty.
func Parse(data []byte) ([]*types.AnalysisTemplate, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]bool, len(file.Templates))
	out := make([]*types.AnalysisTemplate, 0, len(file.Templates))
	for i, e := range file.Templates {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("template %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("template %q: duplicate name", name)
		}
		seen[name] = true
		if strings.TrimSpace(e.PromptTemplate) == "" {
			return nil, fmt.Errorf("template %q: prompt_template is required", name)
		}

		t := &types.AnalysisTemplate{
			Name:           name,
			Category:       e.Category,
			Description:    e.Description,
			PromptTemplate: e.PromptTemplate,
			Variables:      e.Variables,
			Temperature:    0.3,
			MaxTokens:      e.MaxTokens,
			IsActive:       true,
			Tags:           e.Tags,
		}
		if t.Category == "" {
			t.Category = types.TemplateCategoryGeneral
		}
		if e.Temperature != nil {
			t.Temperature = *e.Temperature
		}
		if t.MaxTokens <= 0 {
			t.MaxTokens = 1500
		}
		if e.Active != nil {
			t.IsActive = *e.Active
		}
		if len(t.Variables) == 0 {
			t.Variables = t.Placeholders()
		}
		out = append(out, t)
	}
	return out, nil
}
