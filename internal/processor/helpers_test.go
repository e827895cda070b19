package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/internal/templates"
	"github.com/scrypster/memento-insights/pkg/types"
)

// mockLLMClient is a mock implementation of llm.TextGenerator for testing
type mockLLMClient struct {
	mu        sync.Mutex
	responses []string // responses to return in order
	errors    []error  // errors to return in order (nil for success)
	fallback  string   // returned for every call past the configured responses, when set
	prompts   []string
	callCount int
	model     string
}

func newMockLLMClient(responses ...string) *mockLLMClient {
	return &mockLLMClient{responses: responses, model: "mock-model"}
}

func (m *mockLLMClient) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.callCount++ }()

	m.prompts = append(m.prompts, prompt)

	if m.callCount < len(m.errors) && m.errors[m.callCount] != nil {
		return "", m.errors[m.callCount]
	}
	if m.callCount < len(m.responses) {
		return m.responses[m.callCount], nil
	}
	if m.fallback != "" {
		return m.fallback, nil
	}

	// Fallback if we run out of responses
	return "", errors.New("mock LLM: no more responses configured")
}

func (m *mockLLMClient) GetModel() string {
	return m.model
}

func (m *mockLLMClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockLLMClient) prompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.prompts) {
		return ""
	}
	return m.prompts[i]
}

// memTemplateStore is an in-memory storage.TemplateStore.
type memTemplateStore struct {
	mu        sync.Mutex
	templates []*types.AnalysisTemplate
	err       error
	lists     int
}

var _ storage.TemplateStore = (*memTemplateStore)(nil)

func (s *memTemplateStore) UpsertTemplate(ctx context.Context, tmpl *types.AnalysisTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.templates {
		if t.Name == tmpl.Name {
			s.templates[i] = tmpl
			return nil
		}
	}
	s.templates = append(s.templates, tmpl)
	return nil
}

func (s *memTemplateStore) ListTemplates(ctx context.Context, category string, activeOnly bool) ([]*types.AnalysisTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.err != nil {
		return nil, s.err
	}
	var out []*types.AnalysisTemplate
	for _, t := range s.templates {
		if category != "" && t.Category != category {
			continue
		}
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *memTemplateStore) GetTemplateByName(ctx context.Context, name string) (*types.AnalysisTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.templates {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, storage.ErrNotFound
}

// defaultTemplateStore returns a store seeded with the built-in catalog,
// optionally restricted to the named templates.
func defaultTemplateStore(t *testing.T, names ...string) *memTemplateStore {
	t.Helper()

	all, err := templates.Default()
	require.NoError(t, err)
	if len(names) == 0 {
		return &memTemplateStore{templates: all}
	}

	want := make(map[string]bool)
	for _, n := range names {
		want[n] = true
	}
	store := &memTemplateStore{}
	for _, tmpl := range all {
		if want[tmpl.Name] {
			store.templates = append(store.templates, tmpl)
		}
	}
	require.Len(t, store.templates, len(names), "unknown template name in fixture")
	return store
}

func defaultTemplate(t *testing.T, name string) *types.AnalysisTemplate {
	t.Helper()
	store := defaultTemplateStore(t, name)
	return store.templates[0]
}
