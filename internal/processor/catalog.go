package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// TemplateCatalog is an in-memory snapshot of the active templates in one
// category. It changes only when Reload is called.
type TemplateCatalog struct {
	store    storage.TemplateStore
	category string
	exclude  string

	mu        sync.RWMutex
	byName    map[string]*types.AnalysisTemplate
	templates []*types.AnalysisTemplate
}

// NewTemplateCatalog returns an empty catalog reading category from store.
// An empty category means every category.
func NewTemplateCatalog(store storage.TemplateStore, category string) *TemplateCatalog {
	return &TemplateCatalog{store: store, category: category, byName: map[string]*types.AnalysisTemplate{}}
}

// excluding drops a category from an all-categories catalog.
func (c *TemplateCatalog) excluding(category string) *TemplateCatalog {
	c.exclude = category
	return c
}

// Reload replaces the snapshot with the store's current active templates.
// On error the previous snapshot is kept.
func (c *TemplateCatalog) Reload(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	list, err := c.store.ListTemplates(ctx, c.category, true)
	if err != nil {
		return fmt.Errorf("failed to load %q templates: %w", c.category, err)
	}

	byName := make(map[string]*types.AnalysisTemplate, len(list))
	kept := make([]*types.AnalysisTemplate, 0, len(list))
	for _, t := range list {
		if c.exclude != "" && t.Category == c.exclude {
			continue
		}
		byName[t.Name] = t
		kept = append(kept, t)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })

	c.mu.Lock()
	c.byName = byName
	c.templates = kept
	c.mu.Unlock()
	return nil
}

// Get returns the template with name, or nil.
func (c *TemplateCatalog) Get(name string) *types.AnalysisTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byName[name]
}

// All returns the templates sorted by name.
func (c *TemplateCatalog) All() []*types.AnalysisTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.AnalysisTemplate, len(c.templates))
	copy(out, c.templates)
	return out
}

// Len returns the number of templates in the snapshot.
func (c *TemplateCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}
