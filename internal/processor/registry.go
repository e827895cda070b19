package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Factory builds a processor from its dependencies.
type Factory func(Deps) Processor

// BuiltinFactories returns the factories for every built-in processor.
func BuiltinFactories() map[Name]Factory {
	return map[Name]Factory{
		NameCategory:          func(d Deps) Processor { return NewCategoryProcessor(d) },
		NameTemplate:          func(d Deps) Processor { return NewTemplateProcessor(d) },
		NamePatternDetector:   func(d Deps) Processor { return NewPatternDetector(d) },
		NameCodeQuality:       func(d Deps) Processor { return NewCodeQualityAnalyzer(d) },
		NameBugAnalyzer:       func(d Deps) Processor { return NewBugAnalyzer(d) },
		NameDecisionAnalyzer:  func(d Deps) Processor { return NewDecisionAnalyzer(d) },
		NameReasoningAnalyzer: func(d Deps) Processor { return NewReasoningAnalyzer(d) },
		NameClustering:        func(d Deps) Processor { return NewClusteringProcessor(d) },
	}
}

// Registry maps processor names to factories and caches one initialized
// instance per name.
type Registry struct {
	deps   Deps
	logger *zap.Logger

	mu        sync.Mutex
	factories map[Name]Factory
	instances map[Name]*slot
}

// slot serializes construction of one named processor so a slow Initialize
// never holds the registry lock.
type slot struct {
	mu      sync.Mutex
	factory Factory
	p       Processor
}

func (s *slot) get() Processor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// Resolved pairs a processor with the name it was resolved from.
type Resolved struct {
	Name      Name
	Processor Processor
}

// NewRegistry creates a registry preloaded with the built-in factories.
func NewRegistry(deps Deps) *Registry {
	deps.Settings = deps.Settings.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		deps:      deps,
		logger:    logger.Named("registry"),
		factories: BuiltinFactories(),
		instances: make(map[Name]*slot),
	}
}

// Register adds or replaces a factory. A cached instance under the same name is dropped.
func (r *Registry) Register(name Name, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.instances, name)
}

// Get returns the cached processor for name, creating and initializing it on
// first use. Concurrent callers for the same name share one Initialize; other
// names are not blocked. A failed Initialize is not cached, so the next call
// retries.
func (r *Registry) Get(ctx context.Context, name Name) (Processor, error) {
	r.mu.Lock()
	s, ok := r.instances[name]
	if !ok {
		factory, known := r.factories[name]
		if !known {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
		}
		s = &slot{factory: factory}
		r.instances[name] = s
	}
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p != nil {
		return s.p, nil
	}

	p := s.factory(r.deps)
	if init, ok := p.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize processor %s: %w", name, err)
		}
	}
	s.p = p
	r.logger.Debug("processor initialized", zap.String("processor", string(name)))
	return p, nil
}

// Resolve returns processors for names in order. Unknown names and processors
// that fail to initialize are logged and skipped.
func (r *Registry) Resolve(ctx context.Context, names []Name) []Resolved {
	out := make([]Resolved, 0, len(names))
	for _, name := range names {
		p, err := r.Get(ctx, name)
		if err != nil {
			r.logger.Warn("skipping processor", zap.String("processor", string(name)), zap.Error(err))
			continue
		}
		out = append(out, Resolved{Name: name, Processor: p})
	}
	return out
}

// cached snapshots the initialized processors.
func (r *Registry) cached() map[Name]Processor {
	r.mu.Lock()
	slots := make(map[Name]*slot, len(r.instances))
	for name, s := range r.instances {
		slots[name] = s
	}
	r.mu.Unlock()

	out := make(map[Name]Processor, len(slots))
	for name, s := range slots {
		if p := s.get(); p != nil {
			out[name] = p
		}
	}
	return out
}

// Reload refreshes the template catalogs of every cached processor that owns one.
func (r *Registry) Reload(ctx context.Context) error {
	var firstErr error
	for name, p := range r.cached() {
		rl, ok := p.(Reloader)
		if !ok {
			continue
		}
		if err := rl.Reload(ctx); err != nil {
			r.logger.Error("template reload failed", zap.String("processor", string(name)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Cleanup calls Cleanup on every cached processor and drops the cache.
// Individual failures are logged, not returned.
func (r *Registry) Cleanup(ctx context.Context) {
	live := r.cached()
	r.mu.Lock()
	r.instances = make(map[Name]*slot)
	r.mu.Unlock()

	for name, p := range live {
		c, ok := p.(Cleaner)
		if !ok {
			continue
		}
		if err := c.Cleanup(ctx); err != nil {
			r.logger.Warn("processor cleanup failed", zap.String("processor", string(name)), zap.Error(err))
		}
	}
}

// Catalog lists the registered processor names, sorted.
func (r *Registry) Catalog() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]Name, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Settings returns the effective thresholds.
func (r *Registry) Settings() Settings {
	return r.deps.Settings
}
