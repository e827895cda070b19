package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/internal/storage/sqlite"
	"github.com/scrypster/memento-insights/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestOrchestrator builds an orchestrator over store with the built-in
// processors (no LLM, no templates) plus any stub factories.
func newTestOrchestrator(t *testing.T, store storage.InsightStore, stubs map[processor.Name]processor.Factory) *Orchestrator {
	t.Helper()
	registry := processor.NewRegistry(processor.Deps{Logger: zap.NewNop()})
	for name, f := range stubs {
		registry.Register(name, f)
	}
	orch, err := NewOrchestrator(DefaultConfig(), Deps{
		Registry: registry,
		Store:    store,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	return orch
}

// stubProcessor emits one finding per memory, or fails/panics for selected IDs.
type stubProcessor struct {
	failFor  map[string]bool
	panicFor map[string]bool

	mu    sync.Mutex
	calls []string
}

func (p *stubProcessor) DetectionMethod() string { return "stub" }

func (p *stubProcessor) Process(ctx context.Context, memory *types.Memory, opts processor.Options) ([]*types.Insight, error) {
	p.mu.Lock()
	p.calls = append(p.calls, memory.ID)
	p.mu.Unlock()

	if p.panicFor[memory.ID] {
		panic("stub exploded")
	}
	if p.failFor[memory.ID] {
		return nil, errors.New("stub failure")
	}
	in := processor.NewDraft(memory, types.InsightPattern, types.CategoryDesignPattern,
		"Finding for "+memory.ID,
		"The stub processor looked at memory "+memory.ID+".",
		"stub")
	in.ConfidenceScore = 0.75
	return []*types.Insight{in}, nil
}

func (p *stubProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.calls...)
}

func stubFactory(p *stubProcessor) processor.Factory {
	return func(processor.Deps) processor.Processor { return p }
}

// selectiveFailStore fails inserts for insights sourced from one memory.
type selectiveFailStore struct {
	storage.InsightStore
	failSource string
}

func (s *selectiveFailStore) InsertWithSupersession(ctx context.Context, in *types.Insight, window time.Duration) (storage.StoreOutcome, error) {
	if in.HasSource(s.failSource) {
		return storage.OutcomeInserted, fmt.Errorf("disk full")
	}
	return s.InsightStore.InsertWithSupersession(ctx, in, window)
}

func newMemory(id, memoryType, content string) *types.Memory {
	return &types.Memory{
		ID:         id,
		ProjectID:  "proj",
		MemoryType: memoryType,
		Content:    content,
		CreatedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func importance(v float64) *float64 { return &v }

func draft(typ types.InsightType, category, title, summary string, confidence float64, sources ...string) *types.Insight {
	if len(sources) == 0 {
		sources = []string{"m1"}
	}
	return &types.Insight{
		ProjectID:        "proj",
		InsightType:      typ,
		InsightCategory:  category,
		Title:            title,
		Summary:          summary,
		SourceType:       types.SourceMemory,
		SourceIDs:        sources,
		DetectionMethod:  "test",
		ConfidenceScore:  confidence,
		ValidationStatus: types.ValidationPending,
	}
}

func titles(insights []*types.Insight) []string {
	out := make([]string, len(insights))
	for i, in := range insights {
		out[i] = in.Title
	}
	return out
}

func hasPrefixAll(list []string, prefix string) bool {
	for _, s := range list {
		if !strings.HasPrefix(s, prefix) {
			return false
		}
	}
	return true
}
