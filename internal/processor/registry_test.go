package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-insights/pkg/types"
)

// countingProcessor records lifecycle calls.
type countingProcessor struct {
	inits      int
	initErr    error
	cleanups   int
	cleanupErr error
	reloads    int
}

func (p *countingProcessor) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	return nil, nil
}

func (p *countingProcessor) DetectionMethod() string { return "counting" }

func (p *countingProcessor) Initialize(ctx context.Context) error {
	p.inits++
	return p.initErr
}

func (p *countingProcessor) Cleanup(ctx context.Context) error {
	p.cleanups++
	return p.cleanupErr
}

func (p *countingProcessor) Reload(ctx context.Context) error {
	p.reloads++
	return nil
}

func TestRegistry_GetCachesInstance(t *testing.T) {
	reg := NewRegistry(Deps{})
	cp := &countingProcessor{}
	built := 0
	reg.Register("counting", func(Deps) Processor {
		built++
		return cp
	})

	first, err := reg.Get(context.Background(), "counting")
	require.NoError(t, err)
	second, err := reg.Get(context.Background(), "counting")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, built)
	assert.Equal(t, 1, cp.inits)
}

// blockingProcessor holds Initialize until release is closed.
type blockingProcessor struct {
	countingProcessor
	started chan struct{}
	release chan struct{}
}

func (p *blockingProcessor) Initialize(ctx context.Context) error {
	close(p.started)
	<-p.release
	return nil
}

func TestRegistry_SlowInitializeDoesNotBlockOtherNames(t *testing.T) {
	reg := NewRegistry(Deps{})
	slow := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})}
	reg.Register("slow", func(Deps) Processor { return slow })
	reg.Register("fast", func(Deps) Processor { return &countingProcessor{} })

	slowDone := make(chan error, 1)
	go func() {
		_, err := reg.Get(context.Background(), "slow")
		slowDone <- err
	}()
	<-slow.started

	fastDone := make(chan error, 1)
	go func() {
		_, err := reg.Get(context.Background(), "fast")
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Get for another name waited on a slow Initialize")
	}

	close(slow.release)
	require.NoError(t, <-slowDone)
}

func TestRegistry_ConcurrentGetInitializesOnce(t *testing.T) {
	reg := NewRegistry(Deps{})
	cp := &countingProcessor{}
	built := 0
	reg.Register("counting", func(Deps) Processor {
		built++
		return cp
	})

	var wg sync.WaitGroup
	got := make([]Processor, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := reg.Get(context.Background(), "counting")
			assert.NoError(t, err)
			got[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, built)
	assert.Equal(t, 1, cp.inits)
	for _, p := range got {
		assert.Same(t, cp, p)
	}
}

func TestRegistry_UnknownProcessor(t *testing.T) {
	reg := NewRegistry(Deps{})
	_, err := reg.Get(context.Background(), "does_not_exist")
	assert.ErrorIs(t, err, ErrUnknownProcessor)
}

func TestRegistry_FailedInitializeIsRetried(t *testing.T) {
	reg := NewRegistry(Deps{})
	cp := &countingProcessor{initErr: errors.New("boom")}
	reg.Register("counting", func(Deps) Processor { return cp })

	_, err := reg.Get(context.Background(), "counting")
	require.Error(t, err)

	cp.initErr = nil
	p, err := reg.Get(context.Background(), "counting")
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, 2, cp.inits)
}

func TestRegistry_ResolveSkipsUnknown(t *testing.T) {
	reg := NewRegistry(Deps{})
	resolved := reg.Resolve(context.Background(), []Name{NamePatternDetector, "nope", NameCodeQuality})

	require.Len(t, resolved, 2)
	assert.Equal(t, NamePatternDetector, resolved[0].Name)
	assert.Equal(t, NameCodeQuality, resolved[1].Name)
}

func TestRegistry_CleanupContinuesPastFailures(t *testing.T) {
	reg := NewRegistry(Deps{})
	bad := &countingProcessor{cleanupErr: errors.New("close failed")}
	good := &countingProcessor{}
	reg.Register("bad", func(Deps) Processor { return bad })
	reg.Register("good", func(Deps) Processor { return good })
	reg.Resolve(context.Background(), []Name{"bad", "good"})

	reg.Cleanup(context.Background())

	assert.Equal(t, 1, bad.cleanups)
	assert.Equal(t, 1, good.cleanups)

	// Cached instances are dropped; the next Get initializes again.
	_, err := reg.Get(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, 2, good.inits)
}

func TestRegistry_ReloadReachesCachedReloaders(t *testing.T) {
	reg := NewRegistry(Deps{})
	cp := &countingProcessor{}
	reg.Register("counting", func(Deps) Processor { return cp })

	require.NoError(t, reg.Reload(context.Background()))
	assert.Equal(t, 0, cp.reloads, "uninstantiated processors are not reloaded")

	_, err := reg.Get(context.Background(), "counting")
	require.NoError(t, err)
	require.NoError(t, reg.Reload(context.Background()))
	assert.Equal(t, 1, cp.reloads)
}

func TestRegistry_Catalog(t *testing.T) {
	reg := NewRegistry(Deps{})
	names := reg.Catalog()

	assert.Len(t, names, 8)
	assert.Contains(t, names, NameCategory)
	assert.Contains(t, names, NameClustering)
	for i := 1; i < len(names); i++ {
		assert.Less(t, string(names[i-1]), string(names[i]))
	}
}

func TestRegistry_SettingsDefaults(t *testing.T) {
	reg := NewRegistry(Deps{Settings: Settings{MinConfidence: 0.7, ClusterMinSize: 1}})
	s := reg.Settings()

	assert.Equal(t, 0.7, s.MinConfidence)
	assert.Equal(t, types.MinClusterSize, s.ClusterMinSize, "cluster size never drops below the minimum")
	assert.Equal(t, 50, s.ContentThreshold)
	assert.Equal(t, 2, s.MaxTemplates)
}
