package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCircuitBreakerClosed(t *testing.T) {
	cb := llm.NewCircuitBreaker("test", zap.NewNop())

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "success", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, "closed", cb.State())
}

// TestCircuitBreakerOpen verifies that after 3 consecutive failures,
// the circuit breaker transitions to the open state and rejects requests.
func TestCircuitBreakerOpen(t *testing.T) {
	cb := llm.NewCircuitBreaker("test", zap.NewNop())
	ctx := context.Background()
	failFunc := func() (interface{}, error) {
		return nil, errors.New("operation failed")
	}

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, failFunc)
		require.Error(t, err, "attempt %d", i+1)
	}
	assert.Equal(t, "open", cb.State())

	_, err := cb.Execute(ctx, failFunc)
	assert.ErrorIs(t, err, llm.ErrCircuitOpen)

	m := cb.Metrics()
	assert.Equal(t, uint64(4), m.TotalRequests)
	assert.Equal(t, uint64(4), m.TotalFailures)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := llm.NewCircuitBreakerWithConfig(llm.CircuitBreakerConfig{
		MaxFailures:          1,
		Timeout:              50 * time.Millisecond,
		HalfOpenMaxSuccesses: 1,
	})
	ctx := context.Background()

	_, err := cb.Execute(ctx, func() (interface{}, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, "open", cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, "half-open", cb.State())

	_, err = cb.Execute(ctx, func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreakerCancelledContext(t *testing.T) {
	cb := llm.NewCircuitBreaker("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := cb.Execute(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
