package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator paces calls to an underlying TextGenerator.
// Callers block until a token is available or ctx is done.
type RateLimitedGenerator struct {
	next    TextGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps next with a limiter allowing reqPerSec sustained
// calls and bursts of up to burst calls.
func NewRateLimitedGenerator(next TextGenerator, reqPerSec float64, burst int) *RateLimitedGenerator {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGenerator{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Duration(1000.0/reqPerSec)*time.Millisecond), burst),
	}
}

// Generate waits for the limiter then delegates.
func (g *RateLimitedGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return g.next.Generate(ctx, prompt, opts)
}

// GetModel returns the wrapped generator's model.
func (g *RateLimitedGenerator) GetModel() string {
	return g.next.GetModel()
}

var _ TextGenerator = (*RateLimitedGenerator)(nil)
