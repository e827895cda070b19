package llm

import "context"

// GenerateOptions carries per-call generation settings. Zero values mean
// "use the client default".
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Model       string
}

// TextGenerator is the interface for LLM text completion.
// All analysis prompts use single-string completion style (not chat).
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// HealthChecker is implemented by clients that can verify their backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func pickModel(opts GenerateOptions, fallback string) string {
	if opts.Model != "" {
		return opts.Model
	}
	return fallback
}
