package llm

import (
	"context"
	"fmt"

	"github.com/scrypster/memento-insights/internal/config"
	"go.uber.org/zap"
)

// NewTextGenerator creates the TextGenerator for cfg.LLMProvider, wrapped in a
// rate limiter when RequestsPerSecond is positive.
func NewTextGenerator(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (TextGenerator, error) {
	var gen TextGenerator
	switch cfg.LLMProvider {
	case "openai":
		gen = NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	case "anthropic":
		gen = NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	case "gemini":
		client, err := NewGeminiClient(ctx, GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiModel,
			EmbeddingModel: cfg.GeminiEmbeddingModel,
			Timeout:        cfg.Timeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		gen = client
	case "ollama", "":
		gen = NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.LLMProvider)
	}

	if cfg.RequestsPerSecond > 0 {
		gen = NewRateLimitedGenerator(gen, cfg.RequestsPerSecond, cfg.Burst)
	}
	return gen, nil
}

// NewEmbeddingGenerator creates the appropriate EmbeddingGenerator.
// Returns (nil, nil) when embeddings are disabled or the provider has none (Anthropic).
func NewEmbeddingGenerator(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (EmbeddingGenerator, error) {
	if !cfg.EnableEmbeddings {
		return nil, nil
	}
	switch cfg.LLMProvider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Logger:  logger,
		}), nil
	case "gemini":
		client, err := NewGeminiClient(ctx, GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiModel,
			EmbeddingModel: cfg.GeminiEmbeddingModel,
			Timeout:        cfg.Timeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "ollama", "":
		model := cfg.OllamaEmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: model, Timeout: cfg.Timeout, Logger: logger}), nil
	default:
		return nil, nil
	}
}
