package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey         string
	Model          string        // default: gemini-2.5-flash
	EmbeddingModel string        // default: text-embedding-004
	Timeout        time.Duration // default: 60s
	Logger         *zap.Logger
}

// GeminiClient implements TextGenerator and EmbeddingGenerator on the Gemini API.
type GeminiClient struct {
	cfg            GeminiConfig
	client         *genai.Client
	circuitBreaker *CircuitBreaker
}

// NewGeminiClient creates the underlying genai client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		cfg:            cfg,
		client:         client,
		circuitBreaker: NewCircuitBreaker("gemini", cfg.Logger),
	}, nil
}

// Generate sends a single-turn prompt to Gemini and returns the concatenated text parts.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return call(ctx, c.circuitBreaker, func() (string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		genCfg := &genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(opts.Temperature)),
		}
		if opts.MaxTokens > 0 {
			genCfg.MaxOutputTokens = int32(opts.MaxTokens)
		}

		resp, err := c.client.Models.GenerateContent(ctx, pickModel(opts, c.cfg.Model), genai.Text(prompt), genCfg)
		if err != nil {
			return "", fmt.Errorf("gemini generate: %w", err)
		}
		text := resp.Text()
		if text == "" {
			return "", fmt.Errorf("gemini returned empty content")
		}
		return text, nil
	})
}

// Embed generates an embedding vector with the configured embedding model.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, c.circuitBreaker, func() ([]float32, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.client.Models.EmbedContent(ctx, c.cfg.EmbeddingModel, genai.Text(text), nil)
		if err != nil {
			return nil, fmt.Errorf("gemini embed: %w", err)
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return nil, fmt.Errorf("gemini returned empty embedding")
		}
		return resp.Embeddings[0].Values, nil
	})
}

// GetModel returns the configured generation model name.
func (c *GeminiClient) GetModel() string {
	return c.cfg.Model
}

var (
	_ TextGenerator      = (*GeminiClient)(nil)
	_ EmbeddingGenerator = (*GeminiClient)(nil)
)
