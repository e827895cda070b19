// Package config provides configuration management for the insight worker.
// It loads settings from environment variables with the MEMENTO_INSIGHTS_
// prefix and provides sensible defaults for all configuration options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the insight worker.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Queue     QueueConfig
	Templates TemplatesConfig
	Log       LogConfig
}

// ServerConfig contains the health/metrics listener configuration.
type ServerConfig struct {
	Port int    // Listener port (default: 6364)
	Host string // Listener host (default: 127.0.0.1)
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string // sqlite or postgres (default: sqlite)
	DataPath      string // Path to the data directory for sqlite (default: ./data)
	PostgresDSN   string // Connection string when StorageEngine is postgres
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	LLMProvider          string // ollama, openai, anthropic, gemini (default: ollama)
	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string // Ollama model name (default: qwen2.5:7b)
	OllamaEmbeddingModel string // Ollama embedding model (default: nomic-embed-text)
	OpenAIAPIKey         string
	OpenAIModel          string // default: gpt-4o-mini
	OpenAIBaseURL        string
	AnthropicAPIKey      string
	AnthropicModel       string // default: claude-haiku-4-5-20251001
	GeminiAPIKey         string
	GeminiModel          string // default: gemini-2.5-flash
	GeminiEmbeddingModel string // default: text-embedding-004
	EnableEmbeddings     bool   // Fill insight embeddings after validation (default: false)
	Timeout              time.Duration
	RequestsPerSecond    float64 // 0 disables rate limiting
	Burst                int
}

// PipelineConfig contains the insight pipeline tuning knobs.
type PipelineConfig struct {
	MinConfidence    float64       // Validator and category processor floor (default: 0.6)
	BatchConcurrency int           // Memories processed concurrently per batch group (default: 5)
	DedupWindow      time.Duration // Rolling supersession window (default: 24h)
	ContentThreshold int           // Minimum content length for the category processor (default: 50)
	MaxTemplates     int           // Templates selected per memory (default: 2)
	ClusterMinSize   int           // Smallest cluster analyzed (default: 3)
}

// QueueConfig contains the processing queue consumer configuration.
type QueueConfig struct {
	Enabled         bool
	PollInterval    time.Duration // default: 5s
	ClaimBatchSize  int           // default: 10
	MaxRetries      int           // default: 3
	RetryBackoff    time.Duration // base backoff, multiplied by retry_count squared (default: 30s)
	ShutdownTimeout time.Duration // default: 30s
	PurgeAfter      time.Duration // completed tasks older than this are purged (default: 168h)
	StaleAfter      time.Duration // processing tasks older than this are requeued (default: 15m)
}

// TemplatesConfig contains the analysis template catalog configuration.
type TemplatesConfig struct {
	Path  string // Optional YAML catalog; the embedded default set is used when empty
	Watch bool   // Reload the catalog when the file changes (default: false)
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Env   string // development or production (default: development)
	Level string // debug, info, warn, error (default: info)
}

// LoadConfig loads configuration from environment variables with sensible defaults
// and validates it. All environment variables use the MEMENTO_INSIGHTS_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no environment variables are set.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 6364, Host: "127.0.0.1"},
		Storage: StorageConfig{StorageEngine: "sqlite", DataPath: "./data"},
		LLM: LLMConfig{
			LLMProvider:          "ollama",
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen2.5:7b",
			OllamaEmbeddingModel: "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
			AnthropicModel:       "claude-haiku-4-5-20251001",
			GeminiModel:          "gemini-2.5-flash",
			GeminiEmbeddingModel: "text-embedding-004",
			Timeout:              60 * time.Second,
			Burst:                1,
		},
		Pipeline: PipelineConfig{
			MinConfidence:    0.6,
			BatchConcurrency: 5,
			DedupWindow:      24 * time.Hour,
			ContentThreshold: 50,
			MaxTemplates:     2,
			ClusterMinSize:   3,
		},
		Queue: QueueConfig{
			Enabled:         true,
			PollInterval:    5 * time.Second,
			ClaimBatchSize:  10,
			MaxRetries:      3,
			RetryBackoff:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			PurgeAfter:      7 * 24 * time.Hour,
			StaleAfter:      15 * time.Minute,
		},
		Log: LogConfig{Env: "development", Level: "info"},
	}
}

// buildBaseConfig constructs a Config with values from environment variables
// layered over Default.
func buildBaseConfig() *Config {
	d := Default()
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("MEMENTO_INSIGHTS_PORT", d.Server.Port),
			Host: getEnv("MEMENTO_INSIGHTS_HOST", d.Server.Host),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("MEMENTO_INSIGHTS_STORAGE_ENGINE", d.Storage.StorageEngine),
			DataPath:      getEnv("MEMENTO_INSIGHTS_DATA_PATH", d.Storage.DataPath),
			PostgresDSN:   getEnv("MEMENTO_INSIGHTS_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			LLMProvider:          getEnv("MEMENTO_INSIGHTS_LLM_PROVIDER", d.LLM.LLMProvider),
			OllamaURL:            getEnv("MEMENTO_INSIGHTS_OLLAMA_URL", d.LLM.OllamaURL),
			OllamaModel:          getEnv("MEMENTO_INSIGHTS_OLLAMA_MODEL", d.LLM.OllamaModel),
			OllamaEmbeddingModel: getEnv("MEMENTO_INSIGHTS_EMBEDDING_MODEL", d.LLM.OllamaEmbeddingModel),
			OpenAIAPIKey:         getEnv("MEMENTO_INSIGHTS_OPENAI_API_KEY", ""),
			OpenAIModel:          getEnv("MEMENTO_INSIGHTS_OPENAI_MODEL", d.LLM.OpenAIModel),
			OpenAIBaseURL:        getEnv("MEMENTO_INSIGHTS_OPENAI_BASE_URL", ""),
			AnthropicAPIKey:      getEnv("MEMENTO_INSIGHTS_ANTHROPIC_API_KEY", ""),
			AnthropicModel:       getEnv("MEMENTO_INSIGHTS_ANTHROPIC_MODEL", d.LLM.AnthropicModel),
			GeminiAPIKey:         getEnv("MEMENTO_INSIGHTS_GEMINI_API_KEY", ""),
			GeminiModel:          getEnv("MEMENTO_INSIGHTS_GEMINI_MODEL", d.LLM.GeminiModel),
			GeminiEmbeddingModel: getEnv("MEMENTO_INSIGHTS_GEMINI_EMBEDDING_MODEL", d.LLM.GeminiEmbeddingModel),
			EnableEmbeddings:     getEnvBool("MEMENTO_INSIGHTS_ENABLE_EMBEDDINGS", false),
			Timeout:              getEnvDuration("MEMENTO_INSIGHTS_LLM_TIMEOUT", d.LLM.Timeout),
			RequestsPerSecond:    getEnvFloat("MEMENTO_INSIGHTS_LLM_RPS", 0),
			Burst:                getEnvInt("MEMENTO_INSIGHTS_LLM_BURST", d.LLM.Burst),
		},
		Pipeline: PipelineConfig{
			MinConfidence:    getEnvFloat("MEMENTO_INSIGHTS_MIN_CONFIDENCE", d.Pipeline.MinConfidence),
			BatchConcurrency: getEnvInt("MEMENTO_INSIGHTS_BATCH_CONCURRENCY", d.Pipeline.BatchConcurrency),
			DedupWindow:      getEnvDuration("MEMENTO_INSIGHTS_DEDUP_WINDOW", d.Pipeline.DedupWindow),
			ContentThreshold: getEnvInt("MEMENTO_INSIGHTS_CONTENT_THRESHOLD", d.Pipeline.ContentThreshold),
			MaxTemplates:     getEnvInt("MEMENTO_INSIGHTS_MAX_TEMPLATES", d.Pipeline.MaxTemplates),
			ClusterMinSize:   getEnvInt("MEMENTO_INSIGHTS_CLUSTER_MIN_SIZE", d.Pipeline.ClusterMinSize),
		},
		Queue: QueueConfig{
			Enabled:         getEnvBool("MEMENTO_INSIGHTS_QUEUE_ENABLED", d.Queue.Enabled),
			PollInterval:    getEnvDuration("MEMENTO_INSIGHTS_QUEUE_POLL_INTERVAL", d.Queue.PollInterval),
			ClaimBatchSize:  getEnvInt("MEMENTO_INSIGHTS_QUEUE_CLAIM_SIZE", d.Queue.ClaimBatchSize),
			MaxRetries:      getEnvInt("MEMENTO_INSIGHTS_QUEUE_MAX_RETRIES", d.Queue.MaxRetries),
			RetryBackoff:    getEnvDuration("MEMENTO_INSIGHTS_QUEUE_RETRY_BACKOFF", d.Queue.RetryBackoff),
			ShutdownTimeout: getEnvDuration("MEMENTO_INSIGHTS_SHUTDOWN_TIMEOUT", d.Queue.ShutdownTimeout),
			PurgeAfter:      getEnvDuration("MEMENTO_INSIGHTS_QUEUE_PURGE_AFTER", d.Queue.PurgeAfter),
			StaleAfter:      getEnvDuration("MEMENTO_INSIGHTS_QUEUE_STALE_AFTER", d.Queue.StaleAfter),
		},
		Templates: TemplatesConfig{
			Path:  getEnv("MEMENTO_INSIGHTS_TEMPLATES_PATH", ""),
			Watch: getEnvBool("MEMENTO_INSIGHTS_TEMPLATES_WATCH", false),
		},
		Log: LogConfig{
			Env:   getEnv("MEMENTO_INSIGHTS_ENV", d.Log.Env),
			Level: getEnv("MEMENTO_INSIGHTS_LOG_LEVEL", d.Log.Level),
		},
	}
}

// Validate rejects out-of-range or inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}

	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires MEMENTO_INSIGHTS_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage engine %q", c.Storage.StorageEngine))
	}

	switch c.LLM.LLMProvider {
	case "ollama", "openai", "anthropic", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider %q", c.LLM.LLMProvider))
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("LLM requests per second must not be negative"))
	}

	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min confidence %.2f must be within [0,1]", c.Pipeline.MinConfidence))
	}
	if c.Pipeline.BatchConcurrency < 1 {
		errs = append(errs, errors.New("batch concurrency must be at least 1"))
	}
	if c.Pipeline.DedupWindow < 0 {
		errs = append(errs, errors.New("dedup window must not be negative"))
	}
	if c.Pipeline.MaxTemplates < 1 {
		errs = append(errs, errors.New("max templates must be at least 1"))
	}
	if c.Pipeline.ClusterMinSize < 3 {
		errs = append(errs, errors.New("cluster minimum size must be at least 3"))
	}

	if c.Queue.MaxRetries < 0 {
		errs = append(errs, errors.New("queue max retries must not be negative"))
	}
	if c.Queue.Enabled && c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue poll interval must be positive"))
	}
	if c.Queue.ClaimBatchSize < 1 {
		errs = append(errs, errors.New("queue claim batch size must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction reports whether production logging should be used.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Log.Env, "production")
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a time.Duration environment variable ("30s", "24h")
// or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
