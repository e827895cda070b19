package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scrypster/memento-insights/internal/config"
	"github.com/scrypster/memento-insights/internal/engine"
	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/internal/server"
	"github.com/scrypster/memento-insights/internal/services"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/internal/storage/postgres"
	"github.com/scrypster/memento-insights/internal/storage/sqlite"
	"github.com/scrypster/memento-insights/internal/templates"
	"github.com/scrypster/memento-insights/pkg/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("insight worker failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := seedTemplates(ctx, store, cfg.Templates.Path); err != nil {
		return err
	}

	gen, err := llm.NewTextGenerator(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	registry := processor.NewRegistry(processor.Deps{
		LLM:       gen,
		Templates: store,
		Logger:    logger,
		Settings: processor.Settings{
			MinConfidence:    cfg.Pipeline.MinConfidence,
			ContentThreshold: cfg.Pipeline.ContentThreshold,
			MaxTemplates:     cfg.Pipeline.MaxTemplates,
			ClusterMinSize:   cfg.Pipeline.ClusterMinSize,
		},
	})

	queue := services.NewQueueService(store, services.QueueConfig{
		MaxRetries:   cfg.Queue.MaxRetries,
		RetryBackoff: cfg.Queue.RetryBackoff,
	}, logger)

	orch, err := engine.NewOrchestrator(engine.Config{
		MinConfidence:    cfg.Pipeline.MinConfidence,
		BatchConcurrency: cfg.Pipeline.BatchConcurrency,
		DedupWindow:      cfg.Pipeline.DedupWindow,
	}, engine.Deps{
		Registry: registry,
		Store:    store,
		Queue:    queue,
		Embedder: embedder,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize insight engine: %w", err)
	}

	if cfg.Templates.Watch && cfg.Templates.Path != "" {
		watcher := templates.NewWatcher(cfg.Templates.Path, func(tmpls []*types.AnalysisTemplate) {
			if err := upsertTemplates(ctx, store, tmpls); err != nil {
				logger.Error("failed to store reloaded templates", zap.Error(err))
				return
			}
			if err := registry.Reload(ctx); err != nil {
				logger.Error("failed to reload processor templates", zap.Error(err))
			}
		}, logger)
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	var consumer *engine.QueueConsumer
	if cfg.Queue.Enabled {
		consumer = engine.NewQueueConsumer(orch, queue, store, engine.ConsumerConfig{
			PollInterval:    cfg.Queue.PollInterval,
			ClaimBatchSize:  cfg.Queue.ClaimBatchSize,
			Workers:         cfg.Pipeline.BatchConcurrency,
			ShutdownTimeout: cfg.Queue.ShutdownTimeout,
			PurgeAfter:      cfg.Queue.PurgeAfter,
			StaleAfter:      cfg.Queue.StaleAfter,
		}, logger)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}

	addr, err := server.Start(ctx, cfg, orch, logger)
	if err != nil {
		return err
	}
	logger.Info("insight worker running",
		zap.String("addr", addr),
		zap.String("storage", cfg.Storage.StorageEngine),
		zap.String("llm_provider", cfg.LLM.LLMProvider),
		zap.Bool("queue", cfg.Queue.Enabled))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	// Drain in-flight tasks before the engine stops accepting work.
	if consumer != nil {
		if err := consumer.Stop(shutdownCtx); err != nil {
			logger.Warn("queue consumer did not stop cleanly", zap.Error(err))
		}
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown error", zap.Error(err))
	}
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Env == "production" {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func openStore(cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StorageEngine {
	case "postgres":
		store, err := postgres.NewStore(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.NewStore(filepath.Join(cfg.DataPath, "insights.db"), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		return store, nil
	}
}

// seedTemplates loads the catalog at path, or the embedded default set, into
// the template store.
func seedTemplates(ctx context.Context, store storage.TemplateStore, path string) error {
	tmpls, err := templates.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	return upsertTemplates(ctx, store, tmpls)
}

func upsertTemplates(ctx context.Context, store storage.TemplateStore, tmpls []*types.AnalysisTemplate) error {
	for _, t := range tmpls {
		if err := store.UpsertTemplate(ctx, t); err != nil {
			return fmt.Errorf("failed to store template %q: %w", t.Name, err)
		}
	}
	return nil
}
