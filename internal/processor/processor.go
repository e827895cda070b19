// Package processor defines the analysis strategy contract and the built-in
// strategies that turn a memory (or a cluster of memories) into insight drafts.
//
// Processors never persist anything. They return drafts; the engine
// deduplicates, enriches, validates, and stores them.
package processor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// ErrUnknownProcessor is returned by Registry.Get for names without a factory.
var ErrUnknownProcessor = errors.New("processor: unknown processor")

// Name identifies a processor in strategies and in the registry.
type Name string

// Built-in processors.
const (
	NameCategory          Name = "category"
	NameTemplate          Name = "template"
	NamePatternDetector   Name = "pattern_detector"
	NameCodeQuality       Name = "code_quality"
	NameBugAnalyzer       Name = "bug_analyzer"
	NameDecisionAnalyzer  Name = "decision_analyzer"
	NameReasoningAnalyzer Name = "reasoning_analyzer"
	NameClustering        Name = "clustering"
)

// Detection method tags recorded on insights.
const (
	MethodCategory  = "llm_category"
	MethodTemplate  = "template"
	MethodRegex     = "regex_pattern"
	MethodCode      = "code_quality"
	MethodBug       = "bug_analysis"
	MethodDecision  = "decision_analysis"
	MethodReasoning = "reasoning_analysis"
	MethodCluster   = "cluster_analysis"
)

// Options carries per-run hints from the orchestrator.
type Options struct {
	RealTime      bool
	Comprehensive bool
	Priority      string
}

// Processor is implemented by every analysis strategy.
// Process may return an empty slice; an error means the run failed and the
// caller decides how to record it.
type Processor interface {
	Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error)
	DetectionMethod() string
}

// Initializer is implemented by processors that need one-time setup.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by processors holding resources to release on shutdown.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Reloader is implemented by processors that own a template catalog.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ClusterProcessor analyzes groups of memories. Only the batch path calls it.
type ClusterProcessor interface {
	ProcessCluster(ctx context.Context, memories []*types.Memory, cluster *types.Cluster, opts Options) ([]*types.Insight, error)
}

// Settings tunes processor thresholds.
type Settings struct {
	MinConfidence       float64 // insights below this are discarded by LLM processors
	ContentThreshold    int     // minimum content length for LLM analysis
	MaxTemplates        int     // templates selected per memory
	ClusterMinSize      int
	SimilarityThreshold float64 // cosine similarity for the vector clustering path
}

// DefaultSettings returns the thresholds used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		MinConfidence:       0.6,
		ContentThreshold:    50,
		MaxTemplates:        2,
		ClusterMinSize:      types.MinClusterSize,
		SimilarityThreshold: 0.8,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MinConfidence <= 0 {
		s.MinConfidence = d.MinConfidence
	}
	if s.ContentThreshold <= 0 {
		s.ContentThreshold = d.ContentThreshold
	}
	if s.MaxTemplates <= 0 {
		s.MaxTemplates = d.MaxTemplates
	}
	if s.ClusterMinSize < types.MinClusterSize {
		s.ClusterMinSize = types.MinClusterSize
	}
	if s.SimilarityThreshold <= 0 || s.SimilarityThreshold > 1 {
		s.SimilarityThreshold = d.SimilarityThreshold
	}
	return s
}

// Deps are the collaborators handed to processor factories.
type Deps struct {
	LLM       llm.TextGenerator
	Templates storage.TemplateStore
	Settings  Settings
	Logger    *zap.Logger
}

func (d Deps) logger(name Name) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named(string(name))
}
