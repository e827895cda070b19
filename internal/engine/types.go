// Package engine provides the insight orchestrator: strategy selection,
// sequential processor runs, deduplication, enrichment, validation and
// storage, plus the queue consumer that drives the batch path.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/pkg/types"
)

// Config holds configuration for the orchestrator.
type Config struct {
	// MinConfidence is the validator's confidence floor (default: 0.6).
	MinConfidence float64

	// BatchConcurrency is the number of memories processed concurrently per
	// batch group (default: 5).
	BatchConcurrency int

	// DedupWindow is the rolling window in which a stored insight with the same
	// signature is superseded instead of duplicated (default: 24h).
	DedupWindow time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:    0.6,
		BatchConcurrency: 5,
		DedupWindow:      24 * time.Hour,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("MinConfidence must be in [0,1], got %v", c.MinConfidence)
	}

	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BatchConcurrency must be >= 1, got %d", c.BatchConcurrency)
	}

	if c.DedupWindow < 0 {
		return fmt.Errorf("DedupWindow must be >= 0, got %v", c.DedupWindow)
	}

	return nil
}

// ProcessOptions are the caller's hints for one run.
type ProcessOptions struct {
	// RealTime puts the category processor first and raises priority.
	RealTime bool

	// Comprehensive adds the template processor regardless of importance.
	Comprehensive bool

	// Priority is passed through to processors; RealTime forces "high".
	Priority string

	// Processors overrides the selected strategy when non-empty.
	Processors []string

	// SkipStorage returns validated insights without persisting them.
	SkipStorage bool

	// ClusterMode makes ProcessBatch also run cluster analysis over the batch.
	ClusterMode bool
}

func (o ProcessOptions) processorOptions() processor.Options {
	priority := o.Priority
	if o.RealTime {
		priority = types.PriorityHigh
	}
	return processor.Options{
		RealTime:      o.RealTime,
		Comprehensive: o.Comprehensive,
		Priority:      priority,
	}
}

// RunMetrics describes a single ProcessMemory run.
type RunMetrics struct {
	Strategy        []processor.Name `json:"strategy"`
	ProcessorErrors int              `json:"processor_errors"`
	Generated       int              `json:"generated"`
	Deduplicated    int              `json:"deduplicated"`
	Rejected        int              `json:"rejected"`
	Stored          int              `json:"stored"`
	Duration        time.Duration    `json:"duration_ns"`
}

// ProcessResult is returned by ProcessMemory.
type ProcessResult struct {
	Success  bool             `json:"success"`
	MemoryID string           `json:"memory_id"`
	Insights []*types.Insight `json:"insights"`
	Rejected []*types.Insight `json:"rejected,omitempty"`
	Metrics  RunMetrics       `json:"metrics"`
}

// BatchResult is returned by ProcessBatch.
type BatchResult struct {
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Insights   []*types.Insight `json:"insights"`

	// Errors maps a failed memory ID to its error message.
	Errors map[string]string `json:"errors,omitempty"`

	// ClusterError is set when cluster analysis ran and failed to store.
	ClusterError string `json:"cluster_error,omitempty"`
}

// Health is returned by GetHealth.
type Health struct {
	Status        string          `json:"status"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Metrics       MetricsSnapshot `json:"metrics"`
	Processors    []string        `json:"processors"`
	QueueDepth    int             `json:"queue_depth"`
}

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthStopped  = "shutting_down"
)
