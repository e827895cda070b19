// Package types defines the core data structures for the memento insight pipeline.
// Memories are the read-only input captured upstream; insights are the scored,
// classified findings produced by the analysis processors.
package types

// InsightType classifies what kind of finding an insight represents.
type InsightType string

// ValidationStatus represents the validator's verdict on an insight draft.
type ValidationStatus string

// SourceType tells whether an insight was derived from one memory or a cluster.
type SourceType string

// Insight type constants
const (
	InsightPattern            InsightType = "pattern"
	InsightBug                InsightType = "bug"
	InsightCodeSmell          InsightType = "code_smell"
	InsightSecurityIssue      InsightType = "security_issue"
	InsightPerformanceIssue   InsightType = "performance_issue"
	InsightAntiPattern        InsightType = "anti_pattern"
	InsightCrossMemoryPattern InsightType = "cross_memory_pattern"
	InsightReasoningProcess   InsightType = "reasoning_process"
	InsightImprovement        InsightType = "improvement"
	InsightGeneral            InsightType = "general"
	InsightCluster            InsightType = "cluster"
	InsightProcessingMarker   InsightType = "processing_marker"
)

// ValidInsightTypes lists every insight type the pipeline may emit.
var ValidInsightTypes = []InsightType{
	InsightPattern,
	InsightBug,
	InsightCodeSmell,
	InsightSecurityIssue,
	InsightPerformanceIssue,
	InsightAntiPattern,
	InsightCrossMemoryPattern,
	InsightReasoningProcess,
	InsightImprovement,
	InsightGeneral,
	InsightCluster,
	InsightProcessingMarker,
}

// IsValidInsightType checks if the given string is a known insight type.
func IsValidInsightType(t string) bool {
	for _, valid := range ValidInsightTypes {
		if string(valid) == t {
			return true
		}
	}
	return false
}

// Validation status constants. Pending is the only non-terminal state.
const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
)

// Source type constants
const (
	SourceMemory        SourceType = "memory"
	SourceMemoryCluster SourceType = "memory_cluster"
)

// Insight categories used across processors. Categories are free-form; these are
// the ones the built-in processors emit.
const (
	CategoryArchitectural   = "architectural"
	CategoryDesignPattern   = "design_pattern"
	CategoryAntiPattern     = "anti_pattern"
	CategorySecurity        = "security"
	CategoryPerformance     = "performance"
	CategoryCodeQuality     = "code_quality"
	CategoryDebugging       = "debugging"
	CategoryDecisionMaking  = "decision_making"
	CategoryMetaLearning    = "meta_learning"
	CategoryWorkflow        = "workflow"
	CategoryTechnicalDebt   = "technical_debt"
	CategoryProcessingError = "processing_error"
	CategoryGeneral         = "general"
)

// Recommendation priorities
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Queue task statuses
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Queue task types
const (
	TaskProcessMemory   = "process_memory"
	TaskProcessBatch    = "process_batch"
	TaskClusterAnalysis = "cluster_analysis"
)
