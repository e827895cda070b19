package types

import "time"

// QueueTask is a durable unit of asynchronous work in the processing queue.
type QueueTask struct {
	ID            string                 `json:"id"`
	TaskType      string                 `json:"task_type"`
	Priority      int                    `json:"priority"` // 1 (lowest) to 10 (highest)
	SourceType    SourceType             `json:"source_type"`
	SourceIDs     []string               `json:"source_ids"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Status        string                 `json:"status"`
	RetryCount    int                    `json:"retry_count"`
	MaxRetries    int                    `json:"max_retries"`
	ScheduledFor  time.Time              `json:"scheduled_for"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	ResultSummary string                 `json:"result_summary,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Task priority bounds.
const (
	MinTaskPriority     = 1
	MaxTaskPriority     = 10
	DefaultTaskPriority = 5
)

// ClampPriority forces p into [MinTaskPriority, MaxTaskPriority]; zero maps to the default.
func ClampPriority(p int) int {
	if p == 0 {
		return DefaultTaskPriority
	}
	if p < MinTaskPriority {
		return MinTaskPriority
	}
	if p > MaxTaskPriority {
		return MaxTaskPriority
	}
	return p
}

// CanRetry reports whether a failed attempt may be rescheduled.
func (t *QueueTask) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}
