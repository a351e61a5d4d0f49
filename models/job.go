package models

import (
	"encoding/json"
	"time"
)

// Job statuses
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// Priority classes; lower values are served first.
type Priority int

const (
	PriorityUrgent Priority = 0
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// ParsePriority maps the HTTP form value to a class; unknown values fall
// back to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "urgent":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Job is one processing request moving through queued → processing →
// {completed, failed, cancelled}.
type Job struct {
	JobID           string          `json:"job_id"`
	Filename        string          `json:"filename"`
	SourcePath      string          `json:"source_path"`
	Status          string          `json:"status"`
	Priority        Priority        `json:"priority"`
	CurrentStep     string          `json:"current_step,omitempty"`
	ProgressPercent int             `json:"progress_percentage"`
	StepsCompleted  []string        `json:"steps_completed"`
	StepsFailed     []string        `json:"steps_failed"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ResultSummary   json.RawMessage `json:"result_summary,omitempty"`
	PaperID         string          `json:"paper_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// QueueItem is what the queue-status preview reports per waiting job.
type QueueItem struct {
	JobID      string    `json:"job_id"`
	Priority   Priority  `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueStatus is the snapshot returned by the queue's status call.
type QueueStatus struct {
	QueueSize     int         `json:"queue_size"`
	ActiveCount   int         `json:"active_count"`
	MaxConcurrent int         `json:"max_concurrent"`
	ActiveJobs    []string    `json:"active_jobs"`
	ItemsPreview  []QueueItem `json:"items_preview"`
}
