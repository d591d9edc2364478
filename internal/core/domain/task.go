package domain

import "time"

// Task is a long-running unit of agent work kept alive across rounds.
type Task struct {
	ID               string         `json:"id"`
	Round            int            `json:"round"`
	MaxConcurrent    int            `json:"max_concurrent"`
	Paused           bool           `json:"paused"`
	ConsecutiveFails int            `json:"consecutive_fails"`
	State            TaskState      `json:"state"`
	BranchRef        string         `json:"branch_ref"`
	BaseRef          string         `json:"base_ref"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type TaskState string

const (
	TaskStateIdle        TaskState = "idle"
	TaskStateEvaluating  TaskState = "evaluating"
	TaskStateSyncing     TaskState = "syncing"
	TaskStateDispatching TaskState = "dispatching"
	TaskStatePaused      TaskState = "paused"
	TaskStateCompleted   TaskState = "completed"
)

// Terminal reports whether no further rounds may be dispatched for the task.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted
}
