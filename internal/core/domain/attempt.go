package domain

import "time"

// RoundAttempt records one execution of a round. Immutable once recorded.
type RoundAttempt struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	Round         int             `json:"round"`
	Outcome       AttemptOutcome  `json:"outcome"`
	Category      FailureCategory `json:"category,omitempty"`
	RecoveryHint  string          `json:"recovery_hint,omitempty"`
	DenyReason    string          `json:"deny_reason,omitempty"`
	StartRevision string          `json:"start_revision,omitempty"`
	EndRevision   string          `json:"end_revision,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptSkipped AttemptOutcome = "skipped"
	AttemptFailed  AttemptOutcome = "failed"
)

// FailureCategory classifies why an attempt failed.
type FailureCategory string

const (
	CategoryTransient FailureCategory = "transient"
	CategoryAuth      FailureCategory = "auth"
	CategoryResource  FailureCategory = "resource"
	CategoryLogic     FailureCategory = "logic"
	CategoryUnknown   FailureCategory = "unknown"
)
