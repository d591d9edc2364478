// Package storage defines the persistence interfaces for tasks and
// their round attempt history.
package storage

import (
	"context"
	"errors"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

var (
	// ErrTaskNotFound is returned when a task doesn't exist.
	ErrTaskNotFound = errors.New("task not found")
)

// TaskRepository handles task storage operations.
type TaskRepository interface {
	// Get retrieves a task by id. Returns (nil, nil) when absent.
	Get(ctx context.Context, taskID string) (*domain.Task, error)

	// Save saves/updates the task record.
	Save(ctx context.Context, task *domain.Task) error

	// UpdateState updates the task state.
	UpdateState(ctx context.Context, taskID string, state domain.TaskState) error

	// UpdateRound updates round number and consecutive failure count
	// (atomic operation).
	UpdateRound(ctx context.Context, taskID string, round, consecutiveFails int) error

	// SetPaused flips the pause flag.
	SetPaused(ctx context.Context, taskID string, paused bool) error

	// List retrieves all known tasks.
	List(ctx context.Context) ([]*domain.Task, error)
}

// AttemptRepository handles the append-only round attempt history.
type AttemptRepository interface {
	// Append records an attempt. Attempts are immutable once recorded.
	Append(ctx context.Context, attempt *domain.RoundAttempt) error

	// History returns attempts for a task in chronological order,
	// newest last, capped at limit (0 = no cap).
	History(ctx context.Context, taskID string, limit int) ([]*domain.RoundAttempt, error)

	// CountByOutcome counts attempts with the given outcome.
	CountByOutcome(ctx context.Context, taskID string, outcome domain.AttemptOutcome) (int, error)
}
