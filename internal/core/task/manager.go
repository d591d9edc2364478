// Package task owns the lifecycle of tasks: state transitions, round
// monotonicity, and the append-only attempt history.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/infra/storage"
)

var (
	// ErrTaskNotFound is returned when a task doesn't exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrRoundGap is returned when a round advance is not exactly +1.
	ErrRoundGap = errors.New("round gap detected")

	// ErrTaskCompleted is returned when mutating a completed task.
	ErrTaskCompleted = errors.New("task is completed")
)

// Manager enforces the task state machine over the repositories.
// Round numbers never decrease and advance by exactly one per recorded
// success; attempt history is append-only and chronological.
type Manager struct {
	tasks    storage.TaskRepository
	attempts storage.AttemptRepository

	mu            sync.RWMutex
	stateCallback func(taskID string, t Transition)
}

// NewManager creates a Manager.
func NewManager(tasks storage.TaskRepository, attempts storage.AttemptRepository) *Manager {
	return &Manager{tasks: tasks, attempts: attempts}
}

// Get retrieves a task.
func (m *Manager) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	t, err := m.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if t == nil {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// Ensure returns the task, creating it at round 0 if it doesn't exist.
// Tasks come into existence on their first guardrail evaluation.
func (m *Manager) Ensure(ctx context.Context, taskID, branchRef, baseRef string, maxConcurrent int) (*domain.Task, error) {
	t, err := m.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if t != nil {
		return t, nil
	}

	now := time.Now()
	t = &domain.Task{
		ID:            taskID,
		Round:         0,
		MaxConcurrent: maxConcurrent,
		State:         domain.TaskStateIdle,
		BranchRef:     branchRef,
		BaseRef:       baseRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return t, nil
}

// SetState transitions the task to a new state, validating the edge.
func (m *Manager) SetState(ctx context.Context, taskID string, newState domain.TaskState, reason string) error {
	t, err := m.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if t.State == newState {
		return nil
	}
	if !CanTransition(t.State, newState) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, t.State, newState)
	}

	if err := m.tasks.UpdateState(ctx, taskID, newState); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	m.notify(taskID, NewTransition(t.State, newState, reason))
	return nil
}

// RecordAttempt appends an attempt and applies its outcome to the task:
// a success advances the round by exactly one and clears the consecutive
// failure count; a failure increments it; a skip changes neither.
func (m *Manager) RecordAttempt(ctx context.Context, taskID string, attempt *domain.RoundAttempt) error {
	t, err := m.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.State.Terminal() {
		return ErrTaskCompleted
	}

	if attempt.Outcome == domain.AttemptFailed && attempt.Category == "" {
		return fmt.Errorf("failed attempt for task %s round %d missing failure category", taskID, attempt.Round)
	}

	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	attempt.TaskID = taskID
	if attempt.FinishedAt.IsZero() {
		attempt.FinishedAt = time.Now()
	}

	if err := m.attempts.Append(ctx, attempt); err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}

	switch attempt.Outcome {
	case domain.AttemptSuccess:
		// A dispatched round consumes exactly one round number.
		if attempt.Round != t.Round+1 {
			return fmt.Errorf("%w: expected round %d, got %d", ErrRoundGap, t.Round+1, attempt.Round)
		}
		if err := m.tasks.UpdateRound(ctx, taskID, attempt.Round, 0); err != nil {
			return fmt.Errorf("failed to advance round: %w", err)
		}
	case domain.AttemptFailed:
		if err := m.tasks.UpdateRound(ctx, taskID, t.Round, t.ConsecutiveFails+1); err != nil {
			return fmt.Errorf("failed to record failure count: %w", err)
		}
	}

	return nil
}

// Pause sets the pause flag and parks the task.
// Takes effect at the next transition boundary, not mid-operation.
func (m *Manager) Pause(ctx context.Context, taskID, reason string) error {
	if err := m.tasks.SetPaused(ctx, taskID, true); err != nil {
		return fmt.Errorf("failed to set pause flag: %w", err)
	}
	return m.SetState(ctx, taskID, domain.TaskStatePaused, reason)
}

// Resume clears the pause flag and the consecutive failure streak, then
// returns the task to Idle so the next tick re-evaluates guardrails in
// full rather than resuming mid-state. Clearing the streak is what lets
// an escalated task dispatch again after investigation; without it the
// escalation gate would refuse every future round.
func (m *Manager) Resume(ctx context.Context, taskID string) error {
	t, err := m.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.State != domain.TaskStatePaused {
		return fmt.Errorf("task is not paused, current state: %s", t.State)
	}
	if err := m.tasks.SetPaused(ctx, taskID, false); err != nil {
		return fmt.Errorf("failed to clear pause flag: %w", err)
	}
	if t.ConsecutiveFails > 0 {
		if err := m.tasks.UpdateRound(ctx, taskID, t.Round, 0); err != nil {
			return fmt.Errorf("failed to clear failure streak: %w", err)
		}
	}
	return m.SetState(ctx, taskID, domain.TaskStateIdle, "manual resume")
}

// Complete archives the task in its terminal state.
func (m *Manager) Complete(ctx context.Context, taskID, reason string) error {
	return m.SetState(ctx, taskID, domain.TaskStateCompleted, reason)
}

// History returns the attempt history in chronological order.
func (m *Manager) History(ctx context.Context, taskID string, limit int) ([]*domain.RoundAttempt, error) {
	return m.attempts.History(ctx, taskID, limit)
}

// CountFailed returns the number of failed attempts recorded for the task.
func (m *Manager) CountFailed(ctx context.Context, taskID string) (int, error) {
	return m.attempts.CountByOutcome(ctx, taskID, domain.AttemptFailed)
}

// List returns all known tasks.
func (m *Manager) List(ctx context.Context) ([]*domain.Task, error) {
	return m.tasks.List(ctx)
}

// SetStateChangeCallback registers a callback for state transitions.
func (m *Manager) SetStateChangeCallback(fn func(taskID string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

func (m *Manager) notify(taskID string, t Transition) {
	m.mu.RLock()
	fn := m.stateCallback
	m.mu.RUnlock()
	if fn != nil {
		fn(taskID, t)
	}
}
