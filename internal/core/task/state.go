package task

import (
	"errors"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

// ErrInvalidTransition is returned for disallowed state changes.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the allowed task state machine edges.
// A round flows Idle -> Evaluating -> Syncing -> Dispatching and back to
// Idle once recorded; Paused and Completed can be entered from any
// transition boundary, and Paused resumes only through Idle so guardrails
// are re-evaluated in full.
var validTransitions = map[domain.TaskState][]domain.TaskState{
	domain.TaskStateIdle: {
		domain.TaskStateEvaluating,
		domain.TaskStatePaused,
		domain.TaskStateCompleted,
	},
	domain.TaskStateEvaluating: {
		domain.TaskStateSyncing,
		domain.TaskStateIdle,
		domain.TaskStatePaused,
		domain.TaskStateCompleted,
	},
	domain.TaskStateSyncing: {
		domain.TaskStateDispatching,
		domain.TaskStateIdle,
		domain.TaskStatePaused,
		domain.TaskStateCompleted,
	},
	domain.TaskStateDispatching: {
		domain.TaskStateIdle,
		domain.TaskStatePaused,
		domain.TaskStateCompleted,
	},
	domain.TaskStatePaused: {
		domain.TaskStateIdle,
		domain.TaskStateCompleted,
	},
	domain.TaskStateCompleted: {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to domain.TaskState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition records one state change for observability.
type Transition struct {
	From   domain.TaskState
	To     domain.TaskState
	Reason string
	At     time.Time
}

// NewTransition creates a Transition stamped with the current time.
func NewTransition(from, to domain.TaskState, reason string) Transition {
	return Transition{From: from, To: to, Reason: reason, At: time.Now()}
}
