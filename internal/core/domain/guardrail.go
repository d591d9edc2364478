package domain

// SignalState is the status of the most recent upstream signal (e.g. CI)
// for a resource revision.
type SignalState string

const (
	SignalSuccess SignalState = "success"
	SignalFailure SignalState = "failure"
	SignalPending SignalState = "pending"
	SignalNeutral SignalState = "neutral"
	SignalSkipped SignalState = "skipped"

	// SignalAbsent means no signal was ever reported for the revision.
	// Absence is not evidence of success.
	SignalAbsent SignalState = "absent"
)

// GuardrailContext is a fresh snapshot of the external preconditions a
// round must pass before dispatch. Never persisted.
type GuardrailContext struct {
	TaskID         string
	Round          int
	OptIn          bool
	HumanActivated bool
	Upstream       SignalState
	InFlight       int
	MaxConcurrent  int
	Paused         bool
}
