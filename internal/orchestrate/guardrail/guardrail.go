// Package guardrail decides whether a round may be dispatched for a task.
package guardrail

import (
	"github.com/vietddude/roundkeeper/internal/core/domain"
)

// Reason explains why a round was denied.
type Reason string

const (
	ReasonNotOptedIn      Reason = "not-opted-in"
	ReasonNoActivation    Reason = "no-human-activation"
	ReasonUpstreamPending Reason = "upstream-pending"
	ReasonUpstreamFailing Reason = "upstream-failing"
	ReasonPaused          Reason = "paused"
	ReasonConcurrencyCap  Reason = "concurrency-cap"
)

// Decision is the outcome of a guardrail evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision        { return Decision{Allowed: true} }
func deny(r Reason) Decision { return Decision{Reason: r} }

// Config holds guardrail policy.
type Config struct {
	// AllowedSignals lists non-blocking upstream signal states beyond success.
	AllowedSignals []domain.SignalState `yaml:"allowed_signals"`
}

// DefaultConfig treats neutral and skipped check conclusions as non-blocking.
func DefaultConfig() Config {
	return Config{
		AllowedSignals: []domain.SignalState{domain.SignalNeutral, domain.SignalSkipped},
	}
}

// Evaluator is a pure decision function over a guardrail snapshot.
// It reads external state only through the snapshot and mutates nothing.
type Evaluator struct {
	cfg Config
}

// New creates an Evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate checks every precondition and returns the first failing reason.
// All preconditions must pass for an Allow.
func (e *Evaluator) Evaluate(gc domain.GuardrailContext) Decision {
	if !gc.OptIn {
		return deny(ReasonNotOptedIn)
	}

	// A fresh human trigger is only required before the first round.
	if gc.Round == 0 && !gc.HumanActivated {
		return deny(ReasonNoActivation)
	}

	if d := e.checkUpstream(gc.Upstream); !d.Allowed {
		return d
	}

	if gc.Paused {
		return deny(ReasonPaused)
	}

	cap := gc.MaxConcurrent
	if cap <= 0 {
		cap = 1
	}
	if gc.InFlight >= cap {
		return deny(ReasonConcurrencyCap)
	}

	return allow()
}

func (e *Evaluator) checkUpstream(s domain.SignalState) Decision {
	switch s {
	case domain.SignalSuccess:
		return allow()
	case domain.SignalFailure:
		return deny(ReasonUpstreamFailing)
	case domain.SignalAbsent, domain.SignalPending, "":
		// Absence of a signal is not evidence of success.
		return deny(ReasonUpstreamPending)
	}
	for _, allowed := range e.cfg.AllowedSignals {
		if s == allowed {
			return allow()
		}
	}
	return deny(ReasonUpstreamPending)
}
