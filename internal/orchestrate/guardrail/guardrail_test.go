package guardrail

import (
	"testing"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

func passingContext() domain.GuardrailContext {
	return domain.GuardrailContext{
		TaskID:         "task-1",
		Round:          0,
		OptIn:          true,
		HumanActivated: true,
		Upstream:       domain.SignalSuccess,
		InFlight:       0,
		MaxConcurrent:  1,
		Paused:         false,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.GuardrailContext)
		allowed bool
		reason  Reason
	}{
		{"all preconditions pass", func(gc *domain.GuardrailContext) {}, true, ""},
		{"missing opt-in", func(gc *domain.GuardrailContext) { gc.OptIn = false }, false, ReasonNotOptedIn},
		{"round 0 without activation", func(gc *domain.GuardrailContext) { gc.HumanActivated = false }, false, ReasonNoActivation},
		{"round 3 without fresh activation", func(gc *domain.GuardrailContext) {
			gc.Round = 3
			gc.HumanActivated = false
		}, true, ""},
		{"upstream failing", func(gc *domain.GuardrailContext) { gc.Upstream = domain.SignalFailure }, false, ReasonUpstreamFailing},
		{"upstream pending", func(gc *domain.GuardrailContext) { gc.Upstream = domain.SignalPending }, false, ReasonUpstreamPending},
		{"upstream absent", func(gc *domain.GuardrailContext) { gc.Upstream = domain.SignalAbsent }, false, ReasonUpstreamPending},
		{"upstream empty", func(gc *domain.GuardrailContext) { gc.Upstream = "" }, false, ReasonUpstreamPending},
		{"upstream neutral allowed by default", func(gc *domain.GuardrailContext) { gc.Upstream = domain.SignalNeutral }, true, ""},
		{"upstream skipped allowed by default", func(gc *domain.GuardrailContext) { gc.Upstream = domain.SignalSkipped }, true, ""},
		{"paused", func(gc *domain.GuardrailContext) { gc.Paused = true }, false, ReasonPaused},
		{"at concurrency cap", func(gc *domain.GuardrailContext) { gc.InFlight = 1 }, false, ReasonConcurrencyCap},
		{"under raised cap", func(gc *domain.GuardrailContext) {
			gc.MaxConcurrent = 3
			gc.InFlight = 2
		}, true, ""},
		{"unset cap defaults to one", func(gc *domain.GuardrailContext) {
			gc.MaxConcurrent = 0
			gc.InFlight = 1
		}, false, ReasonConcurrencyCap},
	}

	ev := New(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gc := passingContext()
			tt.mutate(&gc)
			d := ev.Evaluate(gc)
			if d.Allowed != tt.allowed {
				t.Errorf("Evaluate() allowed = %v, want %v (reason %s)", d.Allowed, tt.allowed, d.Reason)
			}
			if !tt.allowed && d.Reason != tt.reason {
				t.Errorf("Evaluate() reason = %s, want %s", d.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluateCustomAllowList(t *testing.T) {
	ev := New(Config{AllowedSignals: []domain.SignalState{domain.SignalSkipped}})

	gc := passingContext()
	gc.Upstream = domain.SignalNeutral
	if d := ev.Evaluate(gc); d.Allowed {
		t.Error("neutral should block when not on the allow-list")
	}
}

func TestEvaluateIsPure(t *testing.T) {
	ev := New(DefaultConfig())
	gc := passingContext()
	before := gc
	for i := 0; i < 5; i++ {
		if d := ev.Evaluate(gc); !d.Allowed {
			t.Fatalf("unexpected deny: %s", d.Reason)
		}
	}
	if gc != before {
		t.Error("Evaluate mutated its input snapshot")
	}
}
