package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

func TestGate_UnobservedAllowsEverything(t *testing.T) {
	gate := NewGate(DefaultConfig())

	if !gate.CanDispatch() {
		t.Error("unobserved gate should allow dispatch")
	}
	if delay := gate.ThrottleDelay(); delay != 0 {
		t.Errorf("unobserved gate delay = %v, want 0", delay)
	}
}

func TestGate_ReserveFloor(t *testing.T) {
	gate := NewGate(Config{MinReserve: 50})
	reset := time.Now().Add(time.Hour)

	gate.Observe(domain.Quota{Remaining: 51, Limit: 5000, ResetAt: reset})
	if !gate.CanDispatch() {
		t.Error("should allow dispatch just above the reserve")
	}

	gate.Observe(domain.Quota{Remaining: 50, Limit: 5000, ResetAt: reset})
	if gate.CanDispatch() {
		t.Error("should refuse dispatch at the reserve floor")
	}
}

func TestGate_AllowsAfterReset(t *testing.T) {
	gate := NewGate(Config{MinReserve: 50})

	// Stale observation: the window already reset remotely.
	gate.Observe(domain.Quota{Remaining: 0, Limit: 5000, ResetAt: time.Now().Add(-time.Minute)})
	if !gate.CanDispatch() {
		t.Error("should allow dispatch after the quota window reset")
	}
	if delay := gate.ThrottleDelay(); delay != 0 {
		t.Errorf("delay = %v, want 0 after reset", delay)
	}
}

func TestGate_Throttle(t *testing.T) {
	gate := NewGate(Config{MinReserve: 50})
	reset := time.Now().Add(time.Hour)

	gate.Observe(domain.Quota{Remaining: 4000, Limit: 5000, ResetAt: reset})
	if delay := gate.ThrottleDelay(); delay != 0 {
		t.Errorf("delay = %v, want 0 at 20%% usage", delay)
	}

	gate.Observe(domain.Quota{Remaining: 2000, Limit: 5000, ResetAt: reset})
	if delay := gate.ThrottleDelay(); delay == 0 {
		t.Error("expected throttle delay at 60% usage")
	}

	gate.Observe(domain.Quota{Remaining: 40, Limit: 5000, ResetAt: reset})
	delay := gate.ThrottleDelay()
	if delay < 30*time.Minute {
		t.Errorf("delay = %v, want wait until reset below the reserve", delay)
	}
}

func TestGate_Concurrency(t *testing.T) {
	gate := NewGate(DefaultConfig())
	reset := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			gate.Observe(domain.Quota{Remaining: 5000 - n, Limit: 5000, ResetAt: reset})
			gate.CanDispatch()
			gate.ThrottleDelay()
			gate.Usage()
		}(i)
	}
	wg.Wait()

	usage := gate.Usage()
	if usage.Limit != 5000 {
		t.Errorf("limit = %d, want 5000", usage.Limit)
	}
}
