// Package budget gates round work on the remaining platform API quota.
//
// The platform reports quota on every response (remaining, limit, reset
// time). The gate keeps the last observation, refuses new round batches
// once the reserve floor is reached, and slows ticking down as the
// quota drains.
package budget

import (
	"sync"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/metrics"
)

// UsageStats holds quota usage statistics.
type UsageStats struct {
	Remaining       int
	Limit           int
	UsagePercentage float64
	NextResetAt     time.Time
}

// Config holds budget policy.
type Config struct {
	// MinReserve is the quota floor kept untouched for manual operations.
	// New round batches are refused below it.
	MinReserve int `yaml:"min_reserve"`
}

// DefaultConfig keeps 50 calls in reserve.
func DefaultConfig() Config {
	return Config{MinReserve: 50}
}

// Gate tracks the observed platform quota and throttles round work.
// An unobserved quota allows everything; the first response corrects it.
type Gate struct {
	mu       sync.RWMutex
	cfg      Config
	observed bool
	quota    domain.Quota
}

// NewGate creates a Gate.
func NewGate(cfg Config) *Gate {
	if cfg.MinReserve <= 0 {
		cfg.MinReserve = DefaultConfig().MinReserve
	}
	return &Gate{cfg: cfg}
}

// Observe records the quota reported by the latest platform response.
func (g *Gate) Observe(q domain.Quota) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observed = true
	g.quota = q
	metrics.QuotaRemaining.Set(float64(q.Remaining))
}

// CanDispatch reports whether a new round batch fits above the reserve.
func (g *Gate) CanDispatch() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.observed {
		return true
	}
	if time.Now().After(g.quota.ResetAt) {
		return true
	}
	return g.quota.Remaining > g.cfg.MinReserve
}

// ThrottleDelay returns how long to wait before the next batch.
func (g *Gate) ThrottleDelay() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.observed {
		return 0
	}
	if time.Now().After(g.quota.ResetAt) {
		return 0
	}

	usage := g.usagePercentageUnsafe()
	if usage < 50 {
		return 0
	}
	if usage < 70 {
		return 1 * time.Second
	}
	if usage < 90 {
		return 5 * time.Second
	}
	if g.quota.Remaining > g.cfg.MinReserve {
		return 15 * time.Second
	}

	// Reserve reached: nothing to do until the window resets.
	return time.Until(g.quota.ResetAt)
}

// Usage returns the current usage statistics.
func (g *Gate) Usage() UsageStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return UsageStats{
		Remaining:       g.quota.Remaining,
		Limit:           g.quota.Limit,
		UsagePercentage: g.usagePercentageUnsafe(),
		NextResetAt:     g.quota.ResetAt,
	}
}

func (g *Gate) usagePercentageUnsafe() float64 {
	if g.quota.Limit <= 0 {
		return 0
	}
	used := g.quota.Limit - g.quota.Remaining
	return float64(used) / float64(g.quota.Limit) * 100
}
