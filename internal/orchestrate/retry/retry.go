// Package retry wraps remote operations with bounded, classified retries.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/classify"
	"github.com/vietddude/roundkeeper/internal/orchestrate/metrics"
)

// Class identifies an operation class with its own attempt cap.
type Class string

const (
	ClassRead     Class = "read"
	ClassPublish  Class = "publish"
	ClassDispatch Class = "dispatch"
)

// Config defines retry behavior per operation class.
type Config struct {
	Attempts  map[Class]int `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	Jitter    time.Duration `yaml:"jitter"`
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		Attempts: map[Class]int{
			ClassRead:     5,
			ClassPublish:  3,
			ClassDispatch: 3,
		},
		BaseDelay: 1 * time.Second,
		MaxDelay:  60 * time.Second,
		Jitter:    250 * time.Millisecond,
	}
}

const fallbackAttempts = 3

// Executor runs operations with exponential backoff on transient failures.
// Non-transient failures are returned to the caller immediately.
type Executor struct {
	cfg   Config
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Executor{
		cfg:   cfg,
		log:   slog.Default(),
		sleep: sleepCtx,
	}
}

// Do executes op, retrying transient failures up to the class attempt cap.
// Returns nil on success, or a *classify.ClassifiedError describing the
// final failure. The per-attempt count never exceeds the configured cap.
func (e *Executor) Do(ctx context.Context, class Class, name string, op func(ctx context.Context) error) error {
	maxAttempts := e.cfg.Attempts[class]
	if maxAttempts <= 0 {
		maxAttempts = fallbackAttempts
	}

	var classified *classify.ClassifiedError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		classified = classify.Classify(err)
		if classified.Category != domain.CategoryTransient {
			e.log.Warn("operation failed, not retryable",
				"op", name, "class", class, "attempt", attempt,
				"category", classified.Category, "error", err)
			return classified
		}

		if attempt == maxAttempts {
			break
		}

		delay := e.backoff(attempt)
		if hint, ok := classify.RetryAfterHint(err); ok {
			// Never retry sooner than the remote side instructed.
			delay = hint
		}

		metrics.RetryAttempts.WithLabelValues(string(class)).Inc()
		e.log.Warn("transient failure, retrying",
			"op", name, "class", class, "attempt", attempt,
			"max_attempts", maxAttempts, "delay", delay, "error", err)

		if err := e.sleep(ctx, delay); err != nil {
			return &classify.ClassifiedError{
				Category: domain.CategoryTransient,
				Recovery: "tick deadline exceeded; re-evaluate on next tick",
				Err:      err,
			}
		}
	}

	return &classify.ClassifiedError{
		Category: classified.Category,
		Recovery: classified.Recovery,
		Err:      fmt.Errorf("%s failed after %d attempts: %w", name, maxAttempts, classified.Err),
	}
}

// backoff computes base * 2^(attempt-1) ± jitter, capped at MaxDelay.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(e.cfg.MaxDelay) {
		delay = float64(e.cfg.MaxDelay)
	}
	d := time.Duration(delay)
	if e.cfg.Jitter > 0 {
		d += rand.N(2*e.cfg.Jitter) - e.cfg.Jitter
		if d < 0 {
			d = 0
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
