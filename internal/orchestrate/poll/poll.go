// Package poll waits for an external condition with an explicit
// deadline, distinguishing "found" from "timed out" as data instead of
// overloading an error.
package poll

import (
	"context"
	"time"
)

// ResultKind says how the wait ended.
type ResultKind string

const (
	KindFound    ResultKind = "found"
	KindTimedOut ResultKind = "timed-out"
)

// Result is the outcome of one Wait call. Err is set only when the
// condition check itself failed or the context was canceled; a timeout
// is a normal result, not an error.
type Result[T any] struct {
	Kind    ResultKind
	Value   T
	Elapsed time.Duration
	Err     error
}

// Condition checks once for the awaited value. Return ok=false to keep
// polling; any error aborts the wait.
type Condition[T any] func(ctx context.Context) (value T, ok bool, err error)

// Config holds poll timing.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig polls every 5s for up to 2 minutes.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  2 * time.Minute,
	}
}

// Wait polls cond until it reports ok, the timeout lapses, or ctx is
// canceled. The condition is checked once immediately before the first
// interval.
func Wait[T any](ctx context.Context, cfg Config, cond Condition[T]) Result[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	start := time.Now()
	deadline := start.Add(cfg.Timeout)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		value, ok, err := cond(ctx)
		if err != nil {
			return Result[T]{Kind: KindTimedOut, Elapsed: time.Since(start), Err: err}
		}
		if ok {
			return Result[T]{Kind: KindFound, Value: value, Elapsed: time.Since(start)}
		}

		if time.Now().After(deadline) {
			return Result[T]{Kind: KindTimedOut, Elapsed: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return Result[T]{Kind: KindTimedOut, Elapsed: time.Since(start), Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}
