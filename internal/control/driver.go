package control

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vietddude/roundkeeper/internal/core/config"
	"github.com/vietddude/roundkeeper/internal/orchestrate/budget"
)

// Ticker runs one round cycle for a task.
type Ticker interface {
	OnTick(ctx context.Context, taskID string) error
}

// Driver owns the tick cadence: tasks tick in parallel up to a cap,
// ticks for the same task stay sequential, and a drained API quota
// skips the whole batch.
type Driver struct {
	cfg     config.DriverConfig
	machine Ticker
	gate    *budget.Gate
	taskIDs []string
	log     *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(cfg config.DriverConfig, machine Ticker, gate *budget.Gate, taskIDs []string) *Driver {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = 4
	}
	return &Driver{
		cfg:     cfg,
		machine: machine,
		gate:    gate,
		taskIDs: taskIDs,
		log:     slog.Default(),
	}
}

// Run ticks until ctx is canceled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	// First batch immediately; the ticker paces the rest.
	d.runBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if delay := d.gate.ThrottleDelay(); delay > 0 {
				d.log.Info("throttling round batch", "delay", delay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
			d.runBatch(ctx)
		}
	}
}

// runBatch ticks every tracked task once. Tasks run in parallel up to
// the cap; the batch returns when all ticks finish.
func (d *Driver) runBatch(ctx context.Context) {
	if !d.gate.CanDispatch() {
		usage := d.gate.Usage()
		d.log.Warn("skipping round batch, quota reserve reached",
			"remaining", usage.Remaining, "reset_at", usage.NextResetAt)
		return
	}

	sem := semaphore.NewWeighted(int64(d.cfg.MaxParallelTasks))
	var wg sync.WaitGroup

	for _, taskID := range d.taskIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := d.machine.OnTick(ctx, id); err != nil && ctx.Err() == nil {
				d.log.Error("tick failed", "task", id, "error", err)
			}
		}(taskID)
	}

	wg.Wait()
}
