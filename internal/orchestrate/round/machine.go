// Package round implements the per-task round state machine: on each
// tick it evaluates guardrails, synchronizes the task branch, and
// dispatches at most one new round.
package round

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/task"
	"github.com/vietddude/roundkeeper/internal/orchestrate/classify"
	"github.com/vietddude/roundkeeper/internal/orchestrate/dispatch"
	"github.com/vietddude/roundkeeper/internal/orchestrate/guardrail"
	"github.com/vietddude/roundkeeper/internal/orchestrate/metrics"
	"github.com/vietddude/roundkeeper/internal/orchestrate/syncer"
)

// Snapshot is the freshly fetched external state for one task.
type Snapshot struct {
	domain.GuardrailContext

	BranchRef string
	BaseRef   string
	Completed bool
}

// Platform reads external task state. Implementations must fetch fresh
// state on every call; the machine never caches snapshots.
type Platform interface {
	Snapshot(ctx context.Context, taskID string) (Snapshot, error)
}

// InFlightTracker counts executions for a task across all orchestrator
// instances. Incr registers the caller and returns the count including
// it, so cap enforcement is atomic rather than check-then-act.
type InFlightTracker interface {
	Incr(ctx context.Context, taskID string) (int, error)
	Decr(ctx context.Context, taskID string) error
}

// Syncer integrates upstream changes into the task branch.
type Syncer interface {
	Sync(ctx context.Context, ref, target string) syncer.Outcome
}

// Dispatcher delivers the round instruction.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload dispatch.Payload) (dispatch.Ack, error)
}

// Config holds round machine policy.
type Config struct {
	// MaxSyncInvocations bounds conflict/race re-invocations per tick.
	MaxSyncInvocations int `yaml:"max_sync_invocations"`

	// EscalateAfter is the consecutive failed attempt threshold after
	// which the task stops dispatching until investigated.
	EscalateAfter int `yaml:"escalate_after"`

	// TickTimeout is the overall deadline for one tick.
	TickTimeout time.Duration `yaml:"tick_timeout"`
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSyncInvocations: 3,
		EscalateAfter:      2,
		TickTimeout:        2 * time.Minute,
	}
}

// Machine drives rounds for tasks. One logical owner per task: ticks for
// the same task must be sequential; different tasks may tick in parallel.
type Machine struct {
	cfg        Config
	tasks      *task.Manager
	platform   Platform
	guard      *guardrail.Evaluator
	syncer     Syncer
	dispatcher Dispatcher
	inflight   InFlightTracker
	events     *Broadcaster
	log        *slog.Logger
}

// NewMachine creates a Machine.
func NewMachine(
	cfg Config,
	tasks *task.Manager,
	platform Platform,
	guard *guardrail.Evaluator,
	sync Syncer,
	dispatcher Dispatcher,
	inflight InFlightTracker,
) *Machine {
	if cfg.MaxSyncInvocations <= 0 {
		cfg.MaxSyncInvocations = DefaultConfig().MaxSyncInvocations
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = DefaultConfig().EscalateAfter
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultConfig().TickTimeout
	}
	return &Machine{
		cfg:        cfg,
		tasks:      tasks,
		platform:   platform,
		guard:      guard,
		syncer:     sync,
		dispatcher: dispatcher,
		inflight:   inflight,
		events:     NewBroadcaster(),
		log:        slog.Default(),
	}
}

// Events exposes the attempt/escalation event stream.
func (m *Machine) Events() *Broadcaster { return m.events }

// RequestPause pauses the task at the next transition boundary.
func (m *Machine) RequestPause(ctx context.Context, taskID, reason string) error {
	return m.tasks.Pause(ctx, taskID, reason)
}

// RequestResume clears the pause flag; guardrails are re-evaluated in
// full on the next tick rather than resuming mid-state.
func (m *Machine) RequestResume(ctx context.Context, taskID string) error {
	return m.tasks.Resume(ctx, taskID)
}

// OnTick runs one bounded round cycle for the task. A tick that exceeds
// its deadline aborts cleanly, leaving the task in Idle for the next tick.
func (m *Machine) OnTick(ctx context.Context, taskID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TickTimeout)
	defer cancel()

	t, err := m.tasks.Get(ctx, taskID)
	if err != nil && err != task.ErrTaskNotFound {
		return err
	}
	if t != nil && t.State.Terminal() {
		return nil
	}
	if t != nil && t.State == domain.TaskStatePaused {
		m.log.Debug("tick skipped, task paused", "task", taskID)
		return nil
	}

	snap, err := m.platform.Snapshot(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to snapshot task %s: %w", taskID, err)
	}

	if snap.Completed {
		if t != nil {
			if err := m.tasks.Complete(ctx, taskID, "completion signal from platform"); err != nil {
				return err
			}
			m.events.Publish(Event{TaskID: taskID, Reason: "completed"})
			m.log.Info("task completed", "task", taskID, "rounds", t.Round)
		}
		return nil
	}

	// Escalation gate: a persistently failing task stops consuming ticks
	// until someone looks at it.
	if t != nil && t.ConsecutiveFails >= m.cfg.EscalateAfter {
		m.events.Publish(Event{TaskID: taskID, Escalated: true, Reason: "consecutive-failures"})
		metrics.Escalations.WithLabelValues(taskID).Inc()
		m.log.Warn("task needs attention, dispatch suspended",
			"task", taskID, "consecutive_fails", t.ConsecutiveFails)
		return nil
	}

	// Register in flight before evaluating: the returned count makes cap
	// enforcement atomic across concurrent ticks and processes.
	count, err := m.inflight.Incr(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to register in-flight execution: %w", err)
	}
	metrics.InFlight.WithLabelValues(taskID).Set(float64(count))
	defer func() {
		if err := m.inflight.Decr(context.WithoutCancel(ctx), taskID); err != nil {
			m.log.Warn("failed to release in-flight slot", "task", taskID, "error", err)
		}
		metrics.InFlight.WithLabelValues(taskID).Dec()
	}()

	gc := snap.GuardrailContext
	gc.TaskID = taskID
	gc.InFlight = count - 1
	if t != nil {
		gc.Round = t.Round
		gc.Paused = gc.Paused || t.Paused
		if t.MaxConcurrent > 0 {
			gc.MaxConcurrent = t.MaxConcurrent
		}
	}

	decision := m.guard.Evaluate(gc)

	if t == nil {
		if !decision.Allowed {
			m.log.Debug("guardrail denied unknown task, not creating",
				"task", taskID, "reason", decision.Reason)
			return nil
		}
		t, err = m.tasks.Ensure(ctx, taskID, snap.BranchRef, snap.BaseRef, gc.MaxConcurrent)
		if err != nil {
			return err
		}
	}

	if err := m.tasks.SetState(ctx, taskID, domain.TaskStateEvaluating, "tick"); err != nil {
		return err
	}
	defer m.settle(ctx, taskID)

	prospective := t.Round + 1
	started := time.Now()

	if !decision.Allowed {
		metrics.GuardrailDenials.WithLabelValues(taskID, string(decision.Reason)).Inc()
		attempt := &domain.RoundAttempt{
			Round:      prospective,
			Outcome:    domain.AttemptSkipped,
			DenyReason: string(decision.Reason),
			StartedAt:  started,
		}
		if err := m.tasks.RecordAttempt(ctx, taskID, attempt); err != nil {
			return err
		}
		m.events.Publish(Event{TaskID: taskID, Attempt: attempt})
		if decision.Reason == guardrail.ReasonPaused {
			return m.tasks.SetState(ctx, taskID, domain.TaskStatePaused, "pause flag set")
		}
		m.log.Info("round skipped", "task", taskID, "reason", decision.Reason)
		return nil
	}

	if err := m.tasks.SetState(ctx, taskID, domain.TaskStateSyncing, "guardrails passed"); err != nil {
		return err
	}

	out, syncErr := m.syncBounded(ctx, t)
	if syncErr != nil {
		if ctx.Err() != nil {
			// Deadline hit mid-sync: abort cleanly without recording, the
			// next tick re-evaluates from scratch.
			return ctx.Err()
		}
		attempt := failedAttempt(prospective, started, syncErr)
		if err := m.tasks.RecordAttempt(ctx, taskID, attempt); err != nil {
			return err
		}
		m.publishFailure(taskID, attempt)
		return nil
	}

	// Pause boundary: a pause that arrived during sync takes effect
	// before dispatch, not mid-operation.
	fresh, err := m.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if fresh.Paused {
		return m.tasks.SetState(ctx, taskID, domain.TaskStatePaused, "pause flag set during sync")
	}

	if err := m.tasks.SetState(ctx, taskID, domain.TaskStateDispatching, "branch current"); err != nil {
		return err
	}

	payload := dispatch.Payload{
		TaskID:      taskID,
		Round:       prospective,
		Instruction: fmt.Sprintf("round %d: continue work on %s", prospective, t.BranchRef),
		Revision:    out.Revision,
	}
	if _, err := m.dispatcher.Dispatch(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt := failedAttempt(prospective, started, err)
		attempt.StartRevision = out.StartRevision
		if recErr := m.tasks.RecordAttempt(ctx, taskID, attempt); recErr != nil {
			return recErr
		}
		m.publishFailure(taskID, attempt)
		return nil
	}

	attempt := &domain.RoundAttempt{
		Round:         prospective,
		Outcome:       domain.AttemptSuccess,
		StartRevision: out.StartRevision,
		EndRevision:   out.Revision,
		StartedAt:     started,
	}
	if err := m.tasks.RecordAttempt(ctx, taskID, attempt); err != nil {
		return err
	}
	metrics.RoundsDispatched.WithLabelValues(taskID).Inc()
	metrics.TaskRound.WithLabelValues(taskID).Set(float64(prospective))
	metrics.RoundDuration.WithLabelValues(taskID).Observe(time.Since(started).Seconds())
	m.events.Publish(Event{TaskID: taskID, Attempt: attempt})
	m.log.Info("round dispatched", "task", taskID, "round", prospective, "revision", out.Revision)
	return nil
}

// syncBounded re-invokes the synchronizer on conflict/race up to the
// configured bound. Races imply new work landed, so a fresh invocation
// commonly resolves them.
func (m *Machine) syncBounded(ctx context.Context, t *domain.Task) (syncer.Outcome, error) {
	var last syncer.Outcome
	for i := 0; i < m.cfg.MaxSyncInvocations; i++ {
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		last = m.syncer.Sync(ctx, t.BranchRef, t.BaseRef)
		switch last.Kind {
		case syncer.OutcomeAlreadyCurrent, syncer.OutcomeSynced:
			if last.Kind == syncer.OutcomeSynced {
				metrics.SyncsTotal.WithLabelValues(t.ID, "synced").Inc()
			}
			return last, nil
		case syncer.OutcomeConflict:
			metrics.SyncsTotal.WithLabelValues(t.ID, "conflict").Inc()
			m.log.Warn("sync conflict, re-invoking",
				"task", t.ID, "invocation", i+1, "paths", last.Conflicts)
		case syncer.OutcomeRace:
			metrics.SyncsTotal.WithLabelValues(t.ID, "race").Inc()
			m.log.Warn("sync race, re-invoking with refreshed baseline",
				"task", t.ID, "invocation", i+1, "expected", last.Expected, "actual", last.Actual)
		case syncer.OutcomeFailed:
			metrics.SyncsTotal.WithLabelValues(t.ID, "failed").Inc()
			return last, last.Err
		}
	}

	return last, &classify.ClassifiedError{
		Category: domain.CategoryResource,
		Recovery: "resolve the conflicting paths on the branch manually, then re-tick",
		Err: fmt.Errorf("sync attempts exhausted after %d invocations: %s on %s",
			m.cfg.MaxSyncInvocations, last.Kind, t.BranchRef),
	}
}

// settle returns the task to Idle unless it landed in Paused/Completed.
// Keeps a deadline-aborted tick from wedging the task mid-state.
func (m *Machine) settle(ctx context.Context, taskID string) {
	ctx = context.WithoutCancel(ctx)
	t, err := m.tasks.Get(ctx, taskID)
	if err != nil {
		m.log.Error("failed to settle task state", "task", taskID, "error", err)
		return
	}
	switch t.State {
	case domain.TaskStateIdle, domain.TaskStatePaused, domain.TaskStateCompleted:
		return
	}
	if err := m.tasks.SetState(ctx, taskID, domain.TaskStateIdle, "tick finished"); err != nil {
		m.log.Error("failed to return task to idle", "task", taskID, "error", err)
	}
}

func (m *Machine) publishFailure(taskID string, attempt *domain.RoundAttempt) {
	metrics.RoundFailures.WithLabelValues(taskID, string(attempt.Category)).Inc()
	m.events.Publish(Event{TaskID: taskID, Attempt: attempt})
	m.log.Warn("round failed", "task", taskID, "round", attempt.Round,
		"category", attempt.Category, "recovery", attempt.RecoveryHint)
}

func failedAttempt(round int, started time.Time, err error) *domain.RoundAttempt {
	attempt := &domain.RoundAttempt{
		Round:     round,
		Outcome:   domain.AttemptFailed,
		Category:  domain.CategoryResource,
		StartedAt: started,
	}
	if classified := classify.Classify(err); classified != nil {
		attempt.Category = classified.Category
		attempt.RecoveryHint = classified.Recovery
	}
	return attempt
}
