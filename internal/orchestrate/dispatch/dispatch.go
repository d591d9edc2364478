// Package dispatch performs the external round side effect exactly once
// per (task, round) pair using idempotency markers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/classify"
	"github.com/vietddude/roundkeeper/internal/orchestrate/retry"
)

// Payload is the instruction delivered to the agent for one round.
type Payload struct {
	TaskID      string `json:"task_id"`
	Round       int    `json:"round"`
	Instruction string `json:"instruction"`
	Revision    string `json:"revision,omitempty"`
}

// Ack is the remote side's explicit delivery confirmation.
type Ack struct {
	Key         string    `json:"key"`
	RemoteID    string    `json:"remote_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Sink delivers notifications to the external collaborator.
type Sink interface {
	// Send delivers the payload. The returned Ack must carry the remote
	// side's confirmation id; a bare 2xx is not confirmation.
	Send(ctx context.Context, payload Payload, key string) (Ack, error)

	// HasAcked reports whether the remote side already confirmed key.
	HasAcked(ctx context.Context, key string) (bool, error)
}

// AckStore persists acknowledged idempotency keys across restarts.
type AckStore interface {
	Get(ctx context.Context, key string) (*Ack, error)
	Put(ctx context.Context, key string, ack Ack) error
}

// Key derives the idempotency key for a task round. Deterministic: the
// same (task, round) pair always maps to the same key.
func Key(taskID string, round int) string {
	return fmt.Sprintf("%s:round:%d", taskID, round)
}

var errUnconfirmed = errors.New("delivery returned no remote confirmation")

// Dispatcher sends at most one semantically distinct notification per
// (task, round), even across process restarts.
type Dispatcher struct {
	sink Sink
	acks AckStore
	exec *retry.Executor
	log  *slog.Logger
}

// New creates a Dispatcher.
func New(sink Sink, acks AckStore, exec *retry.Executor) *Dispatcher {
	return &Dispatcher{
		sink: sink,
		acks: acks,
		exec: exec,
		log:  slog.Default(),
	}
}

// Dispatch delivers payload for its round, replaying the cached Ack if the
// key was already acknowledged. A key is marked acknowledged only after
// explicit remote confirmation.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) (Ack, error) {
	key := Key(payload.TaskID, payload.Round)

	if cached, err := d.acks.Get(ctx, key); err != nil {
		d.log.Warn("ack store read failed, consulting remote", "key", key, "error", err)
	} else if cached != nil {
		d.log.Debug("dispatch replayed from ack store", "key", key)
		return *cached, nil
	}

	// The local store may have missed an ack (crash after send, store
	// loss). The remote side is the authority on what it confirmed.
	acked, err := d.remoteAcked(ctx, key)
	if err != nil {
		return Ack{}, err
	}
	if acked {
		ack := Ack{Key: key, RemoteID: "recovered", DeliveredAt: time.Now()}
		d.store(ctx, key, ack)
		d.log.Info("dispatch already confirmed remotely, skipping send", "key", key)
		return ack, nil
	}

	var ack Ack
	sendErr := d.exec.Do(ctx, retry.ClassDispatch, "dispatch "+key, func(ctx context.Context) error {
		var err error
		ack, err = d.sink.Send(ctx, payload, key)
		if err != nil {
			return err
		}
		if ack.RemoteID == "" {
			return &classify.ClassifiedError{
				Category: domain.CategoryUnknown,
				Recovery: "verify delivery manually before re-dispatching this round",
				Err:      errUnconfirmed,
			}
		}
		return nil
	})
	if sendErr != nil {
		return Ack{}, sendErr
	}

	ack.Key = key
	if ack.DeliveredAt.IsZero() {
		ack.DeliveredAt = time.Now()
	}
	d.store(ctx, key, ack)
	d.log.Info("round dispatched", "task", payload.TaskID, "round", payload.Round, "remote_id", ack.RemoteID)
	return ack, nil
}

func (d *Dispatcher) remoteAcked(ctx context.Context, key string) (bool, error) {
	var acked bool
	err := d.exec.Do(ctx, retry.ClassRead, "has-acked "+key, func(ctx context.Context) error {
		var err error
		acked, err = d.sink.HasAcked(ctx, key)
		return err
	})
	return acked, err
}

func (d *Dispatcher) store(ctx context.Context, key string, ack Ack) {
	if err := d.acks.Put(ctx, key, ack); err != nil {
		// The send already happened; losing the marker risks a duplicate
		// on the next tick, so make it loud.
		d.log.Error("failed to persist ack marker", "key", key, "error", err)
	}
}
