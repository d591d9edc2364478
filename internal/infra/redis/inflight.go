package redis

import (
	"context"
	"fmt"
	"time"
)

// A crashed instance must not pin a slot forever; the counter expires
// well after any sane tick deadline.
const inflightTTL = 10 * time.Minute

func inflightKey(taskID string) string {
	return fmt.Sprintf("inflight:%s", taskID)
}

// InFlightTracker counts concurrently executing rounds per task across
// all orchestrator instances.
type InFlightTracker struct {
	client *Client
}

// NewInFlightTracker creates an InFlightTracker.
func NewInFlightTracker(client *Client) *InFlightTracker {
	return &InFlightTracker{client: client}
}

// Incr registers the caller and returns the count including it. INCR is
// atomic in Redis, so concurrent callers observe distinct counts.
func (t *InFlightTracker) Incr(ctx context.Context, taskID string) (int, error) {
	key := inflightKey(taskID)
	n, err := t.client.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment in-flight counter: %w", err)
	}
	if err := t.client.rdb.Expire(ctx, key, inflightTTL).Err(); err != nil {
		return int(n), fmt.Errorf("failed to refresh in-flight ttl: %w", err)
	}
	return int(n), nil
}

// Decr releases the caller's slot, never dropping below zero.
func (t *InFlightTracker) Decr(ctx context.Context, taskID string) error {
	key := inflightKey(taskID)
	n, err := t.client.rdb.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to decrement in-flight counter: %w", err)
	}
	if n < 0 {
		// Counter expired between Incr and Decr; clamp instead of going negative.
		return t.client.rdb.Set(ctx, key, 0, inflightTTL).Err()
	}
	return nil
}
