package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/roundkeeper/internal/orchestrate/dispatch"
)

// Ack markers outlive any single run but need not live forever; rounds
// older than this are never re-dispatched anyway.
const ackTTL = 30 * 24 * time.Hour

func ackKey(key string) string {
	return fmt.Sprintf("ack:%s", key)
}

// AckStore persists acknowledged dispatch keys in Redis so idempotency
// survives restarts and is shared across orchestrator instances.
type AckStore struct {
	client *Client
}

// NewAckStore creates an AckStore.
func NewAckStore(client *Client) *AckStore {
	return &AckStore{client: client}
}

// Get returns the stored ack for key, or (nil, nil) when absent.
func (s *AckStore) Get(ctx context.Context, key string) (*dispatch.Ack, error) {
	raw, err := s.client.rdb.Get(ctx, ackKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ack %s: %w", key, err)
	}

	var ack dispatch.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, fmt.Errorf("corrupt ack record %s: %w", key, err)
	}
	return &ack, nil
}

// Put stores the ack marker.
func (s *AckStore) Put(ctx context.Context, key string, ack dispatch.Ack) error {
	raw, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("failed to encode ack %s: %w", key, err)
	}
	if err := s.client.rdb.Set(ctx, ackKey(key), raw, ackTTL).Err(); err != nil {
		return fmt.Errorf("failed to store ack %s: %w", key, err)
	}
	return nil
}
