package memory

import (
	"context"

	"github.com/vietddude/roundkeeper/internal/orchestrate/dispatch"
)

// AckStore implements dispatch.AckStore over MemoryStorage.
type AckStore struct {
	store *MemoryStorage
}

func NewAckStore(store *MemoryStorage) *AckStore {
	return &AckStore{store: store}
}

func (s *AckStore) Get(ctx context.Context, key string) (*dispatch.Ack, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	ack, ok := s.store.acks[key]
	if !ok {
		return nil, nil
	}
	c := ack
	return &c, nil
}

func (s *AckStore) Put(ctx context.Context, key string, ack dispatch.Ack) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.acks[key] = ack
	return nil
}

// InFlightTracker counts executions per task within this process.
type InFlightTracker struct {
	store *MemoryStorage
}

func NewInFlightTracker(store *MemoryStorage) *InFlightTracker {
	return &InFlightTracker{store: store}
}

// Incr registers the caller and returns the count including it.
func (t *InFlightTracker) Incr(ctx context.Context, taskID string) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.inflight[taskID]++
	return t.store.inflight[taskID], nil
}

func (t *InFlightTracker) Decr(ctx context.Context, taskID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.inflight[taskID] > 0 {
		t.store.inflight[taskID]--
	}
	return nil
}
