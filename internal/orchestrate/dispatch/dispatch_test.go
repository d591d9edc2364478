package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/orchestrate/classify"
	"github.com/vietddude/roundkeeper/internal/orchestrate/retry"
)

// =============================================================================
// Mocks
// =============================================================================

type mockSink struct {
	mu          sync.Mutex
	sends       int
	remoteAcked map[string]bool
	sendErr     error
	unconfirmed bool
}

func newMockSink() *mockSink {
	return &mockSink{remoteAcked: make(map[string]bool)}
}

func (s *mockSink) Send(ctx context.Context, payload Payload, key string) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	if s.sendErr != nil {
		return Ack{}, s.sendErr
	}
	if s.unconfirmed {
		return Ack{}, nil
	}
	s.remoteAcked[key] = true
	return Ack{RemoteID: "comment-42", DeliveredAt: time.Now()}, nil
}

func (s *mockSink) HasAcked(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAcked[key], nil
}

type memAckStore struct {
	mu   sync.Mutex
	acks map[string]Ack
}

func newMemAckStore() *memAckStore {
	return &memAckStore{acks: make(map[string]Ack)}
}

func (s *memAckStore) Get(ctx context.Context, key string) (*Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ack, ok := s.acks[key]; ok {
		return &ack, nil
	}
	return nil, nil
}

func (s *memAckStore) Put(ctx context.Context, key string, ack Ack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[key] = ack
	return nil
}

func newTestDispatcher(sink Sink, acks AckStore) *Dispatcher {
	exec := retry.NewExecutor(retry.Config{
		Attempts:  map[retry.Class]int{retry.ClassRead: 2, retry.ClassDispatch: 3},
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
	})
	return New(sink, acks, exec)
}

// =============================================================================
// Tests
// =============================================================================

func TestDispatchSendsOnce(t *testing.T) {
	sink := newMockSink()
	store := newMemAckStore()
	d := newTestDispatcher(sink, store)

	payload := Payload{TaskID: "task-1", Round: 1, Instruction: "continue"}

	first, err := d.Dispatch(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := d.Dispatch(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}

	if sink.sends != 1 {
		t.Errorf("sends = %d, want exactly 1", sink.sends)
	}
	if first.RemoteID != second.RemoteID {
		t.Errorf("replayed ack %q differs from original %q", second.RemoteID, first.RemoteID)
	}
}

func TestDispatchDistinctRoundsSendSeparately(t *testing.T) {
	sink := newMockSink()
	d := newTestDispatcher(sink, newMemAckStore())

	_, _ = d.Dispatch(context.Background(), Payload{TaskID: "task-1", Round: 1})
	_, _ = d.Dispatch(context.Background(), Payload{TaskID: "task-1", Round: 2})

	if sink.sends != 2 {
		t.Errorf("sends = %d, want 2 for distinct rounds", sink.sends)
	}
}

func TestDispatchRecoversRemoteAckAfterStoreLoss(t *testing.T) {
	sink := newMockSink()
	payload := Payload{TaskID: "task-1", Round: 1}

	d := newTestDispatcher(sink, newMemAckStore())
	if _, err := d.Dispatch(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a restart with a fresh (empty) ack store.
	d2 := newTestDispatcher(sink, newMemAckStore())
	if _, err := d2.Dispatch(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.sends != 1 {
		t.Errorf("sends = %d, want 1 (remote confirmation must prevent double-post)", sink.sends)
	}
}

func TestDispatchUnconfirmedDeliveryNotMarked(t *testing.T) {
	sink := newMockSink()
	sink.unconfirmed = true
	store := newMemAckStore()
	d := newTestDispatcher(sink, store)

	_, err := d.Dispatch(context.Background(), Payload{TaskID: "task-1", Round: 1})
	if err == nil {
		t.Fatal("expected error for unconfirmed delivery")
	}
	if ack, _ := store.Get(context.Background(), Key("task-1", 1)); ack != nil {
		t.Error("unconfirmed delivery must not be marked acknowledged")
	}
}

func TestDispatchSendFailureClassified(t *testing.T) {
	sink := newMockSink()
	sink.sendErr = &classify.HTTPError{Status: 403, Body: "forbidden"}
	d := newTestDispatcher(sink, newMemAckStore())

	_, err := d.Dispatch(context.Background(), Payload{TaskID: "task-1", Round: 1})
	var ce *classify.ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want classified", err)
	}
	if sink.sends != 1 {
		t.Errorf("sends = %d, want 1 (auth errors are not retried)", sink.sends)
	}
}

func TestKeyDeterministic(t *testing.T) {
	if Key("task-1", 3) != Key("task-1", 3) {
		t.Error("key derivation must be deterministic")
	}
	if Key("task-1", 3) == Key("task-1", 4) {
		t.Error("distinct rounds must derive distinct keys")
	}
	if Key("task-1", 3) == Key("task-2", 3) {
		t.Error("distinct tasks must derive distinct keys")
	}
}
