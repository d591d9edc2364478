package round

import (
	"sync"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

// Event is published for every recorded attempt and escalation so the
// excluded collaborators (status rendering, labels) can observe progress.
type Event struct {
	TaskID    string
	Attempt   *domain.RoundAttempt // nil for pure escalation events
	Escalated bool
	Reason    string
}

// Broadcaster fans out events to subscribers. Slow subscribers drop
// events rather than block the state machine.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size.
// The returned func cancels the subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to all subscribers without blocking.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
