// Package memory backs the repositories with in-process maps. Used for
// tests and for running without a database.
package memory

import (
	"sort"
	"sync"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/dispatch"
)

type MemoryStorage struct {
	tasks    map[string]*domain.Task
	attempts map[string][]*domain.RoundAttempt
	acks     map[string]dispatch.Ack
	inflight map[string]int
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks:    make(map[string]*domain.Task),
		attempts: make(map[string][]*domain.RoundAttempt),
		acks:     make(map[string]dispatch.Ack),
		inflight: make(map[string]int),
	}
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneAttempt(a *domain.RoundAttempt) *domain.RoundAttempt {
	c := *a
	return &c
}

func sortTasks(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}
