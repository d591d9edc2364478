package memory

import (
	"context"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

// AttemptRepo implements storage.AttemptRepository over MemoryStorage.
// Attempts are append-only; nothing here mutates recorded entries.
type AttemptRepo struct {
	store *MemoryStorage
}

func NewAttemptRepo(store *MemoryStorage) *AttemptRepo {
	return &AttemptRepo{store: store}
}

func (r *AttemptRepo) Append(ctx context.Context, attempt *domain.RoundAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.attempts[attempt.TaskID] = append(r.store.attempts[attempt.TaskID], cloneAttempt(attempt))
	return nil
}

func (r *AttemptRepo) History(ctx context.Context, taskID string, limit int) ([]*domain.RoundAttempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	all := r.store.attempts[taskID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*domain.RoundAttempt, 0, len(all))
	for _, a := range all {
		out = append(out, cloneAttempt(a))
	}
	return out, nil
}

func (r *AttemptRepo) CountByOutcome(ctx context.Context, taskID string, outcome domain.AttemptOutcome) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, a := range r.store.attempts[taskID] {
		if a.Outcome == outcome {
			n++
		}
	}
	return n, nil
}
