package memory

import (
	"context"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/infra/storage"
)

// TaskRepo implements storage.TaskRepository over MemoryStorage.
type TaskRepo struct {
	store *MemoryStorage
}

func NewTaskRepo(store *MemoryStorage) *TaskRepo {
	return &TaskRepo{store: store}
}

func (r *TaskRepo) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (r *TaskRepo) Save(ctx context.Context, task *domain.Task) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := cloneTask(task)
	c.UpdatedAt = time.Now()
	r.store.tasks[task.ID] = c
	return nil
}

func (r *TaskRepo) UpdateState(ctx context.Context, taskID string, state domain.TaskState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[taskID]
	if !ok {
		return storage.ErrTaskNotFound
	}
	t.State = state
	t.UpdatedAt = time.Now()
	return nil
}

func (r *TaskRepo) UpdateRound(ctx context.Context, taskID string, round, consecutiveFails int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[taskID]
	if !ok {
		return storage.ErrTaskNotFound
	}
	t.Round = round
	t.ConsecutiveFails = consecutiveFails
	t.UpdatedAt = time.Now()
	return nil
}

func (r *TaskRepo) SetPaused(ctx context.Context, taskID string, paused bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[taskID]
	if !ok {
		return storage.ErrTaskNotFound
	}
	t.Paused = paused
	t.UpdatedAt = time.Now()
	return nil
}

func (r *TaskRepo) List(ctx context.Context) ([]*domain.Task, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Task, 0, len(r.store.tasks))
	for _, t := range r.store.tasks {
		out = append(out, cloneTask(t))
	}
	sortTasks(out)
	return out, nil
}
