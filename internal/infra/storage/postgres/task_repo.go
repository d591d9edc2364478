package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/infra/storage"
)

// TaskRepo implements storage.TaskRepository using PostgreSQL.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo creates a new PostgreSQL task repository.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

type taskRow struct {
	ID               string    `db:"id"`
	Round            int       `db:"round"`
	MaxConcurrent    int       `db:"max_concurrent"`
	Paused           bool      `db:"paused"`
	ConsecutiveFails int       `db:"consecutive_fails"`
	State            string    `db:"state"`
	BranchRef        string    `db:"branch_ref"`
	BaseRef          string    `db:"base_ref"`
	Metadata         []byte    `db:"metadata"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r taskRow) toDomain() (*domain.Task, error) {
	t := &domain.Task{
		ID:               r.ID,
		Round:            r.Round,
		MaxConcurrent:    r.MaxConcurrent,
		Paused:           r.Paused,
		ConsecutiveFails: r.ConsecutiveFails,
		State:            domain.TaskState(r.State),
		BranchRef:        r.BranchRef,
		BaseRef:          r.BaseRef,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt task metadata for %s: %w", r.ID, err)
		}
	}
	return t, nil
}

// Get retrieves a task by id. Returns (nil, nil) when absent.
func (r *TaskRepo) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	var row taskRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, round, max_concurrent, paused, consecutive_fails,
		       state, branch_ref, base_ref, metadata, created_at, updated_at
		FROM tasks WHERE id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toDomain()
}

// Save upserts the task record.
func (r *TaskRepo) Save(ctx context.Context, task *domain.Task) error {
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode task metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, round, max_concurrent, paused, consecutive_fails,
		                   state, branch_ref, base_ref, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			round = EXCLUDED.round,
			max_concurrent = EXCLUDED.max_concurrent,
			paused = EXCLUDED.paused,
			consecutive_fails = EXCLUDED.consecutive_fails,
			state = EXCLUDED.state,
			branch_ref = EXCLUDED.branch_ref,
			base_ref = EXCLUDED.base_ref,
			metadata = EXCLUDED.metadata,
			updated_at = now()`,
		task.ID, task.Round, task.MaxConcurrent, task.Paused, task.ConsecutiveFails,
		string(task.State), task.BranchRef, task.BaseRef, metadata, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// UpdateState updates the task state.
func (r *TaskRepo) UpdateState(ctx context.Context, taskID string, state domain.TaskState) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET state = $1, updated_at = now() WHERE id = $2`,
		string(state), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task state: %w", err)
	}
	return requireRow(res)
}

// UpdateRound updates round number and consecutive failure count atomically.
func (r *TaskRepo) UpdateRound(ctx context.Context, taskID string, round, consecutiveFails int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET round = $1, consecutive_fails = $2, updated_at = now() WHERE id = $3`,
		round, consecutiveFails, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task round: %w", err)
	}
	return requireRow(res)
}

// SetPaused flips the pause flag.
func (r *TaskRepo) SetPaused(ctx context.Context, taskID string, paused bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET paused = $1, updated_at = now() WHERE id = $2`,
		paused, taskID)
	if err != nil {
		return fmt.Errorf("failed to set pause flag: %w", err)
	}
	return requireRow(res)
}

// List retrieves all known tasks.
func (r *TaskRepo) List(ctx context.Context) ([]*domain.Task, error) {
	var rows []taskRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, round, max_concurrent, paused, consecutive_fails,
		       state, branch_ref, base_ref, metadata, created_at, updated_at
		FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	out := make([]*domain.Task, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return storage.ErrTaskNotFound
	}
	return nil
}
