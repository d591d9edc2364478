package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

// AttemptRepo implements storage.AttemptRepository using PostgreSQL.
// The table is append-only; there are no UPDATE or DELETE paths.
type AttemptRepo struct {
	db *DB
}

// NewAttemptRepo creates a new PostgreSQL attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

type attemptRow struct {
	ID            string         `db:"id"`
	TaskID        string         `db:"task_id"`
	Round         int            `db:"round"`
	Outcome       string         `db:"outcome"`
	Category      sql.NullString `db:"category"`
	RecoveryHint  sql.NullString `db:"recovery_hint"`
	DenyReason    sql.NullString `db:"deny_reason"`
	StartRevision sql.NullString `db:"start_revision"`
	EndRevision   sql.NullString `db:"end_revision"`
	StartedAt     time.Time      `db:"started_at"`
	FinishedAt    time.Time      `db:"finished_at"`
}

func (r attemptRow) toDomain() *domain.RoundAttempt {
	return &domain.RoundAttempt{
		ID:            r.ID,
		TaskID:        r.TaskID,
		Round:         r.Round,
		Outcome:       domain.AttemptOutcome(r.Outcome),
		Category:      domain.FailureCategory(r.Category.String),
		RecoveryHint:  r.RecoveryHint.String,
		DenyReason:    r.DenyReason.String,
		StartRevision: r.StartRevision.String,
		EndRevision:   r.EndRevision.String,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Append records an attempt.
func (r *AttemptRepo) Append(ctx context.Context, attempt *domain.RoundAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO round_attempts (id, task_id, round, outcome, category, recovery_hint,
		                            deny_reason, start_revision, end_revision, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		attempt.ID, attempt.TaskID, attempt.Round, string(attempt.Outcome),
		nullable(string(attempt.Category)), nullable(attempt.RecoveryHint),
		nullable(attempt.DenyReason), nullable(attempt.StartRevision),
		nullable(attempt.EndRevision), attempt.StartedAt, attempt.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

// History returns attempts for a task in chronological order, newest
// last, capped at limit (0 = no cap).
func (r *AttemptRepo) History(ctx context.Context, taskID string, limit int) ([]*domain.RoundAttempt, error) {
	query := `
		SELECT id, task_id, round, outcome, category, recovery_hint,
		       deny_reason, start_revision, end_revision, started_at, finished_at
		FROM round_attempts WHERE task_id = $1 ORDER BY finished_at DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read attempt history: %w", err)
	}

	// Fetched newest-first for the LIMIT; reverse to chronological.
	out := make([]*domain.RoundAttempt, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.toDomain()
	}
	return out, nil
}

// CountByOutcome counts attempts with the given outcome.
func (r *AttemptRepo) CountByOutcome(ctx context.Context, taskID string, outcome domain.AttemptOutcome) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT count(*) FROM round_attempts WHERE task_id = $1 AND outcome = $2`,
		taskID, string(outcome))
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}
