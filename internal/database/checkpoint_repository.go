package database

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/dentalsrs/internal/errs"
)

// Checkpoint records how far a batch job got: Cursor is the key of the
// last item of the last committed chunk.
type Checkpoint struct {
	Job       string    `db:"job"`
	Cursor    string    `db:"cursor"`
	Chunk     int       `db:"chunk"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CheckpointRepository reads and clears job checkpoints. Checkpoints are
// written by the chunk transactions they describe.
type CheckpointRepository struct {
	db *DB
}

// NewCheckpointRepository creates a new repository instance
func NewCheckpointRepository(db *DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get returns the job's checkpoint. A job that never ran has an empty one.
func (r *CheckpointRepository) Get(ctx context.Context, job string) (*Checkpoint, error) {
	var cp Checkpoint
	query := r.db.Rebind(`SELECT job, cursor, chunk, updated_at FROM job_checkpoints WHERE job = ?`)
	err := classify("get checkpoint", r.db.GetContext(ctx, &cp, query, job))
	if errors.Is(err, errs.ErrNotFound) {
		return &Checkpoint{Job: job}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Clear removes the job's checkpoint once the job has finished.
func (r *CheckpointRepository) Clear(ctx context.Context, job string) error {
	query := r.db.Rebind(`DELETE FROM job_checkpoints WHERE job = ?`)
	_, err := r.db.ExecContext(ctx, query, job)
	return classify("clear checkpoint", err)
}

// putCheckpoint saves cp inside tx. A nil cp is a write outside any job.
func putCheckpoint(ctx context.Context, tx *sqlx.Tx, cp *Checkpoint) error {
	if cp == nil {
		return nil
	}
	query := tx.Rebind(`
		INSERT INTO job_checkpoints (job, cursor, chunk, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (job) DO UPDATE SET
			cursor = excluded.cursor,
			chunk = excluded.chunk,
			updated_at = excluded.updated_at`)
	_, err := tx.ExecContext(ctx, query, cp.Job, cp.Cursor, cp.Chunk, Timestamp(cp.UpdatedAt))
	return classify("save checkpoint", err)
}
