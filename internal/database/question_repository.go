package database

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/example/dentalsrs/pkg/models"
)

const questionColumns = `id, subject, body, answer, created_at, updated_at`

// QuestionRepository handles database operations for the question bank
type QuestionRepository struct {
	db *DB
}

// NewQuestionRepository creates a new repository instance
func NewQuestionRepository(db *DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// GetByID returns a question by ID
func (r *QuestionRepository) GetByID(ctx context.Context, id string) (*models.Question, error) {
	var q models.Question
	query := r.db.Rebind(`SELECT ` + questionColumns + ` FROM questions WHERE id = ?`)
	if err := r.db.GetContext(ctx, &q, query, id); err != nil {
		return nil, classify("get question", err)
	}
	return &q, nil
}

// GetBySubject returns the questions of one subject
func (r *QuestionRepository) GetBySubject(ctx context.Context, subject string) ([]models.Question, error) {
	var qs []models.Question
	query := r.db.Rebind(`SELECT ` + questionColumns + ` FROM questions WHERE subject = ? ORDER BY id`)
	if err := r.db.SelectContext(ctx, &qs, query, subject); err != nil {
		return nil, classify("get questions by subject", err)
	}
	return qs, nil
}

// ListUnseen returns up to limit questions the user has no card for yet
func (r *QuestionRepository) ListUnseen(ctx context.Context, userID string, limit int) ([]models.Question, error) {
	var qs []models.Question
	query := r.db.Rebind(`
		SELECT ` + questionColumns + ` FROM questions q
		WHERE NOT EXISTS (
			SELECT 1 FROM user_cards c WHERE c.user_id = ? AND c.question_id = q.id
		)
		ORDER BY q.id
		LIMIT ?`)
	if err := r.db.SelectContext(ctx, &qs, query, userID, limit); err != nil {
		return nil, classify("list unseen questions", err)
	}
	return qs, nil
}

// Count returns the size of the question bank
func (r *QuestionRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM questions`); err != nil {
		return 0, classify("count questions", err)
	}
	return n, nil
}

// PutChunk upserts a chunk of imported questions together with the import
// checkpoint.
func (r *QuestionRepository) PutChunk(ctx context.Context, qs []models.Question, cp *Checkpoint) error {
	return r.db.inTx(ctx, "put question chunk", func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO questions (` + questionColumns + `) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				subject = excluded.subject,
				body = excluded.body,
				answer = excluded.answer,
				updated_at = excluded.updated_at`)
		for _, q := range qs {
			_, err := tx.ExecContext(ctx, query,
				q.ID, q.Subject, q.Body, q.Answer, Timestamp(q.CreatedAt), Timestamp(q.UpdatedAt))
			if err != nil {
				return classify("put question "+q.ID, err)
			}
		}
		return putCheckpoint(ctx, tx, cp)
	})
}
