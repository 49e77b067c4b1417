package database

import (
	"context"
	"time"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/pkg/models"
)

const cardColumns = `user_id, question_id, repetitions, ease_factor, interval_days, due_date,
	last_studied, total_attempts, correct_attempts, last_quality, average_quality, level,
	history, points, week_points, week_start, version, created_at, updated_at`

// CardRepository handles database operations for user cards
type CardRepository struct {
	db *DB
}

// NewCardRepository creates a new repository instance
func NewCardRepository(db *DB) *CardRepository {
	return &CardRepository{db: db}
}

// Get returns the card of a user for a question, or errs.ErrNotFound.
// A stored card that violates the card invariants is rejected.
func (r *CardRepository) Get(ctx context.Context, userID, questionID string) (*models.Card, error) {
	var card models.Card
	query := r.db.Rebind(`SELECT ` + cardColumns + ` FROM user_cards WHERE user_id = ? AND question_id = ?`)
	if err := r.db.GetContext(ctx, &card, query, userID, questionID); err != nil {
		return nil, classify("get card", err)
	}
	if err := card.Validate(); err != nil {
		return nil, errs.InvalidInput("decode stored card: %v", err)
	}
	return &card, nil
}

// Insert stores a card that was never persisted. It fails with
// errs.ErrConflict when another writer created the card first.
func (r *CardRepository) Insert(ctx context.Context, card *models.Card) error {
	normalizeCard(card)
	card.Version = 1
	query := r.db.Rebind(`INSERT INTO user_cards (` + cardColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, cardArgs(card)...); err != nil {
		card.Version = 0
		return classify("insert card", err)
	}
	return nil
}

// Update writes card if the stored version still equals expected, and
// bumps the version. A lost race returns errs.ErrConflict.
func (r *CardRepository) Update(ctx context.Context, card *models.Card, expected int64) error {
	normalizeCard(card)
	query := r.db.Rebind(`
		UPDATE user_cards SET
			repetitions = ?,
			ease_factor = ?,
			interval_days = ?,
			due_date = ?,
			last_studied = ?,
			total_attempts = ?,
			correct_attempts = ?,
			last_quality = ?,
			average_quality = ?,
			level = ?,
			history = ?,
			points = ?,
			week_points = ?,
			week_start = ?,
			version = ?,
			updated_at = ?
		WHERE user_id = ? AND question_id = ? AND version = ?`)
	res, err := r.db.ExecContext(ctx, query,
		card.Repetitions,
		card.EaseFactor,
		card.IntervalDays,
		card.DueDate,
		card.LastStudied,
		card.TotalAttempts,
		card.CorrectAttempts,
		card.LastQuality,
		card.AverageQuality,
		card.Level,
		card.History,
		card.Points,
		card.WeekPoints,
		card.WeekStart,
		expected+1,
		card.UpdatedAt,
		card.UserID,
		card.QuestionID,
		expected,
	)
	if err != nil {
		return classify("update card", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update card", err)
	}
	if n == 0 {
		return errs.ErrConflict
	}
	card.Version = expected + 1
	return nil
}

// ListDue returns up to limit cards of a user due at or before asOf,
// oldest due date first.
func (r *CardRepository) ListDue(ctx context.Context, userID string, asOf time.Time, limit int) ([]models.Card, error) {
	query := r.db.Rebind(`SELECT ` + cardColumns + ` FROM user_cards
		WHERE user_id = ? AND due_date <= ?
		ORDER BY due_date ASC, question_id ASC
		LIMIT ?`)
	var cards []models.Card
	if err := r.db.SelectContext(ctx, &cards, query, userID, Timestamp(asOf), limit); err != nil {
		return nil, classify("list due cards", err)
	}
	return validated(cards)
}

// CountDue returns how many cards of a user are due at or before asOf.
func (r *CardRepository) CountDue(ctx context.Context, userID string, asOf time.Time) (int, error) {
	var n int
	query := r.db.Rebind(`SELECT COUNT(*) FROM user_cards WHERE user_id = ? AND due_date <= ?`)
	if err := r.db.GetContext(ctx, &n, query, userID, Timestamp(asOf)); err != nil {
		return 0, classify("count due cards", err)
	}
	return n, nil
}

// ListByUser returns every card of a user.
func (r *CardRepository) ListByUser(ctx context.Context, userID string) ([]models.Card, error) {
	query := r.db.Rebind(`SELECT ` + cardColumns + ` FROM user_cards WHERE user_id = ? ORDER BY question_id`)
	var cards []models.Card
	if err := r.db.SelectContext(ctx, &cards, query, userID); err != nil {
		return nil, classify("list user cards", err)
	}
	return validated(cards)
}

// ListUserIDs pages through the ids of users owning at least one card,
// in ascending order, starting after the given id.
func (r *CardRepository) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	query := r.db.Rebind(`SELECT DISTINCT user_id FROM user_cards WHERE user_id > ? ORDER BY user_id LIMIT ?`)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, after, limit); err != nil {
		return nil, classify("list card owners", err)
	}
	return ids, nil
}

func validated(cards []models.Card) ([]models.Card, error) {
	for i := range cards {
		if err := cards[i].Validate(); err != nil {
			return nil, errs.InvalidInput("decode stored card: %v", err)
		}
	}
	return cards, nil
}

func normalizeCard(c *models.Card) {
	c.DueDate = Timestamp(c.DueDate)
	c.WeekStart = Timestamp(c.WeekStart)
	c.CreatedAt = Timestamp(c.CreatedAt)
	c.UpdatedAt = Timestamp(c.UpdatedAt)
	if c.LastStudied != nil {
		t := Timestamp(*c.LastStudied)
		c.LastStudied = &t
	}
	if c.History == nil {
		c.History = models.History{}
	}
}

func cardArgs(c *models.Card) []interface{} {
	return []interface{}{
		c.UserID,
		c.QuestionID,
		c.Repetitions,
		c.EaseFactor,
		c.IntervalDays,
		c.DueDate,
		c.LastStudied,
		c.TotalAttempts,
		c.CorrectAttempts,
		c.LastQuality,
		c.AverageQuality,
		c.Level,
		c.History,
		c.Points,
		c.WeekPoints,
		c.WeekStart,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	}
}
