package database

import (
	"context"
	"time"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/pkg/models"
)

const userColumns = `id, nickname, telegram_id, show_on_leaderboard, new_cards_per_day, created_at, updated_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new repository instance
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, classify("get user", err)
	}
	return &user, nil
}

// GetByTelegramID returns the user linked to a Telegram account
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE telegram_id = ?`)
	if err := r.db.GetContext(ctx, &user, query, telegramID); err != nil {
		return nil, classify("get user by telegram id", err)
	}
	return &user, nil
}

// Create inserts a new user. An existing id fails with errs.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := Timestamp(time.Now())
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.NewCardsPerDay == 0 {
		user.NewCardsPerDay = 10
	}
	query := r.db.Rebind(`INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Nickname,
		user.TelegramID,
		user.ShowOnLeaderboard,
		user.NewCardsPerDay,
		Timestamp(user.CreatedAt),
		user.UpdatedAt,
	)
	return classify("create user", err)
}

// GetOrCreateByTelegramID returns the user linked to telegramID, creating
// it with newID and the given nickname on first contact.
func (r *UserRepository) GetOrCreateByTelegramID(ctx context.Context, telegramID int64, newID, nickname string) (*models.User, error) {
	user, err := r.GetByTelegramID(ctx, telegramID)
	if err == nil {
		return user, nil
	}
	if !errs.IsNotFound(err) {
		return nil, err
	}
	user = &models.User{
		ID:                newID,
		Nickname:          nickname,
		TelegramID:        &telegramID,
		ShowOnLeaderboard: true,
	}
	if err := r.Create(ctx, user); err != nil {
		if errs.IsConflict(err) {
			return r.GetByTelegramID(ctx, telegramID)
		}
		return nil, err
	}
	return user, nil
}

// SetLeaderboardVisibility opts a user in or out of public leaderboards
func (r *UserRepository) SetLeaderboardVisibility(ctx context.Context, id string, show bool) error {
	query := r.db.Rebind(`UPDATE users SET show_on_leaderboard = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, show, Timestamp(time.Now()), id)
	if err != nil {
		return classify("set leaderboard visibility", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetNickname changes the name shown on leaderboards
func (r *UserRepository) SetNickname(ctx context.Context, id, nickname string) error {
	query := r.db.Rebind(`UPDATE users SET nickname = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, nickname, Timestamp(time.Now()), id)
	if err != nil {
		return classify("set nickname", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListWithTelegram returns users reachable through the bot
func (r *UserRepository) ListWithTelegram(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE telegram_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, classify("list telegram users", err)
	}
	return users, nil
}
