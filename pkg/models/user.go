package models

import (
	"fmt"
	"time"
)

// User is a learner profile
type User struct {
	ID                string    `json:"id" db:"id"`
	Nickname          string    `json:"nickname" db:"nickname"`
	TelegramID        *int64    `json:"telegram_id" db:"telegram_id"`
	ShowOnLeaderboard bool      `json:"show_on_leaderboard" db:"show_on_leaderboard"`
	NewCardsPerDay    int       `json:"new_cards_per_day" db:"new_cards_per_day"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName falls back to a generated name when no nickname is set
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return DefaultDisplayName(u.ID)
}

// DefaultDisplayName is the name shown for users without a nickname
func DefaultDisplayName(userID string) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("learner-%s", short)
}
