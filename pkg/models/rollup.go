package models

import "time"

// UserRollup is the precomputed per-user aggregate read by leaderboards
type UserRollup struct {
	UserID        string    `json:"user_id" db:"user_id"`
	TotalCards    int       `json:"total_cards" db:"total_cards"`
	MasteredCards int       `json:"mastered_cards" db:"mastered_cards"`
	TotalPoints   int       `json:"total_points" db:"total_points"`
	WeeklyPoints  int       `json:"weekly_points" db:"weekly_points"`
	WeekStart     time.Time `json:"week_start" db:"week_start"`
	MasteryRate   float64   `json:"mastery_rate" db:"mastery_rate"`
	LastUpdated   time.Time `json:"last_updated" db:"last_updated"`
	Version       int64     `json:"version" db:"version"`
	// Review whose delta was folded in last
	LastReviewID string `json:"last_review_id,omitempty" db:"last_review_id"`

	// Joined from users on read
	DisplayName       string `json:"display_name" db:"display_name"`
	ShowOnLeaderboard bool   `json:"show_on_leaderboard" db:"show_on_leaderboard"`
}

// ComputeMasteryRate refreshes MasteryRate from the card counts
func (r *UserRollup) ComputeMasteryRate() {
	if r.TotalCards == 0 {
		r.MasteryRate = 0
		return
	}
	r.MasteryRate = float64(r.MasteredCards) / float64(r.TotalCards)
}

// WeeklyPointsFor returns the weekly points if they belong to weekStart, 0 otherwise
func (r *UserRollup) WeeklyPointsFor(weekStart time.Time) int {
	if !r.WeekStart.Equal(weekStart) {
		return 0
	}
	return r.WeeklyPoints
}
