package models

import (
	"fmt"
	"time"
)

// Metric is a leaderboard ordering key
type Metric string

const (
	MetricWeeklyPoints Metric = "weekly_points"
	MetricTotalPoints  Metric = "total_points"
	MetricMasteryRate  Metric = "mastery_rate"
)

// ParseMetric validates a metric name, defaulting to weekly points
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "":
		return MetricWeeklyPoints, nil
	case MetricWeeklyPoints, MetricTotalPoints, MetricMasteryRate:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown ranking metric %q", s)
}

// RankingEntry is one row of a derived leaderboard
type RankingEntry struct {
	UserID       string  `json:"user_id" db:"user_id"`
	DisplayName  string  `json:"display_name" db:"display_name"`
	WeeklyPoints int     `json:"weekly_points" db:"weekly_points"`
	TotalPoints  int     `json:"total_points" db:"total_points"`
	MasteryRate  float64 `json:"mastery_rate" db:"mastery_rate"`
	MasteryLevel string  `json:"mastery_level" db:"mastery_level"`
	Rank         int     `json:"rank" db:"rank"`
}

// RankingSnapshot is a saved weekly leaderboard. It is stale by definition.
type RankingSnapshot struct {
	WeekID            string         `json:"week_id" db:"week_id"`
	WeekStart         time.Time      `json:"week_start" db:"week_start"`
	WeekEnd           time.Time      `json:"week_end" db:"week_end"`
	TotalParticipants int            `json:"total_participants" db:"total_participants"`
	TakenAt           time.Time      `json:"taken_at" db:"taken_at"`
	Rankings          []RankingEntry `json:"rankings" db:"-"`
}
