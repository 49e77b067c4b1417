// Package ranking derives leaderboards from user rollups. It never reads
// cards and does no I/O.
package ranking

import (
	"fmt"
	"sort"
	"time"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/pkg/models"
)

// SnapshotSize is how many entries a weekly snapshot keeps on top.
const SnapshotSize = 20

// MasteryLevel labels a mastery rate.
func MasteryLevel(rate float64) string {
	switch {
	case rate < 0.2:
		return "beginner"
	case rate < 0.5:
		return "elementary"
	case rate < 0.8:
		return "intermediate"
	}
	return "advanced"
}

// value returns the metric a rollup is ordered by. Weekly points of any
// week but weekStart count as 0.
func value(r *models.UserRollup, metric models.Metric, weekStart time.Time) float64 {
	switch metric {
	case models.MetricTotalPoints:
		return float64(r.TotalPoints)
	case models.MetricMasteryRate:
		return r.MasteryRate
	}
	return float64(r.WeeklyPointsFor(weekStart))
}

// eligible reports whether a rollup takes part in a metric's ranking.
// Users without cards have no mastery rate.
func eligible(r *models.UserRollup, metric models.Metric) bool {
	return metric != models.MetricMasteryRate || r.TotalCards > 0
}

// Sort orders rollups by metric descending, then total points descending,
// then user id ascending. The order is total, so equal input gives equal
// output. Ineligible rollups are dropped; the input is not modified.
func Sort(rollups []models.UserRollup, metric models.Metric, weekStart time.Time) []models.UserRollup {
	out := make([]models.UserRollup, 0, len(rollups))
	for i := range rollups {
		if eligible(&rollups[i], metric) {
			out = append(out, rollups[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if va, vb := value(a, metric, weekStart), value(b, metric, weekStart); va != vb {
			return va > vb
		}
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		return a.UserID < b.UserID
	})
	return out
}

// TopN returns the first n visible users by metric, ranked from 1.
func TopN(rollups []models.UserRollup, metric models.Metric, n int, weekStart time.Time) []models.RankingEntry {
	if n <= 0 {
		return []models.RankingEntry{}
	}
	sorted := Sort(visible(rollups, ""), metric, weekStart)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	entries := make([]models.RankingEntry, 0, len(sorted))
	for i := range sorted {
		entries = append(entries, Entry(&sorted[i], i+1, weekStart))
	}
	return entries
}

// RankOf returns the standing of userID among the visible users, with the
// user counted even if hidden from public leaderboards. It fails with
// errs.ErrNotFound when the user has no rollup. Rank is 0 when the user is
// not ranked by the metric, i.e. has no cards in a mastery ranking.
func RankOf(rollups []models.UserRollup, metric models.Metric, userID string, weekStart time.Time) (models.RankingEntry, error) {
	pool := visible(rollups, userID)
	var self *models.UserRollup
	for i := range pool {
		if pool[i].UserID == userID {
			self = &pool[i]
			break
		}
	}
	if self == nil {
		return models.RankingEntry{}, fmt.Errorf("standing of %s: %w", userID, errs.ErrNotFound)
	}

	sorted := Sort(pool, metric, weekStart)
	for i := range sorted {
		if sorted[i].UserID == userID {
			return Entry(&sorted[i], i+1, weekStart), nil
		}
	}
	return Entry(self, 0, weekStart), nil
}

// Entry converts a rollup into a leaderboard row.
func Entry(r *models.UserRollup, rank int, weekStart time.Time) models.RankingEntry {
	name := r.DisplayName
	if name == "" {
		name = models.DefaultDisplayName(r.UserID)
	}
	return models.RankingEntry{
		UserID:       r.UserID,
		DisplayName:  name,
		WeeklyPoints: r.WeeklyPointsFor(weekStart),
		TotalPoints:  r.TotalPoints,
		MasteryRate:  r.MasteryRate,
		MasteryLevel: MasteryLevel(r.MasteryRate),
		Rank:         rank,
	}
}

// BuildSnapshot ranks every visible user by weekly points for the week
// starting at weekStart. The snapshot holds the top entries; all holds
// every participant's rank.
func BuildSnapshot(rollups []models.UserRollup, weekID string, weekStart, takenAt time.Time, top int) (snap *models.RankingSnapshot, all []models.RankingEntry) {
	if top <= 0 {
		top = SnapshotSize
	}
	sorted := Sort(visible(rollups, ""), models.MetricWeeklyPoints, weekStart)
	all = make([]models.RankingEntry, 0, len(sorted))
	for i := range sorted {
		all = append(all, Entry(&sorted[i], i+1, weekStart))
	}
	head := all
	if len(head) > top {
		head = head[:top]
	}
	snap = &models.RankingSnapshot{
		WeekID:            weekID,
		WeekStart:         weekStart,
		WeekEnd:           weekStart.AddDate(0, 0, 7),
		TotalParticipants: len(all),
		TakenAt:           takenAt,
		Rankings:          append([]models.RankingEntry(nil), head...),
	}
	return snap, all
}

// visible keeps rollups shown on leaderboards plus the one of keep.
func visible(rollups []models.UserRollup, keep string) []models.UserRollup {
	out := make([]models.UserRollup, 0, len(rollups))
	for _, r := range rollups {
		if r.ShowOnLeaderboard || (keep != "" && r.UserID == keep) {
			out = append(out, r)
		}
	}
	return out
}
