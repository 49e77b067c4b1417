package ranking

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/pkg/models"
)

var (
	week     = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	lastWeek = week.AddDate(0, 0, -7)
)

func rollup(id string, cards, mastered, total, weekly int) models.UserRollup {
	r := models.UserRollup{
		UserID:            id,
		TotalCards:        cards,
		MasteredCards:     mastered,
		TotalPoints:       total,
		WeeklyPoints:      weekly,
		WeekStart:         week,
		ShowOnLeaderboard: true,
	}
	r.ComputeMasteryRate()
	return r
}

func ids(entries []models.RankingEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.UserID)
	}
	return out
}

func TestTopN_TieBreaks(t *testing.T) {
	rollups := []models.UserRollup{
		rollup("user-2", 10, 3, 100, 30),
		rollup("user-1", 10, 3, 100, 50),
	}

	byTotal := TopN(rollups, models.MetricTotalPoints, 10, week)
	assert.Equal(t, []string{"user-1", "user-2"}, ids(byTotal))
	assert.Equal(t, 1, byTotal[0].Rank)
	assert.Equal(t, 2, byTotal[1].Rank)

	byWeekly := TopN(rollups, models.MetricWeeklyPoints, 10, week)
	assert.Equal(t, []string{"user-1", "user-2"}, ids(byWeekly))
	assert.Equal(t, 50, byWeekly[0].WeeklyPoints)

	rollups[0].WeeklyPoints = 60
	byWeekly = TopN(rollups, models.MetricWeeklyPoints, 10, week)
	assert.Equal(t, []string{"user-2", "user-1"}, ids(byWeekly))
}

func TestTopN_IsATotalOrder(t *testing.T) {
	var rollups []models.UserRollup
	for i, id := range []string{"f", "b", "d", "a", "e", "c", "g", "h"} {
		rollups = append(rollups, rollup(id, 4, i%3, 100*(i%2), 10*(i%2)))
	}
	want := TopN(rollups, models.MetricWeeklyPoints, 8, week)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.UserRollup(nil), rollups...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		for _, m := range []models.Metric{models.MetricWeeklyPoints, models.MetricTotalPoints, models.MetricMasteryRate} {
			assert.Equal(t, TopN(rollups, m, 8, week), TopN(shuffled, m, 8, week), "metric %s", m)
		}
	}
	assert.Len(t, want, 8)
}

func TestTopN_StaleWeeklyPointsCountAsZero(t *testing.T) {
	stale := rollup("stale", 3, 0, 10, 90)
	stale.WeekStart = lastWeek
	rollups := []models.UserRollup{stale, rollup("fresh", 3, 0, 5, 5)}

	top := TopN(rollups, models.MetricWeeklyPoints, 10, week)
	assert.Equal(t, []string{"fresh", "stale"}, ids(top))
	assert.Equal(t, 0, top[1].WeeklyPoints)
}

func TestTopN_MasteryExcludesUsersWithoutCards(t *testing.T) {
	rollups := []models.UserRollup{
		rollup("empty", 0, 0, 0, 0),
		rollup("half", 10, 5, 20, 0),
		rollup("third", 9, 3, 50, 0),
	}
	top := TopN(rollups, models.MetricMasteryRate, 10, week)
	assert.Equal(t, []string{"half", "third"}, ids(top))
	assert.Equal(t, "intermediate", top[0].MasteryLevel)
	assert.Equal(t, "elementary", top[1].MasteryLevel)

	points := TopN(rollups, models.MetricTotalPoints, 10, week)
	assert.Equal(t, []string{"third", "half", "empty"}, ids(points))
}

func TestTopN_HidesOptedOutUsers(t *testing.T) {
	hidden := rollup("hidden", 5, 5, 500, 500)
	hidden.ShowOnLeaderboard = false
	rollups := []models.UserRollup{hidden, rollup("a", 5, 1, 10, 10), rollup("b", 5, 1, 5, 5)}

	top := TopN(rollups, models.MetricWeeklyPoints, 1, week)
	assert.Equal(t, []string{"a"}, ids(top))
	assert.Empty(t, TopN(rollups, models.MetricWeeklyPoints, 0, week))

	standing, err := RankOf(rollups, models.MetricWeeklyPoints, "hidden", week)
	require.NoError(t, err)
	assert.Equal(t, 1, standing.Rank)
	assert.Equal(t, 500, standing.WeeklyPoints)

	standing, err = RankOf(rollups, models.MetricWeeklyPoints, "b", week)
	require.NoError(t, err)
	assert.Equal(t, 2, standing.Rank, "hidden users are not counted ahead of others")
}

func TestRankOf(t *testing.T) {
	rollups := []models.UserRollup{
		rollup("a", 10, 9, 300, 40),
		rollup("b", 10, 2, 200, 60),
		rollup("c", 0, 0, 0, 0),
	}

	a, err := RankOf(rollups, models.MetricWeeklyPoints, "a", week)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Rank)
	a, err = RankOf(rollups, models.MetricTotalPoints, "a", week)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Rank)

	c, err := RankOf(rollups, models.MetricMasteryRate, "c", week)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Rank, "no cards, no mastery rank")
	assert.Equal(t, "c", c.UserID)
}

func TestRankOf_UnknownUser(t *testing.T) {
	rollups := []models.UserRollup{rollup("a", 10, 9, 300, 40), rollup("b", 10, 2, 200, 60)}

	for _, metric := range []models.Metric{models.MetricWeeklyPoints, models.MetricTotalPoints, models.MetricMasteryRate} {
		_, err := RankOf(rollups, metric, "ghost", week)
		assert.ErrorIs(t, err, errs.ErrNotFound, metric)
	}
	_, err := RankOf(nil, models.MetricTotalPoints, "ghost", week)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBuildSnapshot(t *testing.T) {
	var rollups []models.UserRollup
	for i := 0; i < 25; i++ {
		rollups = append(rollups, rollup(string(rune('a'+i)), 1, 0, i, i))
	}
	hidden := rollup("zz-hidden", 1, 0, 1000, 1000)
	hidden.ShowOnLeaderboard = false
	rollups = append(rollups, hidden)

	taken := week.Add(7*24*time.Hour - time.Second)
	snap, all := BuildSnapshot(rollups, "2024-W11", week, taken, 0)
	require.Len(t, snap.Rankings, SnapshotSize)
	assert.Len(t, all, 25)
	assert.Equal(t, 25, snap.TotalParticipants)
	assert.Equal(t, "y", snap.Rankings[0].UserID)
	assert.Equal(t, 1, snap.Rankings[0].Rank)
	assert.Equal(t, 25, all[24].Rank)
	assert.True(t, snap.WeekEnd.Equal(week.AddDate(0, 0, 7)))
	assert.True(t, snap.TakenAt.Equal(taken))
}

func TestMasteryLevel(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "beginner"},
		{0.19, "beginner"},
		{0.2, "elementary"},
		{0.5, "intermediate"},
		{0.79, "intermediate"},
		{0.8, "advanced"},
		{1, "advanced"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MasteryLevel(tt.rate), "rate %v", tt.rate)
	}
}
