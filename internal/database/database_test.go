package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/pkg/models"
)

var (
	testNow  = time.Date(2024, 3, 13, 10, 30, 0, 0, time.UTC)
	thisWeek = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	lastWeek = thisWeek.AddDate(0, 0, -7)
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Connect(context.Background(), "sqlite3", ":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testCard(userID, questionID string, due time.Time) *models.Card {
	c := models.NewCard(userID, questionID, testNow)
	c.DueDate = due
	c.WeekStart = thisWeek
	return c
}

func TestCardRepository_InsertGet(t *testing.T) {
	ctx := context.Background()
	repo := NewCardRepository(newTestDB(t))

	card := testCard("u1", "q1", testNow.Add(24*time.Hour))
	card.Repetitions = 1
	card.IntervalDays = 1
	card.TotalAttempts = 1
	card.CorrectAttempts = 1
	card.Points = 5
	card.WeekPoints = 5
	studied := testNow
	card.LastStudied = &studied
	card.History = card.History.Append(models.HistoryEntry{Timestamp: testNow, Quality: 3, ReviewID: "r1"})
	require.NoError(t, repo.Insert(ctx, card))
	assert.Equal(t, int64(1), card.Version)

	got, err := repo.Get(ctx, "u1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Repetitions)
	assert.Equal(t, 2.5, got.EaseFactor)
	assert.True(t, got.DueDate.Equal(card.DueDate))
	require.NotNil(t, got.LastStudied)
	assert.True(t, got.LastStudied.Equal(testNow))
	require.Len(t, got.History, 1)
	assert.True(t, got.History.Contains("r1"))
	assert.Equal(t, 5, got.WeekPoints)
	assert.True(t, got.WeekStart.Equal(thisWeek))
	assert.Equal(t, int64(1), got.Version)

	_, err = repo.Get(ctx, "u1", "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCardRepository_InsertTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewCardRepository(newTestDB(t))

	require.NoError(t, repo.Insert(ctx, testCard("u1", "q1", testNow)))
	err := repo.Insert(ctx, testCard("u1", "q1", testNow))
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestCardRepository_UpdateVersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := NewCardRepository(newTestDB(t))

	card := testCard("u1", "q1", testNow)
	require.NoError(t, repo.Insert(ctx, card))

	first, err := repo.Get(ctx, "u1", "q1")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "u1", "q1")
	require.NoError(t, err)

	first.IntervalDays = 1
	require.NoError(t, repo.Update(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	second.IntervalDays = 6
	assert.ErrorIs(t, repo.Update(ctx, second, 1), errs.ErrConflict)

	got, err := repo.Get(ctx, "u1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.IntervalDays)
}

func TestCardRepository_ListDue(t *testing.T) {
	ctx := context.Background()
	repo := NewCardRepository(newTestDB(t))

	for i := 0; i < 8; i++ {
		due := testNow.Add(time.Duration(i-6) * time.Hour)
		require.NoError(t, repo.Insert(ctx, testCard("u1", fmt.Sprintf("q%d", 7-i), due)))
	}
	require.NoError(t, repo.Insert(ctx, testCard("u2", "q1", testNow.Add(-48*time.Hour))))

	cards, err := repo.ListDue(ctx, "u1", testNow, 5)
	require.NoError(t, err)
	require.Len(t, cards, 5)
	for i, c := range cards {
		assert.Equal(t, "u1", c.UserID)
		assert.False(t, c.DueDate.After(testNow))
		if i > 0 {
			assert.False(t, c.DueDate.Before(cards[i-1].DueDate))
		}
	}
	assert.Equal(t, "q7", cards[0].QuestionID)

	n, err := repo.CountDue(ctx, "u1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestCardRepository_RejectsInvalidStoredCard(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewCardRepository(db)

	card := testCard("u1", "q1", testNow)
	require.NoError(t, repo.Insert(ctx, card))
	_, err := db.Exec(`UPDATE user_cards SET ease_factor = 1.1 WHERE user_id = 'u1'`)
	require.NoError(t, err)

	_, err = repo.Get(ctx, "u1", "q1")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = repo.ListByUser(ctx, "u1")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCardRepository_ListUserIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewCardRepository(newTestDB(t))
	for _, u := range []string{"c", "a", "b"} {
		require.NoError(t, repo.Insert(ctx, testCard(u, "q1", testNow)))
		require.NoError(t, repo.Insert(ctx, testCard(u, "q2", testNow)))
	}

	ids, err := repo.ListUserIDs(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = repo.ListUserIDs(ctx, "b", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)
}

func TestStatisticsRepository_GetJoinsProfile(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	stats := NewStatisticsRepository(db)
	users := NewUserRepository(db)

	require.NoError(t, users.Create(ctx, &models.User{ID: "u1", Nickname: "molar", ShowOnLeaderboard: true}))
	require.NoError(t, stats.Insert(ctx, &models.UserRollup{UserID: "u1", TotalPoints: 10, WeekStart: thisWeek, LastUpdated: testNow}))
	require.NoError(t, stats.Insert(ctx, &models.UserRollup{UserID: "anonymous-user", WeekStart: thisWeek, LastUpdated: testNow}))

	got, err := stats.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "molar", got.DisplayName)
	assert.True(t, got.ShowOnLeaderboard)
	assert.Equal(t, 10, got.TotalPoints)

	got, err = stats.Get(ctx, "anonymous-user")
	require.NoError(t, err)
	assert.Equal(t, "learner-anonymou", got.DisplayName)
	assert.True(t, got.ShowOnLeaderboard)

	_, err = stats.Get(ctx, "nobody")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStatisticsRepository_UpdateVersionCheck(t *testing.T) {
	ctx := context.Background()
	stats := NewStatisticsRepository(newTestDB(t))

	r := &models.UserRollup{UserID: "u1", WeekStart: thisWeek, LastUpdated: testNow}
	require.NoError(t, stats.Insert(ctx, r))
	assert.ErrorIs(t, stats.Insert(ctx, &models.UserRollup{UserID: "u1", WeekStart: thisWeek, LastUpdated: testNow}), errs.ErrConflict)

	r.TotalPoints = 5
	require.NoError(t, stats.Update(ctx, r, 1))
	assert.Equal(t, int64(2), r.Version)
	assert.ErrorIs(t, stats.Update(ctx, r, 1), errs.ErrConflict)
}

func TestStatisticsRepository_PutChunkSkipsNewerRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	stats := NewStatisticsRepository(db)
	checkpoints := NewCheckpointRepository(db)

	fresh := &models.UserRollup{UserID: "b", TotalPoints: 50, WeekStart: thisWeek, LastUpdated: testNow.Add(time.Minute)}
	require.NoError(t, stats.Insert(ctx, fresh))

	chunk := []models.UserRollup{
		{UserID: "a", TotalCards: 2, MasteredCards: 1, MasteryRate: 0.5, TotalPoints: 10, WeekStart: thisWeek, LastUpdated: testNow},
		{UserID: "b", TotalPoints: 40, WeekStart: thisWeek, LastUpdated: testNow},
	}
	written, err := stats.PutChunk(ctx, chunk, &Checkpoint{Job: "recompute", Cursor: "b", Chunk: 0, UpdatedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	a, err := stats.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, a.TotalPoints)
	assert.Equal(t, 0.5, a.MasteryRate)

	b, err := stats.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 50, b.TotalPoints, "a recompute older than the stored rollup must not overwrite it")

	cp, err := checkpoints.Get(ctx, "recompute")
	require.NoError(t, err)
	assert.Equal(t, "b", cp.Cursor)

	require.NoError(t, checkpoints.Clear(ctx, "recompute"))
	cp, err = checkpoints.Get(ctx, "recompute")
	require.NoError(t, err)
	assert.Empty(t, cp.Cursor)
}

func TestStatisticsRepository_ResetWeeklyChunkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stats := NewStatisticsRepository(newTestDB(t))

	require.NoError(t, stats.Insert(ctx, &models.UserRollup{UserID: "old", WeeklyPoints: 30, TotalPoints: 30, WeekStart: lastWeek, LastUpdated: testNow}))
	require.NoError(t, stats.Insert(ctx, &models.UserRollup{UserID: "new", WeeklyPoints: 15, TotalPoints: 45, WeekStart: thisWeek, LastUpdated: testNow}))

	cp := &Checkpoint{Job: "reset-weekly", Cursor: "old", UpdatedAt: testNow}
	n, err := stats.ResetWeeklyChunk(ctx, []string{"new", "old"}, thisWeek, cp)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = stats.ResetWeeklyChunk(ctx, []string{"new", "old"}, thisWeek, cp)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	old, err := stats.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, 0, old.WeeklyPoints)
	assert.Equal(t, 30, old.TotalPoints)
	assert.True(t, old.WeekStart.Equal(thisWeek))

	current, err := stats.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 15, current.WeeklyPoints)
}

func TestStatisticsRepository_TopBy(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	stats := NewStatisticsRepository(db)
	users := NewUserRepository(db)

	rollups := []models.UserRollup{
		{UserID: "a", TotalCards: 4, MasteredCards: 2, TotalPoints: 100, WeeklyPoints: 10, WeekStart: thisWeek},
		{UserID: "b", TotalCards: 2, MasteredCards: 2, TotalPoints: 80, WeeklyPoints: 20, WeekStart: thisWeek},
		{UserID: "c", TotalCards: 0, MasteredCards: 0, TotalPoints: 100, WeeklyPoints: 99, WeekStart: lastWeek},
		{UserID: "d", TotalCards: 1, MasteredCards: 1, TotalPoints: 500, WeeklyPoints: 50, WeekStart: thisWeek},
	}
	for i := range rollups {
		rollups[i].ComputeMasteryRate()
		rollups[i].LastUpdated = testNow
		require.NoError(t, stats.Insert(ctx, &rollups[i]))
	}
	require.NoError(t, users.Create(ctx, &models.User{ID: "d", ShowOnLeaderboard: false}))

	ids := func(rs []models.UserRollup) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.UserID)
		}
		return out
	}

	top, err := stats.TopBy(ctx, models.MetricWeeklyPoints, thisWeek, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(top))

	top, err = stats.TopBy(ctx, models.MetricTotalPoints, thisWeek, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, ids(top))

	top, err = stats.TopBy(ctx, models.MetricMasteryRate, thisWeek, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(top))

	top, err = stats.TopBy(ctx, models.MetricTotalPoints, thisWeek, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(top))

	all, err := stats.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestUserRepository_TelegramLifecycle(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository(newTestDB(t))

	u, err := users.GetOrCreateByTelegramID(ctx, 4242, "id-1", "incisor")
	require.NoError(t, err)
	assert.Equal(t, "id-1", u.ID)
	assert.True(t, u.ShowOnLeaderboard)

	again, err := users.GetOrCreateByTelegramID(ctx, 4242, "id-2", "other")
	require.NoError(t, err)
	assert.Equal(t, "id-1", again.ID)

	require.NoError(t, users.SetLeaderboardVisibility(ctx, "id-1", false))
	got, err := users.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, got.ShowOnLeaderboard)
	assert.ErrorIs(t, users.SetLeaderboardVisibility(ctx, "ghost", true), errs.ErrNotFound)

	list, err := users.ListWithTelegram(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].TelegramID)
	assert.Equal(t, int64(4242), *list[0].TelegramID)
}

func TestQuestionRepository_ImportAndUnseen(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	questions := NewQuestionRepository(db)
	cards := NewCardRepository(db)

	qs := []models.Question{
		{ID: "q1", Subject: "endodontics", Body: "Working length?", CreatedAt: testNow, UpdatedAt: testNow},
		{ID: "q2", Subject: "endodontics", Body: "Irrigant?", CreatedAt: testNow, UpdatedAt: testNow},
		{ID: "q3", Subject: "periodontics", Body: "Probing depth?", CreatedAt: testNow, UpdatedAt: testNow},
	}
	require.NoError(t, questions.PutChunk(ctx, qs, &Checkpoint{Job: "import", Cursor: "q3", UpdatedAt: testNow}))
	qs[0].Answer = "apex minus 1mm"
	require.NoError(t, questions.PutChunk(ctx, qs[:1], &Checkpoint{Job: "import", Cursor: "q1", UpdatedAt: testNow}))

	n, err := questions.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	q, err := questions.GetByID(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "apex minus 1mm", q.Answer)

	endo, err := questions.GetBySubject(ctx, "endodontics")
	require.NoError(t, err)
	assert.Len(t, endo, 2)

	require.NoError(t, cards.Insert(ctx, testCard("u1", "q1", testNow)))
	unseen, err := questions.ListUnseen(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, unseen, 2)
	assert.Equal(t, "q2", unseen[0].ID)
}

func TestRankingRepository_Snapshot(t *testing.T) {
	ctx := context.Background()
	rankings := NewRankingRepository(newTestDB(t))

	for i, week := range []time.Time{lastWeek, thisWeek} {
		snap := &models.RankingSnapshot{
			WeekID:            fmt.Sprintf("2024-W%02d", 10+i),
			WeekStart:         week,
			WeekEnd:           week.AddDate(0, 0, 7),
			TotalParticipants: 3,
			TakenAt:           testNow,
		}
		require.NoError(t, rankings.PutHeader(ctx, snap))
		entries := []models.RankingEntry{
			{UserID: "a", DisplayName: "A", WeeklyPoints: 30, Rank: 1, MasteryLevel: "beginner"},
			{UserID: "b", DisplayName: "B", WeeklyPoints: 20, Rank: 2, MasteryLevel: "advanced"},
			{UserID: "c", DisplayName: "C", WeeklyPoints: 10, Rank: 3},
		}
		require.NoError(t, rankings.PutEntries(ctx, snap.WeekID, entries, &Checkpoint{Job: "snapshot", Cursor: "c", UpdatedAt: testNow}))
	}

	latest, err := rankings.Latest(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "2024-W11", latest.WeekID)
	assert.Equal(t, 3, latest.TotalParticipants)
	require.Len(t, latest.Rankings, 2)
	assert.Equal(t, "a", latest.Rankings[0].UserID)

	e, err := rankings.GetUserRank(ctx, "2024-W10", "c")
	require.NoError(t, err)
	assert.Equal(t, 3, e.Rank)

	_, err = rankings.Get(ctx, "1999-W01", 20)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
