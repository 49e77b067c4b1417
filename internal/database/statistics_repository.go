package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/pkg/models"
)

const rollupSelect = `
	SELECT s.user_id, s.total_cards, s.mastered_cards, s.total_points, s.weekly_points,
		s.week_start, s.mastery_rate, s.last_updated, s.last_review_id, s.version,
		COALESCE(u.nickname, '') AS display_name,
		COALESCE(u.show_on_leaderboard, TRUE) AS show_on_leaderboard
	FROM user_stats s
	LEFT JOIN users u ON u.id = s.user_id`

// StatisticsRepository handles database operations for user rollups
type StatisticsRepository struct {
	db *DB
}

// NewStatisticsRepository creates a new repository instance
func NewStatisticsRepository(db *DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// Get returns the rollup of a user, or errs.ErrNotFound.
func (r *StatisticsRepository) Get(ctx context.Context, userID string) (*models.UserRollup, error) {
	var rollup models.UserRollup
	query := r.db.Rebind(rollupSelect + ` WHERE s.user_id = ?`)
	if err := r.db.GetContext(ctx, &rollup, query, userID); err != nil {
		return nil, classify("get rollup", err)
	}
	fillDisplayName(&rollup)
	return &rollup, nil
}

// Insert creates the first rollup of a user, failing with errs.ErrConflict
// if one already exists.
func (r *StatisticsRepository) Insert(ctx context.Context, rollup *models.UserRollup) error {
	normalizeRollup(rollup)
	query := r.db.Rebind(`
		INSERT INTO user_stats (user_id, total_cards, mastered_cards, total_points, weekly_points,
			week_start, mastery_rate, last_updated, last_review_id, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`)
	_, err := r.db.ExecContext(ctx, query,
		rollup.UserID,
		rollup.TotalCards,
		rollup.MasteredCards,
		rollup.TotalPoints,
		rollup.WeeklyPoints,
		rollup.WeekStart,
		rollup.MasteryRate,
		rollup.LastUpdated,
		rollup.LastReviewID,
	)
	if err != nil {
		return classify("insert rollup", err)
	}
	rollup.Version = 1
	return nil
}

// Update writes rollup if the stored version equals expected.
func (r *StatisticsRepository) Update(ctx context.Context, rollup *models.UserRollup, expected int64) error {
	normalizeRollup(rollup)
	query := r.db.Rebind(`
		UPDATE user_stats SET
			total_cards = ?,
			mastered_cards = ?,
			total_points = ?,
			weekly_points = ?,
			week_start = ?,
			mastery_rate = ?,
			last_updated = ?,
			last_review_id = ?,
			version = version + 1
		WHERE user_id = ? AND version = ?`)
	res, err := r.db.ExecContext(ctx, query,
		rollup.TotalCards,
		rollup.MasteredCards,
		rollup.TotalPoints,
		rollup.WeeklyPoints,
		rollup.WeekStart,
		rollup.MasteryRate,
		rollup.LastUpdated,
		rollup.LastReviewID,
		rollup.UserID,
		expected,
	)
	if err != nil {
		return classify("update rollup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update rollup", err)
	}
	if n == 0 {
		return errs.ErrConflict
	}
	rollup.Version = expected + 1
	return nil
}

// PutChunk upserts recomputed rollups and the job checkpoint in one
// transaction. A stored rollup whose last_updated is newer than the
// recomputed one is left alone. It returns how many rows were written.
func (r *StatisticsRepository) PutChunk(ctx context.Context, rollups []models.UserRollup, cp *Checkpoint) (int, error) {
	written := 0
	err := r.db.inTx(ctx, "put rollup chunk", func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO user_stats (user_id, total_cards, mastered_cards, total_points, weekly_points,
				week_start, mastery_rate, last_updated, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT (user_id) DO UPDATE SET
				total_cards = excluded.total_cards,
				mastered_cards = excluded.mastered_cards,
				total_points = excluded.total_points,
				weekly_points = excluded.weekly_points,
				week_start = excluded.week_start,
				mastery_rate = excluded.mastery_rate,
				last_updated = excluded.last_updated,
				version = user_stats.version + 1
			WHERE user_stats.last_updated <= excluded.last_updated`)
		for i := range rollups {
			rollup := &rollups[i]
			normalizeRollup(rollup)
			res, err := tx.ExecContext(ctx, query,
				rollup.UserID,
				rollup.TotalCards,
				rollup.MasteredCards,
				rollup.TotalPoints,
				rollup.WeeklyPoints,
				rollup.WeekStart,
				rollup.MasteryRate,
				rollup.LastUpdated,
			)
			if err != nil {
				return classify(fmt.Sprintf("put rollup %s", rollup.UserID), err)
			}
			if n, err := res.RowsAffected(); err == nil {
				written += int(n)
			}
		}
		return putCheckpoint(ctx, tx, cp)
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ResetWeeklyChunk zeroes the weekly points of the given users whose
// points belong to a week before weekStart, and saves the checkpoint in
// the same transaction. Rows already in weekStart's week are untouched.
func (r *StatisticsRepository) ResetWeeklyChunk(ctx context.Context, userIDs []string, weekStart time.Time, cp *Checkpoint) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	weekStart = Timestamp(weekStart)
	reset := 0
	err := r.db.inTx(ctx, "reset weekly chunk", func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`
			UPDATE user_stats SET weekly_points = 0, week_start = ?, version = version + 1
			WHERE week_start < ? AND user_id IN (?)`, weekStart, weekStart, userIDs)
		if err != nil {
			return fmt.Errorf("failed to build reset query: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return classify("reset weekly points", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			reset = int(n)
		}
		return putCheckpoint(ctx, tx, cp)
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// ListUserIDs pages through rollup owners in ascending id order.
func (r *StatisticsRepository) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	query := r.db.Rebind(`SELECT user_id FROM user_stats WHERE user_id > ? ORDER BY user_id LIMIT ?`)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, after, limit); err != nil {
		return nil, classify("list rollup owners", err)
	}
	return ids, nil
}

// ListAll returns every rollup with its display settings.
func (r *StatisticsRepository) ListAll(ctx context.Context) ([]models.UserRollup, error) {
	var rollups []models.UserRollup
	if err := r.db.SelectContext(ctx, &rollups, rollupSelect+` ORDER BY s.user_id`); err != nil {
		return nil, classify("list rollups", err)
	}
	for i := range rollups {
		fillDisplayName(&rollups[i])
	}
	return rollups, nil
}

// TopBy returns up to limit visible rollups ordered by metric descending,
// then total points descending, then user id. Weekly points of a week
// other than weekStart order as 0, and users without cards are left out
// of the mastery ordering.
func (r *StatisticsRepository) TopBy(ctx context.Context, metric models.Metric, weekStart time.Time, limit int) ([]models.UserRollup, error) {
	where := `WHERE COALESCE(u.show_on_leaderboard, TRUE)`
	var order string
	var args []interface{}
	switch metric {
	case models.MetricWeeklyPoints:
		order = `CASE WHEN s.week_start = ? THEN s.weekly_points ELSE 0 END DESC`
		args = append(args, Timestamp(weekStart))
	case models.MetricTotalPoints:
		order = `s.total_points DESC`
	case models.MetricMasteryRate:
		where += ` AND s.total_cards > 0`
		order = `s.mastery_rate DESC`
	default:
		return nil, errs.InvalidInput("unknown ranking metric %q", metric)
	}
	args = append(args, limit)
	query := r.db.Rebind(rollupSelect + ` ` + where + ` ORDER BY ` + order + `, s.total_points DESC, s.user_id ASC LIMIT ?`)

	var rollups []models.UserRollup
	if err := r.db.SelectContext(ctx, &rollups, query, args...); err != nil {
		return nil, classify("query top rollups", err)
	}
	for i := range rollups {
		fillDisplayName(&rollups[i])
	}
	return rollups, nil
}

func fillDisplayName(r *models.UserRollup) {
	if r.DisplayName == "" {
		r.DisplayName = models.DefaultDisplayName(r.UserID)
	}
}

func normalizeRollup(r *models.UserRollup) {
	r.WeekStart = Timestamp(r.WeekStart)
	r.LastUpdated = Timestamp(r.LastUpdated)
}
