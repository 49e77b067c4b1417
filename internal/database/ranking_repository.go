package database

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/example/dentalsrs/pkg/models"
)

// RankingRepository stores weekly leaderboard snapshots
type RankingRepository struct {
	db *DB
}

// NewRankingRepository creates a new repository instance
func NewRankingRepository(db *DB) *RankingRepository {
	return &RankingRepository{db: db}
}

// PutHeader saves or replaces the snapshot header of a week.
func (r *RankingRepository) PutHeader(ctx context.Context, snap *models.RankingSnapshot) error {
	query := r.db.Rebind(`
		INSERT INTO weekly_rankings (week_id, week_start, week_end, total_participants, taken_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (week_id) DO UPDATE SET
			week_start = excluded.week_start,
			week_end = excluded.week_end,
			total_participants = excluded.total_participants,
			taken_at = excluded.taken_at`)
	_, err := r.db.ExecContext(ctx, query,
		snap.WeekID,
		Timestamp(snap.WeekStart),
		Timestamp(snap.WeekEnd),
		snap.TotalParticipants,
		Timestamp(snap.TakenAt),
	)
	return classify("put ranking snapshot", err)
}

// PutEntries saves a chunk of per-user ranks of a week with the job checkpoint.
func (r *RankingRepository) PutEntries(ctx context.Context, weekID string, entries []models.RankingEntry, cp *Checkpoint) error {
	return r.db.inTx(ctx, "put ranking entries", func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO user_rankings (week_id, user_id, rank, display_name, weekly_points,
				total_points, mastery_rate, mastery_level)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (week_id, user_id) DO UPDATE SET
				rank = excluded.rank,
				display_name = excluded.display_name,
				weekly_points = excluded.weekly_points,
				total_points = excluded.total_points,
				mastery_rate = excluded.mastery_rate,
				mastery_level = excluded.mastery_level`)
		for _, e := range entries {
			_, err := tx.ExecContext(ctx, query,
				weekID, e.UserID, e.Rank, e.DisplayName, e.WeeklyPoints, e.TotalPoints, e.MasteryRate, e.MasteryLevel)
			if err != nil {
				return classify("put ranking entry "+e.UserID, err)
			}
		}
		return putCheckpoint(ctx, tx, cp)
	})
}

// Get returns the snapshot of a week with its top entries.
func (r *RankingRepository) Get(ctx context.Context, weekID string, top int) (*models.RankingSnapshot, error) {
	var snap models.RankingSnapshot
	query := r.db.Rebind(`
		SELECT week_id, week_start, week_end, total_participants, taken_at
		FROM weekly_rankings WHERE week_id = ?`)
	if err := r.db.GetContext(ctx, &snap, query, weekID); err != nil {
		return nil, classify("get ranking snapshot", err)
	}
	entries, err := r.entries(ctx, weekID, top)
	if err != nil {
		return nil, err
	}
	snap.Rankings = entries
	return &snap, nil
}

// Latest returns the most recent snapshot.
func (r *RankingRepository) Latest(ctx context.Context, top int) (*models.RankingSnapshot, error) {
	var weekID string
	err := r.db.GetContext(ctx, &weekID, `SELECT week_id FROM weekly_rankings ORDER BY week_start DESC LIMIT 1`)
	if err != nil {
		return nil, classify("get latest ranking snapshot", err)
	}
	return r.Get(ctx, weekID, top)
}

// GetUserRank returns a user's saved rank for a week.
func (r *RankingRepository) GetUserRank(ctx context.Context, weekID, userID string) (*models.RankingEntry, error) {
	var e models.RankingEntry
	query := r.db.Rebind(`
		SELECT user_id, display_name, weekly_points, total_points, mastery_rate, mastery_level, rank
		FROM user_rankings WHERE week_id = ? AND user_id = ?`)
	if err := r.db.GetContext(ctx, &e, query, weekID, userID); err != nil {
		return nil, classify("get user rank", err)
	}
	return &e, nil
}

func (r *RankingRepository) entries(ctx context.Context, weekID string, top int) ([]models.RankingEntry, error) {
	var entries []models.RankingEntry
	query := r.db.Rebind(`
		SELECT user_id, display_name, weekly_points, total_points, mastery_rate, mastery_level, rank
		FROM user_rankings WHERE week_id = ? AND rank <= ?
		ORDER BY rank, user_id`)
	if err := r.db.SelectContext(ctx, &entries, query, weekID, top); err != nil {
		return nil, classify("list ranking entries", err)
	}
	return entries, nil
}
