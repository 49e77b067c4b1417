package study

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/batch"
	"github.com/example/dentalsrs/internal/database"
	"github.com/example/dentalsrs/internal/metrics"
	"github.com/example/dentalsrs/internal/ranking"
	"github.com/example/dentalsrs/internal/retry"
	"github.com/example/dentalsrs/internal/statistics"
	"github.com/example/dentalsrs/pkg/models"
)

// JobSnapshot prefixes the per-week snapshot job.
const JobSnapshot = "snapshot"

// SnapshotStore persists weekly leaderboards.
type SnapshotStore interface {
	PutHeader(ctx context.Context, snap *models.RankingSnapshot) error
	PutEntries(ctx context.Context, weekID string, entries []models.RankingEntry, cp *database.Checkpoint) error
	Get(ctx context.Context, weekID string, top int) (*models.RankingSnapshot, error)
	Latest(ctx context.Context, top int) (*models.RankingSnapshot, error)
}

// Snapshotter saves the weekly leaderboard. Saved snapshots are read
// back as they were taken and never refreshed.
type Snapshotter struct {
	Rollups     RollupReader
	Store       SnapshotStore
	Checkpoints statistics.CheckpointStore
	Policy      retry.Policy
	BatchSize   int
	Top         int
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Take ranks every visible user by the weekly points of the week starting
// at weekStart and saves the top entries and every participant's rank.
func (s *Snapshotter) Take(ctx context.Context, weekStart, now time.Time) (*models.RankingSnapshot, error) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timer := time.Now()
	defer func() { s.Metrics.ObserveJob(JobSnapshot, time.Since(timer).Seconds()) }()

	weekStart = statistics.WeekStart(weekStart)
	weekID := statistics.WeekID(weekStart)
	job := JobSnapshot + "/" + weekID

	rollups, err := retry.Do(ctx, s.Policy, "list rollups", func(ctx context.Context) ([]models.UserRollup, error) {
		return s.Rollups.ListAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	snap, all := ranking.BuildSnapshot(rollups, weekID, weekStart, now, s.Top)

	if err := retry.Exec(ctx, s.Policy, "put snapshot header", func(ctx context.Context) error {
		return s.Store.PutHeader(ctx, snap)
	}); err != nil {
		return nil, err
	}

	cp, err := retry.Do(ctx, s.Policy, "get checkpoint", func(ctx context.Context) (*database.Checkpoint, error) {
		return s.Checkpoints.Get(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	chunkIdx := cp.Chunk
	w := &batch.Writer[models.RankingEntry]{
		Job:    job,
		Size:   s.BatchSize,
		Key:    func(e models.RankingEntry) string { return e.UserID },
		Policy: s.Policy,
		Logger: log,
	}
	_, err = w.Write(ctx, all, cp.Cursor, func(ctx context.Context, chunk []models.RankingEntry, cursor string) error {
		err := s.Store.PutEntries(ctx, weekID, chunk, &database.Checkpoint{
			Job:       job,
			Cursor:    cursor,
			Chunk:     chunkIdx + 1,
			UpdatedAt: now,
		})
		s.Metrics.Chunk(JobSnapshot, err == nil)
		if err == nil {
			chunkIdx++
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.Checkpoints.Clear(ctx, job); err != nil {
		log.Warn("failed to clear snapshot checkpoint", zap.String("job", job), zap.Error(err))
	}
	log.Info("weekly ranking saved",
		zap.String("week", weekID),
		zap.Int("participants", snap.TotalParticipants))
	return snap, nil
}

// Get returns a saved snapshot; an empty weekID means the latest one.
func (s *Snapshotter) Get(ctx context.Context, weekID string) (*models.RankingSnapshot, error) {
	top := s.Top
	if top <= 0 {
		top = ranking.SnapshotSize
	}
	return retry.Do(ctx, s.Policy, "get snapshot", func(ctx context.Context) (*models.RankingSnapshot, error) {
		if weekID == "" {
			return s.Store.Latest(ctx, top)
		}
		return s.Store.Get(ctx, weekID, top)
	})
}
