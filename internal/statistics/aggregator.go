// Package statistics maintains the per-user rollups read by leaderboards:
// incrementally on every review and by full recompute in batch jobs.
package statistics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/dentalsrs/internal/batch"
	"github.com/example/dentalsrs/internal/clock"
	"github.com/example/dentalsrs/internal/database"
	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/internal/metrics"
	"github.com/example/dentalsrs/internal/retry"
	"github.com/example/dentalsrs/pkg/models"
)

const (
	// JobRecompute names the full recompute in checkpoints and metrics.
	// Recomputes of an explicit user set checkpoint under JobRecompute/<set id>.
	JobRecompute = "recompute"
	// JobResetWeekly prefixes the per-week reset job.
	JobResetWeekly = "reset-weekly"

	idPageSize = 1000
)

// CardSource lists the cards the rollups are derived from.
type CardSource interface {
	ListByUser(ctx context.Context, userID string) ([]models.Card, error)
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// RollupStore persists rollups.
type RollupStore interface {
	Get(ctx context.Context, userID string) (*models.UserRollup, error)
	Insert(ctx context.Context, rollup *models.UserRollup) error
	Update(ctx context.Context, rollup *models.UserRollup, expected int64) error
	PutChunk(ctx context.Context, rollups []models.UserRollup, cp *database.Checkpoint) (int, error)
	ResetWeeklyChunk(ctx context.Context, userIDs []string, weekStart time.Time, cp *database.Checkpoint) (int, error)
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// CheckpointStore reads and clears batch job progress.
type CheckpointStore interface {
	Get(ctx context.Context, job string) (*database.Checkpoint, error)
	Clear(ctx context.Context, job string) error
}

// Options configures an Aggregator. Zero values take defaults.
type Options struct {
	MasteryThreshold int
	BatchSize        int
	Policy           retry.Policy
	MaxConflicts     int
	// UsersPerSecond throttles card scans in batch jobs; 0 means unlimited.
	UsersPerSecond float64
	Clock          clock.Clock
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Aggregator maintains user rollups.
type Aggregator struct {
	cards       CardSource
	rollups     RollupStore
	checkpoints CheckpointStore

	threshold int
	batchSize int
	policy    retry.Policy
	conflicts int
	limiter   *rate.Limiter
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewAggregator creates an Aggregator.
func NewAggregator(cards CardSource, rollups RollupStore, checkpoints CheckpointStore, opts Options) *Aggregator {
	a := &Aggregator{
		cards:       cards,
		rollups:     rollups,
		checkpoints: checkpoints,
		threshold:   opts.MasteryThreshold,
		batchSize:   opts.BatchSize,
		policy:      opts.Policy,
		conflicts:   opts.MaxConflicts,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		clock:       opts.Clock,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
	if a.threshold <= 0 {
		a.threshold = 7
	}
	if a.batchSize <= 0 || a.batchSize > batch.DefaultSize {
		a.batchSize = batch.DefaultSize
	}
	if a.policy.MaxAttempts == 0 {
		a.policy = retry.DefaultPolicy()
	}
	if a.conflicts <= 0 {
		a.conflicts = 5
	}
	if opts.UsersPerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(opts.UsersPerSecond), 1)
	}
	if a.clock == nil {
		a.clock = clock.System{}
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.policy.Logger == nil {
		a.policy.Logger = a.log
	}
	if a.policy.OnRetry == nil && a.metrics != nil {
		a.policy.OnRetry = a.metrics.Retry
	}
	return a
}

// ComputeUser derives a user's rollup from all of the user's cards. It
// writes nothing.
func (a *Aggregator) ComputeUser(ctx context.Context, userID string) (*models.UserRollup, error) {
	return a.compute(ctx, userID, a.clock.Now())
}

func (a *Aggregator) compute(ctx context.Context, userID string, now time.Time) (*models.UserRollup, error) {
	cards, err := retry.Do(ctx, a.policy, "list user cards", func(ctx context.Context) ([]models.Card, error) {
		return a.cards.ListByUser(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cards of %s: %w", userID, err)
	}
	week := WeekStart(now)
	r := &models.UserRollup{
		UserID:      userID,
		TotalCards:  len(cards),
		WeekStart:   week,
		LastUpdated: now,
	}
	for i := range cards {
		c := &cards[i]
		if c.IsMastered(a.threshold) {
			r.MasteredCards++
		}
		r.TotalPoints += c.Points
		if c.WeekStart.Equal(week) {
			r.WeeklyPoints += c.WeekPoints
		}
	}
	r.ComputeMasteryRate()
	return r, nil
}

// RecomputeUser rebuilds and stores one user's rollup. The write is
// skipped if the stored rollup was updated after the scan started.
func (a *Aggregator) RecomputeUser(ctx context.Context, userID string) (*models.UserRollup, error) {
	r, err := a.ComputeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	err = retry.Exec(ctx, a.policy, "put rollup", func(ctx context.Context) error {
		_, err := a.rollups.PutChunk(ctx, []models.UserRollup{*r}, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store rollup of %s: %w", userID, err)
	}
	return r, nil
}

// ApplyIncrementalUpdate folds one review's delta into the stored rollup
// with an optimistic version check, re-reading on conflict. Weekly points
// start over when the delta belongs to a later week than the rollup. A
// delta whose review id is the last one folded into the rollup is skipped.
func (a *Aggregator) ApplyIncrementalUpdate(ctx context.Context, userID string, delta models.CardDelta) (*models.UserRollup, error) {
	if delta.Duplicate {
		r, err := a.get(ctx, userID)
		if errs.IsNotFound(err) {
			return &models.UserRollup{UserID: userID, WeekStart: delta.WeekStart}, nil
		}
		return r, err
	}

	for round := 1; round <= a.conflicts; round++ {
		r, err := a.get(ctx, userID)
		isNew := false
		switch {
		case errs.IsNotFound(err):
			r = &models.UserRollup{UserID: userID, WeekStart: delta.WeekStart}
			isNew = true
		case err != nil:
			return nil, err
		}
		if delta.ReviewID != "" && r.LastReviewID == delta.ReviewID {
			a.log.Debug("review already folded into rollup",
				zap.String("user_id", userID), zap.String("review_id", delta.ReviewID))
			return r, nil
		}

		expected := r.Version
		applyDelta(r, delta)
		r.LastUpdated = a.clock.Now()
		r.LastReviewID = delta.ReviewID

		err = retry.Exec(ctx, a.policy, "write rollup", func(ctx context.Context) error {
			if isNew {
				return a.rollups.Insert(ctx, r)
			}
			return a.rollups.Update(ctx, r, expected)
		})
		if errs.IsConflict(err) {
			a.log.Debug("rollup version conflict, re-reading", zap.String("user_id", userID), zap.Int("round", round))
			a.metrics.Conflict("rollup")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store rollup of %s: %w", userID, err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("rollup of %s still conflicting after %d attempts: %w", userID, a.conflicts, errs.ErrConflict)
}

func applyDelta(r *models.UserRollup, d models.CardDelta) {
	if d.NewCard {
		r.TotalCards++
	}
	r.MasteredCards += d.MasteryChange()
	if r.MasteredCards < 0 {
		r.MasteredCards = 0
	}
	if r.MasteredCards > r.TotalCards {
		r.MasteredCards = r.TotalCards
	}
	r.TotalPoints += d.Points
	switch {
	case d.WeekStart.After(r.WeekStart):
		r.WeekStart = d.WeekStart
		r.WeeklyPoints = d.Points
	case d.WeekStart.Equal(r.WeekStart):
		r.WeeklyPoints += d.Points
	}
	r.ComputeMasteryRate()
}

// RecomputeBatch recomputes the given users in id order, committing one
// chunk per transaction together with the job checkpoint. The checkpoint
// is keyed to the set of ids: if a previous run over the same users
// stopped early, users up to its checkpoint are skipped. A failed chunk
// returns *errs.PartialBatchFailure; rerunning resumes after the last
// committed chunk.
func (a *Aggregator) RecomputeBatch(ctx context.Context, userIDs []string) (batch.Result, error) {
	return a.recompute(ctx, userIDs, BatchJob(userIDs))
}

// RecomputeAll recomputes every user that owns cards, resuming an
// interrupted full run.
func (a *Aggregator) RecomputeAll(ctx context.Context) (batch.Result, error) {
	ids, err := a.pageIDs(ctx, a.cards.ListUserIDs)
	if err != nil {
		return batch.Result{}, err
	}
	return a.recompute(ctx, ids, JobRecompute)
}

// BatchJob names the checkpoint of a recompute over userIDs.
func BatchJob(userIDs []string) string {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	set := uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(ids, "\n")))
	return JobRecompute + "/" + set.String()
}

func (a *Aggregator) recompute(ctx context.Context, userIDs []string, job string) (batch.Result, error) {
	started := a.clock.Now()
	timer := time.Now()
	defer func() { a.metrics.ObserveJob(JobRecompute, time.Since(timer).Seconds()) }()

	cp, err := a.checkpoint(ctx, job)
	if err != nil {
		return batch.Result{}, err
	}
	if cp.Cursor != "" {
		a.log.Info("resuming recompute", zap.String("job", job), zap.String("after", cp.Cursor), zap.Int("chunk", cp.Chunk))
	}

	chunkIdx := cp.Chunk
	w := a.writer(job)
	res, err := w.Write(ctx, userIDs, cp.Cursor, func(ctx context.Context, chunk []string, cursor string) error {
		rollups := make([]models.UserRollup, 0, len(chunk))
		for _, id := range chunk {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
			r, err := a.compute(ctx, id, started)
			if err != nil {
				return err
			}
			rollups = append(rollups, *r)
		}
		written, err := a.rollups.PutChunk(ctx, rollups, &database.Checkpoint{
			Job:       job,
			Cursor:    cursor,
			Chunk:     chunkIdx + 1,
			UpdatedAt: a.clock.Now(),
		})
		a.metrics.Chunk(JobRecompute, err == nil)
		if err != nil {
			return err
		}
		chunkIdx++
		if skipped := len(rollups) - written; skipped > 0 {
			a.log.Debug("kept rollups updated during recompute", zap.Int("skipped", skipped))
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if err := a.checkpoints.Clear(ctx, job); err != nil {
		a.log.Warn("failed to clear recompute checkpoint", zap.Error(err))
	}
	a.log.Info("recompute finished", zap.Int("users", res.Written), zap.Int("chunks", res.Chunks))
	return res, nil
}

// ResetWeekly zeroes the weekly points of every rollup whose points
// belong to a week before weekStart. It is idempotent and resumable.
func (a *Aggregator) ResetWeekly(ctx context.Context, weekStart time.Time) (batch.Result, error) {
	weekStart = WeekStart(weekStart)
	job := JobResetWeekly + "/" + WeekID(weekStart)
	timer := time.Now()
	defer func() { a.metrics.ObserveJob(JobResetWeekly, time.Since(timer).Seconds()) }()

	ids, err := a.pageIDs(ctx, a.rollups.ListUserIDs)
	if err != nil {
		return batch.Result{}, err
	}
	cp, err := a.checkpoint(ctx, job)
	if err != nil {
		return batch.Result{}, err
	}

	reset := 0
	chunkIdx := cp.Chunk
	w := a.writer(job)
	res, err := w.Write(ctx, ids, cp.Cursor, func(ctx context.Context, chunk []string, cursor string) error {
		n, err := a.rollups.ResetWeeklyChunk(ctx, chunk, weekStart, &database.Checkpoint{
			Job:       job,
			Cursor:    cursor,
			Chunk:     chunkIdx + 1,
			UpdatedAt: a.clock.Now(),
		})
		a.metrics.Chunk(JobResetWeekly, err == nil)
		if err != nil {
			return err
		}
		chunkIdx++
		reset += n
		return nil
	})
	if err != nil {
		return res, err
	}
	if err := a.checkpoints.Clear(ctx, job); err != nil {
		a.log.Warn("failed to clear reset checkpoint", zap.String("job", job), zap.Error(err))
	}
	a.log.Info("weekly points reset",
		zap.String("week", WeekID(weekStart)),
		zap.Int("users", res.Written),
		zap.Int("reset", reset))
	return res, nil
}

// Audit compares the stored rollup of a user with a full recompute and
// returns *errs.InconsistentAggregateError when they differ. Mastery rates
// may differ by tolerance.
func (a *Aggregator) Audit(ctx context.Context, userID string, tolerance float64) error {
	computed, err := a.ComputeUser(ctx, userID)
	if err != nil {
		return err
	}
	stored, err := a.get(ctx, userID)
	if errs.IsNotFound(err) {
		stored = &models.UserRollup{UserID: userID, WeekStart: computed.WeekStart}
	} else if err != nil {
		return err
	}

	var mismatches []errs.Mismatch
	check := func(field string, s, c float64, tol float64) {
		if math.Abs(s-c) > tol {
			mismatches = append(mismatches, errs.Mismatch{Field: field, Stored: s, Recomputed: c})
		}
	}
	check("total_cards", float64(stored.TotalCards), float64(computed.TotalCards), 0)
	check("mastered_cards", float64(stored.MasteredCards), float64(computed.MasteredCards), 0)
	check("total_points", float64(stored.TotalPoints), float64(computed.TotalPoints), 0)
	check("weekly_points", float64(stored.WeeklyPointsFor(computed.WeekStart)), float64(computed.WeeklyPoints), 0)
	check("mastery_rate", stored.MasteryRate, computed.MasteryRate, tolerance)

	if len(mismatches) == 0 {
		return nil
	}
	a.metrics.Inconsistent()
	err = &errs.InconsistentAggregateError{UserID: userID, Mismatches: mismatches}
	a.log.Warn("inconsistent rollup", zap.String("user_id", userID), zap.Error(err))
	return err
}

func (a *Aggregator) get(ctx context.Context, userID string) (*models.UserRollup, error) {
	return retry.Do(ctx, a.policy, "get rollup", func(ctx context.Context) (*models.UserRollup, error) {
		return a.rollups.Get(ctx, userID)
	})
}

func (a *Aggregator) checkpoint(ctx context.Context, job string) (*database.Checkpoint, error) {
	return retry.Do(ctx, a.policy, "get checkpoint", func(ctx context.Context) (*database.Checkpoint, error) {
		return a.checkpoints.Get(ctx, job)
	})
}

func (a *Aggregator) writer(job string) *batch.Writer[string] {
	return &batch.Writer[string]{
		Job:    job,
		Size:   a.batchSize,
		Key:    func(id string) string { return id },
		Policy: a.policy,
		Logger: a.log,
	}
}

func (a *Aggregator) pageIDs(ctx context.Context, list func(ctx context.Context, after string, limit int) ([]string, error)) ([]string, error) {
	var all []string
	after := ""
	for {
		page, err := retry.Do(ctx, a.policy, "list user ids", func(ctx context.Context) ([]string, error) {
			return list(ctx, after, idPageSize)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < idPageSize {
			return all, nil
		}
		after = page[len(page)-1]
	}
}
