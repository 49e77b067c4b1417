// Package study is the interface the front ends call: it ties the card
// store, the aggregator and the leaderboards together.
package study

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/cache"
	"github.com/example/dentalsrs/internal/cards"
	"github.com/example/dentalsrs/internal/clock"
	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/internal/metrics"
	"github.com/example/dentalsrs/internal/ranking"
	"github.com/example/dentalsrs/internal/retry"
	"github.com/example/dentalsrs/internal/statistics"
	"github.com/example/dentalsrs/pkg/models"
)

// MaxLeaderboardSize bounds top-N requests.
const MaxLeaderboardSize = 100

// RollupReader is the read side of the rollup store.
type RollupReader interface {
	Get(ctx context.Context, userID string) (*models.UserRollup, error)
	TopBy(ctx context.Context, metric models.Metric, weekStart time.Time, limit int) ([]models.UserRollup, error)
	ListAll(ctx context.Context) ([]models.UserRollup, error)
}

// UserStore holds learner profiles.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetLeaderboardVisibility(ctx context.Context, id string, show bool) error
}

// QuestionSource reads the question bank.
type QuestionSource interface {
	GetByID(ctx context.Context, id string) (*models.Question, error)
	ListUnseen(ctx context.Context, userID string, limit int) ([]models.Question, error)
}

// ReviewSummary is what a caller learns from a submitted review.
type ReviewSummary struct {
	UserID       string    `json:"user_id"`
	QuestionID   string    `json:"question_id"`
	ReviewID     string    `json:"review_id"`
	Quality      int       `json:"quality"`
	Repetitions  int       `json:"repetitions"`
	EaseFactor   float64   `json:"ease_factor"`
	IntervalDays int       `json:"interval_days"`
	DueDate      time.Time `json:"due_date"`
	Level        int       `json:"level"`
	Points       int       `json:"points"`
	Mastered     bool      `json:"mastered"`
	Duplicate    bool      `json:"duplicate"`
	TotalPoints  int       `json:"total_points"`
	WeeklyPoints int       `json:"weekly_points"`
	// StatsStale is set when the card was saved but the rollup update
	// failed; the next recompute repairs it.
	StatsStale bool `json:"stats_stale,omitempty"`
}

// Deps are the collaborators of a Service.
type Deps struct {
	Cards      *cards.Store
	Aggregator *statistics.Aggregator
	Rollups    RollupReader
	Users      UserStore
	Questions  QuestionSource
	Cache      *cache.Cache[[]models.UserRollup]
	Policy     retry.Policy
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Service implements the study operations.
type Service struct {
	cards     *cards.Store
	agg       *statistics.Aggregator
	rollups   RollupReader
	users     UserStore
	questions QuestionSource
	cache     *cache.Cache[[]models.UserRollup]
	policy    retry.Policy
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	s := &Service{
		cards:     d.Cards,
		agg:       d.Aggregator,
		rollups:   d.Rollups,
		users:     d.Users,
		questions: d.Questions,
		cache:     d.Cache,
		policy:    d.Policy,
		clock:     d.Clock,
		log:       d.Logger,
		metrics:   d.Metrics,
	}
	if s.cache == nil {
		s.cache = cache.New[[]models.UserRollup](64, time.Minute)
	}
	if s.policy.MaxAttempts == 0 {
		s.policy = retry.DefaultPolicy()
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.policy.Logger == nil {
		s.policy.Logger = s.log
	}
	return s
}

// SubmitReview applies a rating with a fresh review id.
func (s *Service) SubmitReview(ctx context.Context, userID, questionID string, quality int) (*ReviewSummary, error) {
	return s.SubmitReviewWithID(ctx, userID, questionID, quality, "")
}

// SubmitReviewWithID applies a rating. Submitting the same reviewID again
// returns the stored state flagged Duplicate and changes nothing.
func (s *Service) SubmitReviewWithID(ctx context.Context, userID, questionID string, quality int, reviewID string) (*ReviewSummary, error) {
	out, err := s.cards.ApplyReview(ctx, cards.ReviewInput{
		UserID:     userID,
		QuestionID: questionID,
		Quality:    quality,
		ReviewID:   reviewID,
	})
	if err != nil {
		s.metrics.Review(reviewOutcome(err))
		return nil, err
	}

	summary := summarize(out, quality, s.cards.MasteryThreshold())
	if out.Duplicate() {
		s.metrics.Review("duplicate")
		if r, err := s.rollup(ctx, userID); err == nil {
			summary.TotalPoints = r.TotalPoints
			summary.WeeklyPoints = r.WeeklyPointsFor(statistics.WeekStart(s.clock.Now()))
		}
		return summary, nil
	}
	s.metrics.Review("applied")

	rollup, err := s.agg.ApplyIncrementalUpdate(ctx, userID, out.Delta)
	if err != nil {
		s.log.Warn("review saved but rollup update failed",
			zap.String("user_id", userID),
			zap.String("question_id", questionID),
			zap.String("review_id", out.ReviewID),
			zap.Error(err))
		summary.StatsStale = true
		return summary, nil
	}
	s.cache.InvalidateAll()
	summary.TotalPoints = rollup.TotalPoints
	summary.WeeklyPoints = rollup.WeeklyPointsFor(out.Delta.WeekStart)
	return summary, nil
}

func summarize(out *cards.ReviewOutcome, quality, threshold int) *ReviewSummary {
	c := out.Card
	return &ReviewSummary{
		UserID:       c.UserID,
		QuestionID:   c.QuestionID,
		ReviewID:     out.ReviewID,
		Quality:      quality,
		Repetitions:  c.Repetitions,
		EaseFactor:   c.EaseFactor,
		IntervalDays: c.IntervalDays,
		DueDate:      c.DueDate,
		Level:        c.Level,
		Points:       out.Delta.Points,
		Mastered:     c.IsMastered(threshold),
		Duplicate:    out.Duplicate(),
	}
}

func reviewOutcome(err error) string {
	switch {
	case errs.IsTransient(err):
		return "unavailable"
	case errs.IsConflict(err):
		return "conflict"
	case errs.IsInvalidInput(err):
		return "invalid"
	}
	return "failed"
}

// GetDueQueue returns the ids of up to limit questions due now, oldest first.
func (s *Service) GetDueQueue(ctx context.Context, userID string, limit int) ([]string, error) {
	due, err := s.cards.DueCards(ctx, userID, s.clock.Now(), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.QuestionID)
	}
	return ids, nil
}

// NextQuestions returns up to limit questions to study: due reviews first,
// then questions the user has never seen.
func (s *Service) NextQuestions(ctx context.Context, userID string, limit int) ([]models.Question, error) {
	ids, err := s.GetDueQueue(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Question, 0, limit)
	for _, id := range ids {
		q, err := retry.Do(ctx, s.policy, "get question", func(ctx context.Context) (*models.Question, error) {
			return s.questions.GetByID(ctx, id)
		})
		if errs.IsNotFound(err) {
			s.log.Warn("due card without question", zap.String("user_id", userID), zap.String("question_id", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	if len(out) >= limit {
		return out, nil
	}
	fresh, err := retry.Do(ctx, s.policy, "list unseen questions", func(ctx context.Context) ([]models.Question, error) {
		return s.questions.ListUnseen(ctx, userID, limit-len(out))
	})
	if err != nil {
		return nil, err
	}
	return append(out, fresh...), nil
}

// GetQuestion returns one question of the bank.
func (s *Service) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	if err := cards.ValidateID("question", id); err != nil {
		return nil, err
	}
	return retry.Do(ctx, s.policy, "get question", func(ctx context.Context) (*models.Question, error) {
		return s.questions.GetByID(ctx, id)
	})
}

// GetLeaderboard returns the top n visible users by metric.
func (s *Service) GetLeaderboard(ctx context.Context, metric models.Metric, n int) ([]models.RankingEntry, error) {
	if n <= 0 || n > MaxLeaderboardSize {
		return nil, errs.InvalidInput("leaderboard size must be in 1..%d, got %d", MaxLeaderboardSize, n)
	}
	if _, err := models.ParseMetric(string(metric)); err != nil {
		return nil, errs.InvalidInput("%v", err)
	}
	week := statistics.WeekStart(s.clock.Now())
	key := fmt.Sprintf("top:%s:%d:%s", metric, n, statistics.WeekID(week))
	rollups, err := s.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]models.UserRollup, error) {
		return retry.Do(ctx, s.policy, "query leaderboard", func(ctx context.Context) ([]models.UserRollup, error) {
			return s.rollups.TopBy(ctx, metric, week, n)
		})
	})
	if err != nil {
		return nil, err
	}
	return ranking.TopN(rollups, metric, n, week), nil
}

// GetUserStanding returns the rank of a user by metric. The user is
// ranked even when hidden from public leaderboards; a user who never
// reviewed a card gets errs.ErrNotFound.
func (s *Service) GetUserStanding(ctx context.Context, userID string, metric models.Metric) (models.RankingEntry, error) {
	if err := cards.ValidateID("user", userID); err != nil {
		return models.RankingEntry{}, err
	}
	if _, err := models.ParseMetric(string(metric)); err != nil {
		return models.RankingEntry{}, errs.InvalidInput("%v", err)
	}
	rollups, err := s.allRollups(ctx)
	if err != nil {
		return models.RankingEntry{}, err
	}
	return ranking.RankOf(rollups, metric, userID, statistics.WeekStart(s.clock.Now()))
}

// GetUserStats returns the rollup of a user; a user who never studied
// gets an empty one.
func (s *Service) GetUserStats(ctx context.Context, userID string) (*models.UserRollup, error) {
	if err := cards.ValidateID("user", userID); err != nil {
		return nil, err
	}
	r, err := s.rollup(ctx, userID)
	if errs.IsNotFound(err) {
		return &models.UserRollup{UserID: userID, WeekStart: statistics.WeekStart(s.clock.Now())}, nil
	}
	return r, err
}

// SetLeaderboardVisibility shows or hides a user on public leaderboards.
func (s *Service) SetLeaderboardVisibility(ctx context.Context, userID string, show bool) error {
	if err := cards.ValidateID("user", userID); err != nil {
		return err
	}
	err := retry.Exec(ctx, s.policy, "set leaderboard visibility", func(ctx context.Context) error {
		return s.users.SetLeaderboardVisibility(ctx, userID, show)
	})
	if err != nil {
		return err
	}
	s.cache.InvalidateAll()
	return nil
}

func (s *Service) allRollups(ctx context.Context) ([]models.UserRollup, error) {
	return s.cache.GetOrLoad(ctx, "all", func(ctx context.Context) ([]models.UserRollup, error) {
		return retry.Do(ctx, s.policy, "list rollups", func(ctx context.Context) ([]models.UserRollup, error) {
			return s.rollups.ListAll(ctx)
		})
	})
}

func (s *Service) rollup(ctx context.Context, userID string) (*models.UserRollup, error) {
	return retry.Do(ctx, s.policy, "get rollup", func(ctx context.Context) (*models.UserRollup, error) {
		return s.rollups.Get(ctx, userID)
	})
}
