// Package cards owns the per-(user, question) card records: it applies
// scheduler output to stored cards and answers due queries.
package cards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/clock"
	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/internal/metrics"
	"github.com/example/dentalsrs/internal/retry"
	"github.com/example/dentalsrs/internal/spaced_repetition"
	"github.com/example/dentalsrs/internal/statistics"
	"github.com/example/dentalsrs/pkg/models"
)

// DefaultMasteryThreshold is the interval in days at which a card counts
// as mastered.
const DefaultMasteryThreshold = 7

// Repository is the card persistence the store needs.
type Repository interface {
	Get(ctx context.Context, userID, questionID string) (*models.Card, error)
	Insert(ctx context.Context, card *models.Card) error
	Update(ctx context.Context, card *models.Card, expected int64) error
	ListDue(ctx context.Context, userID string, asOf time.Time, limit int) ([]models.Card, error)
}

// ReviewInput is one rating of one question by one user. An empty
// ReviewID gets a random one; a zero At means now.
type ReviewInput struct {
	UserID     string
	QuestionID string
	Quality    int
	ReviewID   string
	At         time.Time
}

// ReviewOutcome is the stored card after the review and the change it
// made, for the rollup.
type ReviewOutcome struct {
	Card     *models.Card
	Delta    models.CardDelta
	ReviewID string
}

// Duplicate reports whether the review had already been applied.
func (o *ReviewOutcome) Duplicate() bool { return o.Delta.Duplicate }

// Options configures a Store. Zero values take defaults.
type Options struct {
	Scheduler        *spaced_repetition.SM2
	Scoring          statistics.Scoring
	MasteryThreshold int
	Policy           retry.Policy
	// MaxConflicts bounds re-read and re-apply rounds after version conflicts.
	MaxConflicts int
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Store applies reviews to cards.
type Store struct {
	repo      Repository
	sched     *spaced_repetition.SM2
	scoring   statistics.Scoring
	threshold int
	policy    retry.Policy
	conflicts int
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewStore creates a Store over repo.
func NewStore(repo Repository, opts Options) *Store {
	s := &Store{
		repo:      repo,
		sched:     opts.Scheduler,
		scoring:   opts.Scoring,
		threshold: opts.MasteryThreshold,
		policy:    opts.Policy,
		conflicts: opts.MaxConflicts,
		clock:     opts.Clock,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
	if s.sched == nil {
		s.sched = spaced_repetition.NewSM2()
	}
	if s.scoring.Mode == "" {
		s.scoring = statistics.DefaultScoring()
	}
	if s.threshold <= 0 {
		s.threshold = DefaultMasteryThreshold
	}
	if s.policy.MaxAttempts == 0 {
		s.policy = retry.DefaultPolicy()
	}
	if s.conflicts <= 0 {
		s.conflicts = 5
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
	if s.policy.OnRetry == nil && s.metrics != nil {
		s.policy.OnRetry = s.metrics.Retry
	}
	return s
}

// MasteryThreshold returns the mastered interval in days.
func (s *Store) MasteryThreshold() int { return s.threshold }

// GetOrCreate returns the stored card, or the default card of a question
// the user never reviewed. The default card is not persisted; the first
// ApplyReview stores it.
func (s *Store) GetOrCreate(ctx context.Context, userID, questionID string) (*models.Card, error) {
	if err := validateIDs(userID, questionID); err != nil {
		return nil, err
	}
	card, err := s.get(ctx, userID, questionID)
	if errs.IsNotFound(err) {
		return models.NewCard(userID, questionID, s.clock.Now()), nil
	}
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ApplyReview schedules the card, updates its counters, history and
// points, and persists it with a version check. Lost races are retried
// from a fresh read. A review whose id is already in the card history is
// not applied again; its outcome is flagged Duplicate, unless the history
// entry comes from this call's own write whose acknowledgement was lost.
func (s *Store) ApplyReview(ctx context.Context, in ReviewInput) (*ReviewOutcome, error) {
	if err := validateIDs(in.UserID, in.QuestionID); err != nil {
		return nil, err
	}
	if err := spaced_repetition.ValidateQuality(in.Quality); err != nil {
		return nil, err
	}
	if in.ReviewID == "" {
		in.ReviewID = uuid.NewString()
	}
	at := in.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	at = at.UTC()

	log := s.log.With(
		zap.String("user_id", in.UserID),
		zap.String("question_id", in.QuestionID),
		zap.String("review_id", in.ReviewID))

	// delta of a write that may have committed despite failing
	var unacked *models.CardDelta
	for round := 1; round <= s.conflicts; round++ {
		card, err := s.get(ctx, in.UserID, in.QuestionID)
		isNew := false
		switch {
		case errs.IsNotFound(err):
			card = models.NewCard(in.UserID, in.QuestionID, at)
			isNew = true
		case err != nil:
			return nil, err
		}

		if card.History.Contains(in.ReviewID) && unacked != nil {
			log.Info("review write committed despite error", zap.Int("round", round))
			return &ReviewOutcome{Card: card, Delta: *unacked, ReviewID: in.ReviewID}, nil
		}
		if card.History.Contains(in.ReviewID) {
			log.Info("review already applied")
			return &ReviewOutcome{
				Card:     card,
				ReviewID: in.ReviewID,
				Delta:    models.CardDelta{Duplicate: true, ReviewedAt: at, ReviewID: in.ReviewID, WeekStart: statistics.WeekStart(at)},
			}, nil
		}

		expected := card.Version
		delta, err := s.apply(card, isNew, in.Quality, in.ReviewID, at)
		if err != nil {
			return nil, err
		}

		uncertain := false
		err = retry.Exec(ctx, s.policy, "write card", func(ctx context.Context) error {
			var werr error
			if isNew {
				werr = s.repo.Insert(ctx, card)
			} else {
				werr = s.repo.Update(ctx, card, expected)
			}
			if errs.IsTransient(werr) {
				uncertain = true
			}
			return werr
		})
		if errs.IsConflict(err) {
			if uncertain {
				d := delta
				unacked = &d
			}
			log.Debug("card version conflict, re-reading", zap.Int("round", round))
			s.metrics.Conflict("card")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save card: %w", err)
		}

		log.Debug("review applied",
			zap.Int("quality", in.Quality),
			zap.Int("interval_days", card.IntervalDays),
			zap.Int("points", delta.Points))
		return &ReviewOutcome{Card: card, Delta: delta, ReviewID: in.ReviewID}, nil
	}
	return nil, fmt.Errorf("card %s/%s still conflicting after %d attempts: %w",
		in.UserID, in.QuestionID, s.conflicts, errs.ErrConflict)
}

// apply mutates card in place for one review and returns the rollup delta.
func (s *Store) apply(card *models.Card, isNew bool, quality int, reviewID string, at time.Time) (models.CardDelta, error) {
	wasMastered := !isNew && card.IsMastered(s.threshold)

	next, err := s.sched.Schedule(card.Schedule, quality, at)
	if err != nil {
		return models.CardDelta{}, err
	}
	card.Schedule = next

	studied := at
	card.LastStudied = &studied
	card.TotalAttempts++
	if quality >= s.sched.PassThreshold {
		card.CorrectAttempts++
	}
	card.AverageQuality += (float64(quality) - card.AverageQuality) / float64(card.TotalAttempts)
	card.LastQuality = quality
	card.History = card.History.Append(models.HistoryEntry{Timestamp: at, Quality: quality, ReviewID: reviewID})
	card.Level = spaced_repetition.Level(card.Repetitions, card.History)

	points := s.scoring.Points(quality)
	week := statistics.WeekStart(at)
	if week.After(card.WeekStart) {
		card.WeekStart = week
		card.WeekPoints = 0
	}
	card.Points += points
	if week.Equal(card.WeekStart) {
		card.WeekPoints += points
	}
	card.UpdatedAt = at

	return models.CardDelta{
		NewCard:     isNew,
		Points:      points,
		WeekStart:   week,
		WasMastered: wasMastered,
		IsMastered:  card.IsMastered(s.threshold),
		ReviewedAt:  at,
		ReviewID:    reviewID,
	}, nil
}

// DueCards returns up to limit of the user's cards due at or before asOf,
// ordered by due date.
func (s *Store) DueCards(ctx context.Context, userID string, asOf time.Time, limit int) ([]models.Card, error) {
	if err := ValidateID("user", userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errs.InvalidInput("limit must be positive, got %d", limit)
	}
	return retry.Do(ctx, s.policy, "list due cards", func(ctx context.Context) ([]models.Card, error) {
		return s.repo.ListDue(ctx, userID, asOf, limit)
	})
}

func (s *Store) get(ctx context.Context, userID, questionID string) (*models.Card, error) {
	return retry.Do(ctx, s.policy, "get card", func(ctx context.Context) (*models.Card, error) {
		return s.repo.Get(ctx, userID, questionID)
	})
}

func validateIDs(userID, questionID string) error {
	if err := ValidateID("user", userID); err != nil {
		return err
	}
	return ValidateID("question", questionID)
}
