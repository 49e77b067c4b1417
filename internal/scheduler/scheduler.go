// Package scheduler runs the periodic maintenance jobs and study reminders.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/dentalsrs/internal/batch"
	"github.com/example/dentalsrs/internal/cache"
	"github.com/example/dentalsrs/internal/clock"
	"github.com/example/dentalsrs/internal/statistics"
	"github.com/example/dentalsrs/pkg/models"
)

// Default notification window, UTC hours inclusive.
const (
	DefaultNotificationStartHour = 8
	DefaultNotificationEndHour   = 22
)

// Notifier delivers a "cards are due" reminder to a user.
type Notifier interface {
	SendReminders(ctx context.Context, user models.User, count int) error
}

// Maintenance is the rollup side of the jobs.
type Maintenance interface {
	RecomputeAll(ctx context.Context) (batch.Result, error)
	ResetWeekly(ctx context.Context, weekStart time.Time) (batch.Result, error)
}

// SnapshotTaker saves a weekly leaderboard.
type SnapshotTaker interface {
	Take(ctx context.Context, weekStart, now time.Time) (*models.RankingSnapshot, error)
}

// Recipients lists users who can be reminded.
type Recipients interface {
	ListWithTelegram(ctx context.Context) ([]models.User, error)
}

// DueCounter counts the cards due for a user.
type DueCounter interface {
	CountDue(ctx context.Context, userID string, asOf time.Time) (int, error)
}

// Options configures the scheduler. Times are UTC "HH:MM".
type Options struct {
	RecomputeAt       string
	WeeklyResetAt     string
	ReminderStartHour int
	ReminderEndHour   int
	// RemindersPerSecond throttles outgoing reminders.
	RemindersPerSecond float64
	// Cache is emptied after jobs that rewrite rollups.
	Cache              cache.Invalidator
	Clock              clock.Clock
	Logger             *zap.Logger
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler   *gocron.Scheduler
	maintenance Maintenance
	snapshots   SnapshotTaker
	recipients  Recipients
	due         DueCounter
	notifier    Notifier
	limiter     *rate.Limiter
	opts        Options
	clock       clock.Clock
	log         *zap.Logger
}

// New creates a new scheduler instance. snapshots, recipients and notifier
// may be nil; the jobs that need them are then skipped.
func New(maintenance Maintenance, snapshots SnapshotTaker, recipients Recipients, due DueCounter, notifier Notifier, opts Options) *Scheduler {
	if opts.RecomputeAt == "" {
		opts.RecomputeAt = "03:00"
	}
	if opts.WeeklyResetAt == "" {
		opts.WeeklyResetAt = "00:00"
	}
	if opts.ReminderStartHour == 0 && opts.ReminderEndHour == 0 {
		opts.ReminderStartHour = DefaultNotificationStartHour
		opts.ReminderEndHour = DefaultNotificationEndHour
	}
	limit := rate.Inf
	if opts.RemindersPerSecond > 0 {
		limit = rate.Limit(opts.RemindersPerSecond)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:   s,
		maintenance: maintenance,
		snapshots:   snapshots,
		recipients:  recipients,
		due:         due,
		notifier:    notifier,
		limiter:     rate.NewLimiter(limit, 1),
		opts:        opts,
		clock:       clk,
		log:         log,
	}
}

// Start registers the jobs and runs them in the background.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(1).Day().At(s.opts.RecomputeAt).Do(s.runRecompute); err != nil {
		return fmt.Errorf("schedule recompute: %w", err)
	}
	if _, err := s.scheduler.Every(1).Week().Monday().At(s.opts.WeeklyResetAt).Do(s.runWeekly); err != nil {
		return fmt.Errorf("schedule weekly rollover: %w", err)
	}
	if s.notifier != nil && s.recipients != nil {
		if _, err := s.scheduler.Every(1).Hour().Do(s.runReminders); err != nil {
			return fmt.Errorf("schedule reminders: %w", err)
		}
	}
	s.scheduler.StartAsync()
	s.log.Info("scheduler started",
		zap.String("recompute_at", s.opts.RecomputeAt),
		zap.String("weekly_reset_at", s.opts.WeeklyResetAt),
		zap.Int("jobs", len(s.scheduler.Jobs())))
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) runRecompute() {
	if err := s.Recompute(context.Background()); err != nil {
		s.log.Error("scheduled recompute failed", zap.Error(err))
	}
}

func (s *Scheduler) runWeekly() {
	if err := s.Weekly(context.Background(), s.clock.Now()); err != nil {
		s.log.Error("scheduled weekly rollover failed", zap.Error(err))
	}
}

func (s *Scheduler) runReminders() {
	if _, err := s.Remind(context.Background(), s.clock.Now()); err != nil {
		s.log.Error("scheduled reminders failed", zap.Error(err))
	}
}

// Recompute rebuilds every rollup from the cards.
func (s *Scheduler) Recompute(ctx context.Context) error {
	defer s.invalidate()
	res, err := s.maintenance.RecomputeAll(ctx)
	if err != nil {
		return err
	}
	s.log.Info("recompute job done", zap.Int("users", res.Written), zap.Int("chunks", res.Chunks))
	return nil
}

// Weekly saves the leaderboard of the week before now and then resets
// weekly points for the week containing now. The snapshot goes first so
// it still sees last week's points.
func (s *Scheduler) Weekly(ctx context.Context, now time.Time) error {
	defer s.invalidate()
	current := statistics.WeekStart(now)
	previous := current.AddDate(0, 0, -7)

	if s.snapshots != nil {
		snap, err := s.snapshots.Take(ctx, previous, now)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", statistics.WeekID(previous), err)
		}
		s.log.Info("weekly snapshot saved",
			zap.String("week", snap.WeekID),
			zap.Int("participants", snap.TotalParticipants))
	}

	if _, err := s.maintenance.ResetWeekly(ctx, current); err != nil {
		return fmt.Errorf("reset weekly %s: %w", statistics.WeekID(current), err)
	}
	return nil
}

// invalidate runs after a job even when it failed, since earlier chunks
// may have been committed.
func (s *Scheduler) invalidate() {
	if s.opts.Cache != nil {
		s.opts.Cache.InvalidateAll()
	}
}

// Remind sends a reminder to every user with due cards when now falls in
// the notification window. It returns the number of reminders sent.
func (s *Scheduler) Remind(ctx context.Context, now time.Time) (int, error) {
	hour := now.UTC().Hour()
	if hour < s.opts.ReminderStartHour || hour > s.opts.ReminderEndHour {
		s.log.Debug("outside notification hours, skipping reminders",
			zap.Int("hour", hour),
			zap.Int("start", s.opts.ReminderStartHour),
			zap.Int("end", s.opts.ReminderEndHour))
		return 0, nil
	}
	if s.notifier == nil || s.recipients == nil {
		return 0, nil
	}

	users, err := s.recipients.ListWithTelegram(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users for notification: %w", err)
	}

	sent := 0
	for _, user := range users {
		count, err := s.due.CountDue(ctx, user.ID, now)
		if err != nil {
			s.log.Warn("failed to count due cards", zap.String("user_id", user.ID), zap.Error(err))
			continue
		}
		if count == 0 {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return sent, err
		}
		if err := s.notifier.SendReminders(ctx, user, count); err != nil {
			s.log.Warn("failed to send reminder", zap.String("user_id", user.ID), zap.Error(err))
			continue
		}
		sent++
	}
	s.log.Info("reminders sent", zap.Int("users", len(users)), zap.Int("sent", sent))
	return sent, nil
}

// RunManualCheck reminds one user right away, ignoring the window.
func (s *Scheduler) RunManualCheck(ctx context.Context, user models.User) error {
	count, err := s.due.CountDue(ctx, user.ID, s.clock.Now())
	if err != nil {
		return err
	}
	if count > 0 && s.notifier != nil {
		return s.notifier.SendReminders(ctx, user, count)
	}
	return nil
}
