package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/cache"
	"github.com/example/dentalsrs/internal/cards"
	"github.com/example/dentalsrs/internal/clock"
	"github.com/example/dentalsrs/internal/config"
	"github.com/example/dentalsrs/internal/database"
	"github.com/example/dentalsrs/internal/logging"
	"github.com/example/dentalsrs/internal/metrics"
	"github.com/example/dentalsrs/internal/retry"
	"github.com/example/dentalsrs/internal/spaced_repetition"
	"github.com/example/dentalsrs/internal/statistics"
	"github.com/example/dentalsrs/internal/study"
	"github.com/example/dentalsrs/pkg/models"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *database.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	policy   retry.Policy
	clock    clock.Clock

	users       *database.UserRepository
	questions   *database.QuestionRepository
	cardRepo    *database.CardRepository
	rollups     *database.StatisticsRepository
	rankings    *database.RankingRepository
	checkpoints *database.CheckpointRepository

	aggregator   *statistics.Aggregator
	cards        *cards.Store
	study        *study.Service
	snapshots    *study.Snapshotter
	leaderboards *cache.Cache[[]models.UserRollup]
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialWait:    cfg.Retry.InitialWait,
		MaxWait:        cfg.Retry.MaxWait,
		Multiplier:     2,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
		OnRetry:        m.Retry,
		Logger:         logger,
	}

	scoring, err := statistics.NewScoring(cfg.Study.ScoringMode, cfg.Study.FlatPoints)
	if err != nil {
		db.Close()
		return nil, err
	}
	sched := spaced_repetition.NewSM2()
	sched.MaxInterval = cfg.Study.MaxIntervalDays

	a := &app{
		cfg:         cfg,
		log:         logger,
		db:          db,
		registry:    registry,
		metrics:     m,
		policy:      policy,
		clock:       clock.System{},
		users:       database.NewUserRepository(db),
		questions:   database.NewQuestionRepository(db),
		cardRepo:    database.NewCardRepository(db),
		rollups:     database.NewStatisticsRepository(db),
		rankings:    database.NewRankingRepository(db),
		checkpoints: database.NewCheckpointRepository(db),
	}

	a.aggregator = statistics.NewAggregator(a.cardRepo, a.rollups, a.checkpoints, statistics.Options{
		MasteryThreshold: cfg.Study.MasteryThresholdDays,
		BatchSize:        cfg.Batch.Size,
		Policy:           policy,
		UsersPerSecond:   cfg.Jobs.UsersPerSecond,
		Clock:            a.clock,
		Logger:           logger.Named("statistics"),
		Metrics:          m,
	})
	a.cards = cards.NewStore(a.cardRepo, cards.Options{
		Scheduler:        sched,
		Scoring:          scoring,
		MasteryThreshold: cfg.Study.MasteryThresholdDays,
		Policy:           policy,
		Clock:            a.clock,
		Logger:           logger.Named("cards"),
		Metrics:          m,
	})
	a.leaderboards = cache.New[[]models.UserRollup](cfg.Cache.Size, cfg.Cache.TTL)
	a.study = study.NewService(study.Deps{
		Cards:      a.cards,
		Aggregator: a.aggregator,
		Rollups:    a.rollups,
		Users:      a.users,
		Questions:  a.questions,
		Cache:      a.leaderboards,
		Policy:     policy,
		Clock:      a.clock,
		Logger:     logger.Named("study"),
		Metrics:    m,
	})
	a.snapshots = &study.Snapshotter{
		Rollups:     a.rollups,
		Store:       a.rankings,
		Checkpoints: a.checkpoints,
		Policy:      policy,
		BatchSize:   cfg.Batch.Size,
		Top:         cfg.Jobs.SnapshotSize,
		Logger:      logger.Named("snapshot"),
		Metrics:     m,
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("failed to close database", zap.Error(err))
	}
	a.log.Sync()
}
