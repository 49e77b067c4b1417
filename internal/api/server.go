// Package api provides the HTTP API of the study service.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/internal/spaced_repetition"
	"github.com/example/dentalsrs/internal/study"
	"github.com/example/dentalsrs/pkg/models"
)

// Study is the part of study.Service the API serves.
type Study interface {
	SubmitReviewWithID(ctx context.Context, userID, questionID string, quality int, reviewID string) (*study.ReviewSummary, error)
	GetDueQueue(ctx context.Context, userID string, limit int) ([]string, error)
	GetLeaderboard(ctx context.Context, metric models.Metric, n int) ([]models.RankingEntry, error)
	GetUserStanding(ctx context.Context, userID string, metric models.Metric) (models.RankingEntry, error)
	GetUserStats(ctx context.Context, userID string) (*models.UserRollup, error)
}

// Snapshots reads saved weekly rankings.
type Snapshots interface {
	Get(ctx context.Context, weekID string) (*models.RankingSnapshot, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP endpoints for the study service.
type Server struct {
	echo      *echo.Echo
	study     Study
	snapshots Snapshots
	store     Pinger
	logger    *zap.Logger
	addr      string
	dueLimit  int
	topN      int
}

// Options configures a Server.
type Options struct {
	Addr      string
	Snapshots Snapshots
	Store     Pinger
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	// Defaults for the limit and n query parameters.
	DueLimit        int
	LeaderboardSize int
}

const (
	defaultDueLimit         = 20
	defaultLeaderboardLimit = 20
)

// NewServer creates a new HTTP server.
func NewServer(svc Study, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.DueLimit <= 0 {
		opts.DueLimit = defaultDueLimit
	}
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = defaultLeaderboardLimit
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{
		echo:      e,
		study:     svc,
		snapshots: opts.Snapshots,
		store:     opts.Store,
		logger:    logger,
		addr:      opts.Addr,
		dueLimit:  opts.DueLimit,
		topN:      opts.LeaderboardSize,
	}
	s.registerRoutes(opts.Gatherer)
	return s
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/healthz", s.handleHealth)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/users/:uid/reviews", s.handleSubmitReview)
	v1.GET("/users/:uid/due", s.handleDue)
	v1.GET("/users/:uid/standing", s.handleStanding)
	v1.GET("/users/:uid/stats", s.handleStats)
	v1.GET("/leaderboard", s.handleLeaderboard)
	v1.GET("/rankings/weekly", s.handleWeeklySnapshot)
}

// Handler exposes the router, e.g. for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	err := s.echo.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ReviewRequest is the body of POST /api/v1/users/:uid/reviews. Either
// Quality (0-5) or Rating (again, hard, normal, easy) must be set.
type ReviewRequest struct {
	QuestionID string `json:"question_id"`
	Quality    *int   `json:"quality,omitempty"`
	Rating     string `json:"rating,omitempty"`
	ReviewID   string `json:"review_id,omitempty"`
}

// DueResponse is the body of GET /api/v1/users/:uid/due.
type DueResponse struct {
	UserID      string   `json:"user_id"`
	QuestionIDs []string `json:"question_ids"`
}

// LeaderboardResponse is the body of GET /api/v1/leaderboard.
type LeaderboardResponse struct {
	Metric  models.Metric         `json:"metric"`
	Entries []models.RankingEntry `json:"entries"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.store != nil {
		if err := s.store.Ping(c.Request().Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSubmitReview(c echo.Context) error {
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var quality int
	switch {
	case req.Quality != nil:
		quality = *req.Quality
	case req.Rating != "":
		r, err := spaced_repetition.ParseRating(req.Rating)
		if err != nil {
			return s.toHTTPError(err)
		}
		quality = r.Quality()
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "quality or rating is required")
	}

	summary, err := s.study.SubmitReviewWithID(c.Request().Context(), c.Param("uid"), req.QuestionID, quality, req.ReviewID)
	if err != nil {
		return s.toHTTPError(err)
	}
	status := http.StatusCreated
	if summary.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, summary)
}

func (s *Server) handleDue(c echo.Context) error {
	limit, err := intQuery(c, "limit", s.dueLimit)
	if err != nil {
		return err
	}
	ids, err := s.study.GetDueQueue(c.Request().Context(), c.Param("uid"), limit)
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, DueResponse{UserID: c.Param("uid"), QuestionIDs: ids})
}

func (s *Server) handleStanding(c echo.Context) error {
	metric, err := models.ParseMetric(c.QueryParam("metric"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := s.study.GetUserStanding(c.Request().Context(), c.Param("uid"), metric)
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) handleStats(c echo.Context) error {
	rollup, err := s.study.GetUserStats(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rollup)
}

func (s *Server) handleLeaderboard(c echo.Context) error {
	metric, err := models.ParseMetric(c.QueryParam("metric"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := intQuery(c, "n", s.topN)
	if err != nil {
		return err
	}
	entries, err := s.study.GetLeaderboard(c.Request().Context(), metric, n)
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, LeaderboardResponse{Metric: metric, Entries: entries})
}

func (s *Server) handleWeeklySnapshot(c echo.Context) error {
	if s.snapshots == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no saved rankings")
	}
	snap, err := s.snapshots.Get(c.Request().Context(), c.QueryParam("week"))
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func intQuery(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return v, nil
}

// toHTTPError maps the error taxonomy onto status codes.
func (s *Server) toHTTPError(err error) error {
	switch {
	case errs.IsInvalidInput(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errs.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errs.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, "concurrent update, retry with the same review_id")
	case errs.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("store unavailable", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable, retry later")
	}
	s.logger.Error("request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
