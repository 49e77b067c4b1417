// Package config loads the service configuration from defaults, an
// optional YAML file, a .env file and the environment.
package config

import (
	"fmt"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Study    StudyConfig    `koanf:"study"`
	Batch    BatchConfig    `koanf:"batch"`
	Retry    RetryConfig    `koanf:"retry"`
	Cache    CacheConfig    `koanf:"cache"`
	HTTP     HTTPConfig     `koanf:"http"`
	Telegram TelegramConfig `koanf:"telegram"`
	Jobs     JobsConfig     `koanf:"jobs"`
}

// DatabaseConfig selects the document store backend.
type DatabaseConfig struct {
	Driver       string `koanf:"driver"` // sqlite3 or postgres
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StudyConfig holds scheduling and scoring policy.
type StudyConfig struct {
	MasteryThresholdDays int    `koanf:"mastery_threshold_days"`
	MaxIntervalDays      int    `koanf:"max_interval_days"`
	ScoringMode          string `koanf:"scoring_mode"` // flat or tiered
	FlatPoints           int    `koanf:"flat_points"`
	DueQueueLimit        int    `koanf:"due_queue_limit"`
	LeaderboardSize      int    `koanf:"leaderboard_size"`
}

type BatchConfig struct {
	Size int `koanf:"size"`
}

type RetryConfig struct {
	MaxAttempts    uint          `koanf:"max_attempts"`
	InitialWait    time.Duration `koanf:"initial_wait"`
	MaxWait        time.Duration `koanf:"max_wait"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
}

type CacheConfig struct {
	TTL  time.Duration `koanf:"ttl"`
	Size int           `koanf:"size"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type TelegramConfig struct {
	Token string `koanf:"token"`
	Debug bool   `koanf:"debug"`
}

// JobsConfig schedules the maintenance jobs. Times are UTC "HH:MM".
type JobsConfig struct {
	Enabled           bool    `koanf:"enabled"`
	RecomputeAt       string  `koanf:"recompute_at"`
	WeeklyResetAt     string  `koanf:"weekly_reset_at"`
	ReminderStartHour int     `koanf:"reminder_start_hour"`
	ReminderEndHour   int     `koanf:"reminder_end_hour"`
	UsersPerSecond    float64 `koanf:"users_per_second"`
	SnapshotSize      int     `koanf:"snapshot_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "data/dentalsrs.db", MaxOpenConns: 1},
		Log:      LogConfig{Level: "info", Format: "json"},
		Study: StudyConfig{
			MasteryThresholdDays: 7,
			MaxIntervalDays:      365,
			ScoringMode:          "flat",
			FlatPoints:           5,
			DueQueueLimit:        20,
			LeaderboardSize:      20,
		},
		Batch: BatchConfig{Size: 400},
		Retry: RetryConfig{
			MaxAttempts:    4,
			InitialWait:    100 * time.Millisecond,
			MaxWait:        2 * time.Second,
			AttemptTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{TTL: time.Minute, Size: 64},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Jobs: JobsConfig{
			Enabled:           true,
			RecomputeAt:       "03:00",
			WeeklyResetAt:     "00:00",
			ReminderStartHour: 8,
			ReminderEndHour:   22,
			UsersPerSecond:    50,
			SnapshotSize:      20,
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Batch.Size <= 0 || c.Batch.Size > 400 {
		return fmt.Errorf("batch.size must be in 1..400, got %d", c.Batch.Size)
	}
	if c.Study.MasteryThresholdDays <= 0 {
		return fmt.Errorf("study.mastery_threshold_days must be positive")
	}
	switch c.Study.ScoringMode {
	case "flat", "tiered":
	default:
		return fmt.Errorf("study.scoring_mode must be flat or tiered, got %q", c.Study.ScoringMode)
	}
	if c.Retry.MaxAttempts == 0 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Jobs.ReminderStartHour < 0 || c.Jobs.ReminderEndHour > 23 || c.Jobs.ReminderStartHour > c.Jobs.ReminderEndHour {
		return fmt.Errorf("invalid reminder window %d-%d", c.Jobs.ReminderStartHour, c.Jobs.ReminderEndHour)
	}
	return nil
}
