package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is a connection to the document store, SQLite or PostgreSQL.
type DB struct {
	*sqlx.DB
}

// Connect opens the database, applies pool settings and creates the schema.
func Connect(ctx context.Context, driver, dsn string, maxOpenConns int) (*DB, error) {
	if driver == "sqlite3" && !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite3" {
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	} else {
		if maxOpenConns <= 0 {
			maxOpenConns = 10
		}
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	d := &DB{DB: db}
	if err := d.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Ping checks that the store is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return classify("ping", d.PingContext(ctx))
}

var schema = []struct {
	name string
	ddl  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			nickname TEXT NOT NULL DEFAULT '',
			telegram_id BIGINT UNIQUE,
			show_on_leaderboard BOOLEAN NOT NULL DEFAULT TRUE,
			new_cards_per_day INTEGER NOT NULL DEFAULT 10,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`},
	{"questions", `
		CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			answer TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`},
	{"user_cards", `
		CREATE TABLE IF NOT EXISTS user_cards (
			user_id TEXT NOT NULL,
			question_id TEXT NOT NULL,
			repetitions INTEGER NOT NULL DEFAULT 0,
			ease_factor DOUBLE PRECISION NOT NULL DEFAULT 2.5,
			interval_days INTEGER NOT NULL DEFAULT 0,
			due_date TIMESTAMP NOT NULL,
			last_studied TIMESTAMP,
			total_attempts INTEGER NOT NULL DEFAULT 0,
			correct_attempts INTEGER NOT NULL DEFAULT 0,
			last_quality INTEGER NOT NULL DEFAULT 0,
			average_quality DOUBLE PRECISION NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 0,
			history TEXT NOT NULL DEFAULT '[]',
			points INTEGER NOT NULL DEFAULT 0,
			week_points INTEGER NOT NULL DEFAULT 0,
			week_start TIMESTAMP NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, question_id)
		)`},
	{"user_cards due index", `
		CREATE INDEX IF NOT EXISTS idx_user_cards_due ON user_cards (user_id, due_date)`},
	{"user_stats", `
		CREATE TABLE IF NOT EXISTS user_stats (
			user_id TEXT PRIMARY KEY,
			total_cards INTEGER NOT NULL DEFAULT 0,
			mastered_cards INTEGER NOT NULL DEFAULT 0,
			total_points INTEGER NOT NULL DEFAULT 0,
			weekly_points INTEGER NOT NULL DEFAULT 0,
			week_start TIMESTAMP NOT NULL,
			mastery_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL,
			last_review_id TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1
		)`},
	{"user_stats weekly index", `
		CREATE INDEX IF NOT EXISTS idx_user_stats_weekly ON user_stats (weekly_points DESC)`},
	{"user_stats total index", `
		CREATE INDEX IF NOT EXISTS idx_user_stats_total ON user_stats (total_points DESC)`},
	{"weekly_rankings", `
		CREATE TABLE IF NOT EXISTS weekly_rankings (
			week_id TEXT PRIMARY KEY,
			week_start TIMESTAMP NOT NULL,
			week_end TIMESTAMP NOT NULL,
			total_participants INTEGER NOT NULL DEFAULT 0,
			taken_at TIMESTAMP NOT NULL
		)`},
	{"user_rankings", `
		CREATE TABLE IF NOT EXISTS user_rankings (
			week_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			rank INTEGER NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			weekly_points INTEGER NOT NULL DEFAULT 0,
			total_points INTEGER NOT NULL DEFAULT 0,
			mastery_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			mastery_level TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (week_id, user_id)
		)`},
	{"job_checkpoints", `
		CREATE TABLE IF NOT EXISTS job_checkpoints (
			job TEXT PRIMARY KEY,
			cursor TEXT NOT NULL DEFAULT '',
			chunk INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`},
}

// initializeSchema creates necessary tables if they don't exist
func (d *DB) initializeSchema(ctx context.Context) error {
	for _, s := range schema {
		if _, err := d.ExecContext(ctx, s.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}

// Timestamp normalises a time for storage: UTC, microsecond precision.
// Both drivers then round-trip it exactly and SQLite's text timestamps
// compare in time order.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (d *DB) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return classify(op, tx.Commit())
}
