package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"

	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

type DB struct {
	*sqlx.DB
	sem *semaphore.Weighted
}

// NewDB creates a new database connection pool
func NewDB(cfg *config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.Connect("pgx", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		DB:  db,
		sem: semaphore.NewWeighted(4), // Limit to 4 concurrent transactions
	}, nil
}

func dsn(cfg *config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// WithTx executes a function within a transaction
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	// Acquire semaphore
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer db.sem.Release(1)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logger.Log.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS migration_runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	destination TEXT NOT NULL,
	state       TEXT NOT NULL,
	dry_run     BOOLEAN NOT NULL DEFAULT FALSE,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS pool_reports (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES migration_runs(id) ON DELETE CASCADE,
	position    INT NOT NULL,
	pool        TEXT NOT NULL,
	attempted   INT NOT NULL DEFAULT 0,
	succeeded   INT NOT NULL DEFAULT 0,
	failed      INT NOT NULL DEFAULT 0,
	bytes       BIGINT NOT NULL DEFAULT 0,
	skipped     BOOLEAN NOT NULL DEFAULT FALSE,
	interrupted BOOLEAN NOT NULL DEFAULT FALSE,
	pool_error  TEXT NOT NULL DEFAULT '',
	list_error  TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, pool)
)`,

	`CREATE TABLE IF NOT EXISTS object_failures (
	id             BIGSERIAL PRIMARY KEY,
	pool_report_id BIGINT NOT NULL REFERENCES pool_reports(id) ON DELETE CASCADE,
	object_key     TEXT NOT NULL,
	error          TEXT NOT NULL
)`,

	`CREATE INDEX IF NOT EXISTS migration_runs_started_at_idx ON migration_runs (started_at DESC)`,
}

// EnsureSchema creates the history tables when missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
