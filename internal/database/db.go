package database

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/lib/pq"

	"todoapp/internal/config"
	"todoapp/pkg/logger"
)

var (
	pool *sql.DB
	once sync.Once
)

// DB returns the global database connection pool (initialized on first use).
// It returns nil when DATABASE_URL is unset or the driver rejects it.
func DB(ctx context.Context) *sql.DB {
	once.Do(func() {
		cfg := config.Get()
		if cfg.DatabaseURL == "" {
			logger.Error(ctx, "DATABASE_URL is not set")
			return
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error(ctx, "Failed to open database", "error", err)
			return
		}
		db.SetMaxOpenConns(cfg.DBPoolSize)
		db.SetMaxIdleConns(cfg.DBPoolSize / 2)
		pool = db
		logger.Info(ctx, "Database pool initialized", "max_open", cfg.DBPoolSize)
	})
	return pool
}

const schema = `
CREATE TABLE IF NOT EXISTS todos (
	partition_key    TEXT    NOT NULL,
	row_key          TEXT    NOT NULL,
	task_description TEXT    NOT NULL DEFAULT '',
	is_completed     BOOLEAN NOT NULL DEFAULT FALSE,
	version          BIGINT  NOT NULL DEFAULT 1,
	PRIMARY KEY (partition_key, row_key)
)`

// MigrateOrCreateSchema creates the todos table if it is missing.
func MigrateOrCreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		logger.Error(ctx, "Schema creation failed", "error", err)
		return err
	}
	return nil
}
