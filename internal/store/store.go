// Package store owns the embedded SQLite database: file/parent-directory
// creation, WAL + foreign-key pragmas, and the forward-only migration
// ledger. It is the sole source of truth for jobs, runs, state, state
// items, queue definitions, and queue items (spec.md §3, §4.1).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"jobrunner/internal/errs"
)

// DB wraps the underlying *sql.DB with the atomic-batch primitive the rest
// of the core builds on.
type DB struct {
	sql *sql.DB
	log *zap.Logger
}

// Open creates the database file and parent directory if missing, enables
// WAL and foreign-key enforcement, and applies pending migrations.
func Open(path string, log *zap.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errs.IO("store.Open", fmt.Errorf("mkdir %s: %w", dir, err))
			}
		}
	}

	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.IO("store.Open", err)
	}
	sqlDB.SetMaxOpenConns(1) // single-writer SQLite; serialize at the pool too

	if _, err := sqlDB.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		sqlDB.Close()
		return nil, errs.IO("store.Open", fmt.Errorf("enable WAL: %w", err))
	}
	if _, err := sqlDB.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		sqlDB.Close()
		return nil, errs.IO("store.Open", fmt.Errorf("enable foreign_keys: %w", err))
	}

	db := &DB{sql: sqlDB, log: log}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Conn exposes the underlying *sql.DB for packages (state, queue, repo)
// that run their own statements against the shared store.
func (db *DB) Conn() *sql.DB { return db.sql }

// WithTx runs fn inside a single write transaction, committing on success
// and rolling back on any error — the atomic-batch primitive migrations
// and the queue's dequeue operation build on.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return errs.IO("store.WithTx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.IO("store.WithTx", err)
	}
	return nil
}
