package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"jobrunner/internal/errs"
)

// migration is one forward-only DDL/DML step, keyed by an integer version.
// Name is carried alongside the version in schema_version for
// introspection (spec.md §4.1, supplemented per SPEC_FULL.md).
type migration struct {
	Version int
	Name    string
	Stmt    string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Stmt: `
CREATE TABLE jobs (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	schedule            TEXT NOT NULL,
	script              TEXT NOT NULL,
	type                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	enabled             INTEGER NOT NULL DEFAULT 1,
	timeout_ms          INTEGER,
	overlap_policy      TEXT NOT NULL DEFAULT 'skip',
	on_failure_chan_id  TEXT NOT NULL DEFAULT '',
	on_success_chan_id  TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);

CREATE TABLE runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id        TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT,
	duration_ms   INTEGER,
	exit_code     INTEGER,
	tokens        INTEGER,
	result_meta   TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	stdout_tail   TEXT NOT NULL DEFAULT '',
	stderr_tail   TEXT NOT NULL DEFAULT '',
	trigger       TEXT NOT NULL
);
CREATE INDEX idx_runs_job_id_started_at ON runs(job_id, started_at DESC);
CREATE INDEX idx_runs_started_at ON runs(started_at);

CREATE TABLE state (
	namespace   TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       TEXT,
	expires_at  TEXT,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX idx_state_expires_at ON state(expires_at);

CREATE TABLE state_items (
	namespace   TEXT NOT NULL,
	key         TEXT NOT NULL,
	item_key    TEXT NOT NULL,
	value       TEXT,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (namespace, key, item_key),
	FOREIGN KEY (namespace, key) REFERENCES state(namespace, key) ON DELETE CASCADE
);
CREATE INDEX idx_state_items_updated_at ON state_items(namespace, key, updated_at DESC);

CREATE TABLE queue_defs (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	dedup_expr     TEXT NOT NULL DEFAULT '',
	dedup_scope    TEXT NOT NULL DEFAULT 'pending',
	max_attempts   INTEGER NOT NULL DEFAULT 1,
	retention_days INTEGER NOT NULL DEFAULT 7
);

CREATE TABLE queue_items (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_id      TEXT NOT NULL,
	payload       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 1,
	dedup_key     TEXT,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	claimed_at    TEXT,
	finished_at   TEXT
);
CREATE INDEX idx_queue_items_dequeue ON queue_items(queue_id, status, priority DESC, created_at ASC);
CREATE INDEX idx_queue_items_dedup ON queue_items(queue_id, dedup_key, status);
CREATE INDEX idx_queue_items_retention ON queue_items(status, finished_at);
`,
	},
}

// migrate applies every registered migration with version greater than the
// current max(version) in schema_version, in ascending order, each inside
// its own atomic batch (spec.md §4.1, property P1).
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	applied_at  TEXT NOT NULL
);`); err != nil {
		return errs.IO("store.migrate", fmt.Errorf("create schema_version: %w", err))
	}

	current, err := db.currentVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return errs.IO("store.migrate", fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err))
		}
		if db.log != nil {
			db.log.Info("store: applied migration", zap.Int("version", m.Version), zap.String("name", m.Name))
		}
	}
	return nil
}

func (db *DB) currentVersion(ctx context.Context) (int, error) {
	var current sql.NullInt64
	row := db.sql.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return 0, errs.IO("store.currentVersion", err)
	}
	if !current.Valid {
		return 0, nil
	}
	return int(current.Int64), nil
}

func (db *DB) applyMigration(ctx context.Context, m migration) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Stmt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, datetime('now'))`,
			m.Version, m.Name,
		)
		return err
	})
}
