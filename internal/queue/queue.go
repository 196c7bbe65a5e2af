// Package queue implements the durable work queue: enqueue with optional
// dedup, claim-based dequeue, and retry-or-dead-letter on failure
// (spec.md §3, §4.3, invariants I3-I5, properties P3-P5).
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"jobrunner/internal/errs"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

// Engine is the queue-definitions + queue-items store.
type Engine struct {
	db *store.DB
}

func New(db *store.DB) *Engine {
	return &Engine{db: db}
}

// EnqueueOpts carries the optional overrides named in spec.md §4.3.
type EnqueueOpts struct {
	MaxAttempts *int
	Priority    *int
}

// gjsonPath translates the dollar-rooted path-expression syntax named in
// spec.md §4.3 ("$.threadId", "$.items[0].id") into gjson's dotted path
// syntax ("threadId", "items.0.id").
func gjsonPath(expr string) string {
	p := strings.TrimPrefix(expr, "$.")
	p = strings.TrimPrefix(p, "$")
	p = strings.ReplaceAll(p, "[", ".")
	p = strings.ReplaceAll(p, "]", "")
	return p
}

func (e *Engine) lookupDef(ctx context.Context, queueID string) (*model.QueueDef, error) {
	var d model.QueueDef
	row := e.db.Conn().QueryRowContext(ctx, `
SELECT id, name, dedup_expr, dedup_scope, max_attempts, retention_days
FROM queue_defs WHERE id = ?`, queueID)
	if err := row.Scan(&d.ID, &d.Name, &d.DedupExpr, &d.DedupScope, &d.MaxAttempts, &d.RetentionDays); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.IO("queue.lookupDef", err)
	}
	return &d, nil
}

// dedupStatuses returns the set of statuses that participate in duplicate
// detection for the given scope (invariant I4).
func dedupStatuses(scope model.DedupScope) []model.QueueItemStatus {
	switch scope {
	case model.DedupScopeAll:
		return []model.QueueItemStatus{model.QueueItemPending, model.QueueItemProcessing, model.QueueItemDone}
	default:
		return []model.QueueItemStatus{model.QueueItemPending, model.QueueItemProcessing}
	}
}

// Enqueue implements the four-step algorithm in spec.md §4.3. It returns
// the new item id, or model.EnqueueSkipped (-1) if a duplicate was found.
func (e *Engine) Enqueue(ctx context.Context, queueID string, payload string, opts EnqueueOpts) (int64, error) {
	def, err := e.lookupDef(ctx, queueID)
	if err != nil {
		return 0, err
	}

	maxAttempts := model.DefaultMaxAttempts
	dedupExpr := ""
	dedupScope := model.DedupScopePending
	if def != nil {
		maxAttempts = def.MaxAttempts
		dedupExpr = def.DedupExpr
		dedupScope = def.DedupScope
	}
	if opts.MaxAttempts != nil {
		maxAttempts = *opts.MaxAttempts
	}
	priority := 0
	if opts.Priority != nil {
		priority = *opts.Priority
	}

	var dedupKey *string
	if dedupExpr != "" {
		res := gjson.Get(payload, gjsonPath(dedupExpr))
		if res.Exists() {
			k := res.String()
			dedupKey = &k
		}
	}

	if dedupKey != nil {
		statuses := dedupStatuses(dedupScope)
		placeholders := make([]string, len(statuses))
		args := make([]any, 0, len(statuses)+2)
		args = append(args, queueID, *dedupKey)
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		q := fmt.Sprintf(`SELECT 1 FROM queue_items WHERE queue_id = ? AND dedup_key = ? AND status IN (%s) LIMIT 1`,
			strings.Join(placeholders, ","))
		var one int
		row := e.db.Conn().QueryRowContext(ctx, q, args...)
		if err := row.Scan(&one); err == nil {
			return model.EnqueueSkipped, nil
		} else if err != sql.ErrNoRows {
			return 0, errs.IO("queue.Enqueue", err)
		}
	}

	res, err := e.db.Conn().ExecContext(ctx, `
INSERT INTO queue_items (queue_id, payload, status, priority, attempts, max_attempts, dedup_key, created_at)
VALUES (?, ?, 'pending', ?, 0, ?, ?, ?)`,
		queueID, payload, priority, maxAttempts, dedupKey, store.FormatTime(time.Now()))
	if err != nil {
		return 0, errs.IO("queue.Enqueue", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.IO("queue.Enqueue", err)
	}
	return id, nil
}

// Claimed is one dequeued item.
type Claimed struct {
	ID      int64
	Payload string
}

// Dequeue atomically claims up to count pending items ordered by
// priority DESC, created_at ASC (invariant I3, property P3).
func (e *Engine) Dequeue(ctx context.Context, queueID string, count int) ([]Claimed, error) {
	var out []Claimed
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id, payload FROM queue_items
WHERE queue_id = ? AND status = 'pending'
ORDER BY priority DESC, created_at ASC
LIMIT ?`, queueID, count)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var c Claimed
			if err := rows.Scan(&c.ID, &c.Payload); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, c.ID)
			out = append(out, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		now := store.FormatTime(time.Now())
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
UPDATE queue_items SET status = 'processing', claimed_at = ?, attempts = attempts + 1
WHERE id = ?`, now, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.IO("queue.Dequeue", err)
	}
	return out, nil
}

// Done marks an item complete.
func (e *Engine) Done(ctx context.Context, id int64) error {
	_, err := e.db.Conn().ExecContext(ctx,
		`UPDATE queue_items SET status = 'done', finished_at = ? WHERE id = ?`,
		store.FormatTime(time.Now()), id)
	if err != nil {
		return errs.IO("queue.Done", err)
	}
	return nil
}

// Fail applies the retry-or-dead-letter transition in spec.md §4.3,
// invariant I5. Attempts are already incremented at dequeue time, so an
// item with max_attempts=N gets exactly N dequeues before dead-letter.
func (e *Engine) Fail(ctx context.Context, id int64, errMsg string) error {
	var attempts, maxAttempts int
	row := e.db.Conn().QueryRowContext(ctx,
		`SELECT attempts, max_attempts FROM queue_items WHERE id = ?`, id)
	if err := row.Scan(&attempts, &maxAttempts); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return errs.IO("queue.Fail", err)
	}

	var err error
	if attempts < maxAttempts {
		_, err = e.db.Conn().ExecContext(ctx,
			`UPDATE queue_items SET status = 'pending', error = ? WHERE id = ?`, errMsg, id)
	} else {
		_, err = e.db.Conn().ExecContext(ctx,
			`UPDATE queue_items SET status = 'failed', error = ?, finished_at = ? WHERE id = ?`,
			errMsg, store.FormatTime(time.Now()), id)
	}
	if err != nil {
		return errs.IO("queue.Fail", err)
	}
	return nil
}

// Peek lists items without claiming them — read-only introspection for the
// HTTP layer (SPEC_FULL.md), grounded on Charansaivaddi-QueueCTL's
// `list`/`dlq list` CLI verbs re-expressed as a query.
func (e *Engine) Peek(ctx context.Context, queueID string, status model.QueueItemStatus, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, queue_id, payload, status, priority, attempts, max_attempts, dedup_key, error, created_at, claimed_at, finished_at
FROM queue_items WHERE queue_id = ?`
	args := []any{queueID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.Conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.IO("queue.Peek", err)
	}
	defer rows.Close()

	out := []model.QueueItem{}
	for rows.Next() {
		var it model.QueueItem
		var dedupKey sql.NullString
		var claimedAt, finishedAt, createdAt sql.NullString
		if err := rows.Scan(&it.ID, &it.QueueID, &it.Payload, &it.Status, &it.Priority, &it.Attempts,
			&it.MaxAttempts, &dedupKey, &it.Error, &createdAt, &claimedAt, &finishedAt); err != nil {
			return nil, errs.IO("queue.Peek", err)
		}
		if dedupKey.Valid {
			it.DedupKey = &dedupKey.String
		}
		if createdAt.Valid {
			if t, err := store.ParseTime(createdAt.String); err == nil {
				it.CreatedAt = t
			}
		}
		if claimedAt.Valid {
			if t, err := store.ParseTime(claimedAt.String); err == nil {
				it.ClaimedAt = &t
			}
		}
		if finishedAt.Valid {
			if t, err := store.ParseTime(finishedAt.String); err == nil {
				it.FinishedAt = &t
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// RetentionSweep deletes completed/failed items past their per-queue
// retention, for the maintenance controller (spec.md §4.8).
func (e *Engine) RetentionSweep(ctx context.Context) (int64, error) {
	rows, err := e.db.Conn().QueryContext(ctx, `
SELECT qi.id, qi.finished_at, qd.retention_days
FROM queue_items qi
LEFT JOIN queue_defs qd ON qd.id = qi.queue_id
WHERE qi.status IN ('done', 'failed') AND qi.finished_at IS NOT NULL`)
	if err != nil {
		return 0, errs.IO("queue.RetentionSweep", err)
	}

	type victim struct {
		id int64
	}
	var victims []victim
	now := time.Now()
	for rows.Next() {
		var id int64
		var finishedAt string
		var retentionDays sql.NullInt64
		if err := rows.Scan(&id, &finishedAt, &retentionDays); err != nil {
			rows.Close()
			return 0, errs.IO("queue.RetentionSweep", err)
		}
		days := model.DefaultRetentionDays
		if retentionDays.Valid {
			days = int(retentionDays.Int64)
		}
		ft, err := store.ParseTime(finishedAt)
		if err != nil {
			continue
		}
		if ft.Before(now.Add(-time.Duration(days) * 24 * time.Hour)) {
			victims = append(victims, victim{id: id})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, errs.IO("queue.RetentionSweep", err)
	}
	rows.Close()

	var deleted int64
	for _, v := range victims {
		if _, err := e.db.Conn().ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, v.id); err != nil {
			return deleted, errs.IO("queue.RetentionSweep", err)
		}
		deleted++
	}
	return deleted, nil
}

// DefineQueue seeds or updates a queue definition (normally immutable
// after seed per spec.md §3).
func (e *Engine) DefineQueue(ctx context.Context, def model.QueueDef) error {
	_, err := e.db.Conn().ExecContext(ctx, `
INSERT INTO queue_defs (id, name, dedup_expr, dedup_scope, max_attempts, retention_days)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	dedup_expr = excluded.dedup_expr,
	dedup_scope = excluded.dedup_scope,
	max_attempts = excluded.max_attempts,
	retention_days = excluded.retention_days`,
		def.ID, def.Name, def.DedupExpr, def.DedupScope, def.MaxAttempts, def.RetentionDays)
	if err != nil {
		return errs.IO("queue.DefineQueue", err)
	}
	return nil
}
