// Package state implements the namespaced scalar KV + TTL store and its
// grouped-items ("collection") sub-store, both backed by the shared
// *store.DB (spec.md §3, §4.2, property P2).
package state

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"jobrunner/internal/errs"
	"jobrunner/internal/store"
)

// Engine is the state/state-items store.
type Engine struct {
	db *store.DB
}

func New(db *store.DB) *Engine {
	return &Engine{db: db}
}

var ttlRe = regexp.MustCompile(`^([0-9]+)([dhm])$`)

// ParseTTL parses the "<n><d|h|m>" grammar from spec.md §4.2, returning a
// ConfigError on any other form.
func ParseTTL(ttl string) (time.Duration, error) {
	m := ttlRe.FindStringSubmatch(ttl)
	if m == nil {
		return 0, errs.Config("state.ParseTTL", fmt.Errorf("malformed TTL %q, want <n>d|h|m", ttl))
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, errs.Config("state.ParseTTL", fmt.Errorf("malformed TTL %q, want positive integer", ttl))
	}
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	}
	return 0, errs.Config("state.ParseTTL", fmt.Errorf("malformed TTL %q", ttl))
}

// Get returns the value at (ns, key) iff the row exists and has not
// expired (spec.md §4.2, property P2).
func (e *Engine) Get(ctx context.Context, ns, key string) (*string, error) {
	var value sql.NullString
	var expiresAt sql.NullString
	row := e.db.Conn().QueryRowContext(ctx,
		`SELECT value, expires_at FROM state WHERE namespace = ? AND key = ?`, ns, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.IO("state.Get", err)
	}
	if expiresAt.Valid {
		exp, err := store.ParseTime(expiresAt.String)
		if err != nil {
			return nil, errs.IO("state.Get", err)
		}
		if !time.Now().Before(exp) {
			return nil, nil
		}
	}
	if !value.Valid {
		return nil, nil
	}
	v := value.String
	return &v, nil
}

// Set upserts (ns, key, value) with an optional TTL, computed to an
// absolute expires_at at write time.
func (e *Engine) Set(ctx context.Context, ns, key string, value *string, ttl *time.Duration) error {
	now := time.Now()
	var expiresAt *string
	if ttl != nil {
		exp := now.Add(*ttl)
		expiresAt = store.FormatTimePtr(&exp)
	}
	_, err := e.db.Conn().ExecContext(ctx, `
INSERT INTO state (namespace, key, value, expires_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET
	value = excluded.value,
	expires_at = excluded.expires_at,
	updated_at = excluded.updated_at`,
		ns, key, value, expiresAt, store.FormatTime(now))
	if err != nil {
		return errs.IO("state.Set", err)
	}
	return nil
}

// Delete removes the row at (ns, key), cascading to its items.
func (e *Engine) Delete(ctx context.Context, ns, key string) error {
	_, err := e.db.Conn().ExecContext(ctx, `DELETE FROM state WHERE namespace = ? AND key = ?`, ns, key)
	if err != nil {
		return errs.IO("state.Delete", err)
	}
	return nil
}

// Namespaces lists distinct namespaces with row counts — an introspection
// call supplemental to the core contract (SPEC_FULL.md).
type NamespaceCount struct {
	Namespace string `json:"namespace"`
	Count     int64  `json:"count"`
}

func (e *Engine) Namespaces(ctx context.Context) ([]NamespaceCount, error) {
	rows, err := e.db.Conn().QueryContext(ctx,
		`SELECT namespace, COUNT(*) FROM state GROUP BY namespace ORDER BY namespace`)
	if err != nil {
		return nil, errs.IO("state.Namespaces", err)
	}
	defer rows.Close()

	var out []NamespaceCount
	for rows.Next() {
		var nc NamespaceCount
		if err := rows.Scan(&nc.Namespace, &nc.Count); err != nil {
			return nil, errs.IO("state.Namespaces", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

// HasItem reports whether (ns, key, itemKey) exists.
func (e *Engine) HasItem(ctx context.Context, ns, key, itemKey string) (bool, error) {
	var one int
	row := e.db.Conn().QueryRowContext(ctx,
		`SELECT 1 FROM state_items WHERE namespace = ? AND key = ? AND item_key = ?`, ns, key, itemKey)
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, errs.IO("state.HasItem", err)
	}
	return true, nil
}

// GetItem returns the value of (ns, key, itemKey), or nil if absent.
func (e *Engine) GetItem(ctx context.Context, ns, key, itemKey string) (*string, error) {
	var value sql.NullString
	row := e.db.Conn().QueryRowContext(ctx,
		`SELECT value FROM state_items WHERE namespace = ? AND key = ? AND item_key = ?`, ns, key, itemKey)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.IO("state.GetItem", err)
	}
	if !value.Valid {
		return nil, nil
	}
	v := value.String
	return &v, nil
}

// SetItem idempotently ensures a parent state row exists (value NULL) then
// upserts the item (spec.md §4.2).
func (e *Engine) SetItem(ctx context.Context, ns, key, itemKey string, value *string) error {
	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := store.FormatTime(time.Now())
		if _, err := tx.ExecContext(ctx, `
INSERT INTO state (namespace, key, value, expires_at, updated_at)
VALUES (?, ?, NULL, NULL, ?)
ON CONFLICT(namespace, key) DO NOTHING`, ns, key, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO state_items (namespace, key, item_key, value, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(namespace, key, item_key) DO UPDATE SET
	value = excluded.value,
	updated_at = excluded.updated_at`, ns, key, itemKey, value, now)
		return err
	})
}

// DeleteItem removes one (ns, key, itemKey) row.
func (e *Engine) DeleteItem(ctx context.Context, ns, key, itemKey string) error {
	_, err := e.db.Conn().ExecContext(ctx,
		`DELETE FROM state_items WHERE namespace = ? AND key = ? AND item_key = ?`, ns, key, itemKey)
	if err != nil {
		return errs.IO("state.DeleteItem", err)
	}
	return nil
}

// CountItems returns the number of items under (ns, key).
func (e *Engine) CountItems(ctx context.Context, ns, key string) (int64, error) {
	var n int64
	row := e.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM state_items WHERE namespace = ? AND key = ?`, ns, key)
	if err := row.Scan(&n); err != nil {
		return 0, errs.IO("state.CountItems", err)
	}
	return n, nil
}

// PruneItems deletes items for (ns, key) not among the keepCount most
// recent by updated_at DESC, returning the number deleted.
func (e *Engine) PruneItems(ctx context.Context, ns, key string, keepCount int) (int64, error) {
	res, err := e.db.Conn().ExecContext(ctx, `
DELETE FROM state_items
WHERE namespace = ? AND key = ? AND item_key NOT IN (
	SELECT item_key FROM state_items
	WHERE namespace = ? AND key = ?
	ORDER BY updated_at DESC
	LIMIT ?
)`, ns, key, ns, key, keepCount)
	if err != nil {
		return 0, errs.IO("state.PruneItems", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.IO("state.PruneItems", err)
	}
	return n, nil
}

// ListItemKeys lists item_keys for (ns, key) ordered by updated_at.
func (e *Engine) ListItemKeys(ctx context.Context, ns, key string, limit int, order string) ([]string, error) {
	if order != "asc" {
		order = "desc"
	}
	q := fmt.Sprintf(`SELECT item_key FROM state_items WHERE namespace = ? AND key = ? ORDER BY updated_at %s`, order)
	args := []any{ns, key}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := e.db.Conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.IO("state.ListItemKeys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errs.IO("state.ListItemKeys", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ExpireSweep deletes state rows whose expires_at is in the past, for the
// maintenance controller (spec.md §4.8).
func (e *Engine) ExpireSweep(ctx context.Context) (int64, error) {
	res, err := e.db.Conn().ExecContext(ctx,
		`DELETE FROM state WHERE expires_at IS NOT NULL AND expires_at < ?`,
		store.FormatTime(time.Now()))
	if err != nil {
		return 0, errs.IO("state.ExpireSweep", err)
	}
	return res.RowsAffected()
}
