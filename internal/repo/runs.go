package repo

import (
	"context"
	"database/sql"
	"time"

	"jobrunner/internal/errs"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

// Runs is the run-table repository.
type Runs struct {
	db *store.DB
}

func NewRuns(db *store.DB) *Runs { return &Runs{db: db} }

// Open inserts a run row with status=running, started_at=now, and the
// supplied trigger (spec.md §4.7 step 3). Returns the new run id.
func (r *Runs) Open(ctx context.Context, jobID string, trigger model.Trigger) (int64, error) {
	res, err := r.db.Conn().ExecContext(ctx, `
INSERT INTO runs (job_id, status, started_at, trigger) VALUES (?, ?, ?, ?)`,
		jobID, string(model.RunRunning), store.FormatTime(time.Now()), string(trigger))
	if err != nil {
		return 0, errs.IO("repo.Runs.Open", err)
	}
	return res.LastInsertId()
}

// Close updates a run row to its terminal status (spec.md §4.7 step 5).
func (r *Runs) Close(ctx context.Context, id int64, result model.Run) error {
	_, err := r.db.Conn().ExecContext(ctx, `
UPDATE runs SET status = ?, finished_at = ?, duration_ms = ?, exit_code = ?, tokens = ?,
	result_meta = ?, error = ?, stdout_tail = ?, stderr_tail = ?
WHERE id = ?`,
		string(result.Status), store.FormatTime(time.Now()), result.DurationMs, result.ExitCode,
		result.Tokens, result.ResultMeta, result.Error, result.StdoutTail, result.StderrTail, id)
	if err != nil {
		return errs.IO("repo.Runs.Close", err)
	}
	return nil
}

// ListForJob returns the most recent runs for a job, newest first.
func (r *Runs) ListForJob(ctx context.Context, jobID string, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Conn().QueryContext(ctx, `
SELECT id, job_id, status, started_at, finished_at, duration_ms, exit_code, tokens,
	result_meta, error, stdout_tail, stderr_tail, trigger
FROM runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, errs.IO("repo.Runs.ListForJob", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errs.IO("repo.Runs.ListForJob", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountSince counts runs with the given status started at or after since,
// for GET /stats' okLastHour / errorsLastHour.
func (r *Runs) CountSince(ctx context.Context, status model.RunStatus, since time.Time) (int, error) {
	var n int
	row := r.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ? AND started_at >= ?`,
		string(status), store.FormatTime(since))
	if err := row.Scan(&n); err != nil {
		return 0, errs.IO("repo.Runs.CountSince", err)
	}
	return n, nil
}

// RetentionSweep deletes runs started before the retention cutoff
// (spec.md §4.8).
func (r *Runs) RetentionSweep(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	res, err := r.db.Conn().ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ?`, store.FormatTime(cutoff))
	if err != nil {
		return 0, errs.IO("repo.Runs.RetentionSweep", err)
	}
	return res.RowsAffected()
}

func scanRun(rows *sql.Rows) (*model.Run, error) {
	var (
		run                model.Run
		status, trigger    string
		startedAt          string
		finishedAt         sql.NullString
		durationMs, tokens sql.NullInt64
		exitCode           sql.NullInt64
	)
	if err := rows.Scan(&run.ID, &run.JobID, &status, &startedAt, &finishedAt, &durationMs, &exitCode,
		&tokens, &run.ResultMeta, &run.Error, &run.StdoutTail, &run.StderrTail, &trigger); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	run.Trigger = model.Trigger(trigger)
	if t, err := store.ParseTime(startedAt); err == nil {
		run.StartedAt = t
	}
	if finishedAt.Valid {
		if t, err := store.ParseTime(finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	if durationMs.Valid {
		run.DurationMs = &durationMs.Int64
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		run.ExitCode = &v
	}
	if tokens.Valid {
		run.Tokens = &tokens.Int64
	}
	return &run, nil
}
