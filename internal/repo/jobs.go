// Package repo holds narrow, single-purpose query helpers around the job
// and run tables, grounded on the teacher's store/cron.go (thin methods
// per concern rather than one fat repository).
package repo

import (
	"context"
	"database/sql"
	"time"

	"jobrunner/internal/errs"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

// Jobs is the job-table repository.
type Jobs struct {
	db *store.DB
}

func NewJobs(db *store.DB) *Jobs { return &Jobs{db: db} }

func (j *Jobs) Insert(ctx context.Context, job *model.Job) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err := j.db.Conn().ExecContext(ctx, `
INSERT INTO jobs (id, name, schedule, script, type, description, enabled, timeout_ms,
	overlap_policy, on_failure_chan_id, on_success_chan_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Schedule, job.Script, string(job.Type), job.Description,
		job.Enabled, job.TimeoutMs, string(job.OverlapPolicy), job.OnFailureChanID, job.OnSuccessChanID,
		store.FormatTime(now), store.FormatTime(now))
	if err != nil {
		return errs.IO("repo.Jobs.Insert", err)
	}
	return nil
}

func (j *Jobs) Get(ctx context.Context, id string) (*model.Job, error) {
	row := j.db.Conn().QueryRowContext(ctx, `
SELECT id, name, schedule, script, type, description, enabled, timeout_ms,
	overlap_policy, on_failure_chan_id, on_success_chan_id, created_at, updated_at
FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.IO("repo.Jobs.Get", err)
	}
	return job, nil
}

// ListWithLastRun returns every job joined against its most recent run,
// for the GET /jobs endpoint (spec.md §6).
func (j *Jobs) ListWithLastRun(ctx context.Context) ([]*model.Job, error) {
	rows, err := j.db.Conn().QueryContext(ctx, `
SELECT j.id, j.name, j.schedule, j.script, j.type, j.description, j.enabled, j.timeout_ms,
	j.overlap_policy, j.on_failure_chan_id, j.on_success_chan_id, j.created_at, j.updated_at,
	r.status, r.started_at
FROM jobs j
LEFT JOIN runs r ON r.id = (
	SELECT id FROM runs WHERE job_id = j.id ORDER BY started_at DESC LIMIT 1
)
ORDER BY j.id`)
	if err != nil {
		return nil, errs.IO("repo.Jobs.ListWithLastRun", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var (
			job                   model.Job
			typ, overlap          string
			timeoutMs             sql.NullInt64
			createdAt, updatedAt  string
			lastStatus, lastRunAt sql.NullString
		)
		if err := rows.Scan(&job.ID, &job.Name, &job.Schedule, &job.Script, &typ, &job.Description,
			&job.Enabled, &timeoutMs, &overlap, &job.OnFailureChanID, &job.OnSuccessChanID,
			&createdAt, &updatedAt, &lastStatus, &lastRunAt); err != nil {
			return nil, errs.IO("repo.Jobs.ListWithLastRun", err)
		}
		job.Type = model.JobType(typ)
		job.OverlapPolicy = model.OverlapPolicy(overlap)
		if timeoutMs.Valid {
			job.TimeoutMs = &timeoutMs.Int64
		}
		if t, err := store.ParseTime(createdAt); err == nil {
			job.CreatedAt = t
		}
		if t, err := store.ParseTime(updatedAt); err == nil {
			job.UpdatedAt = t
		}
		if lastStatus.Valid {
			job.LastStatus = model.RunStatus(lastStatus.String)
		}
		if lastRunAt.Valid {
			if t, err := store.ParseTime(lastRunAt.String); err == nil {
				job.LastRunAt = &t
			}
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (j *Jobs) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := j.db.Conn().ExecContext(ctx,
		`UPDATE jobs SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, store.FormatTime(time.Now()), id)
	if err != nil {
		return errs.IO("repo.Jobs.SetEnabled", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.IO("repo.Jobs.SetEnabled", err)
	}
	if n == 0 {
		return errs.NotFound("repo.Jobs.SetEnabled", nil)
	}
	return nil
}

// Count returns the total number of job rows, for GET /stats.
func (j *Jobs) Count(ctx context.Context) (int, error) {
	var n int
	row := j.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`)
	if err := row.Scan(&n); err != nil {
		return 0, errs.IO("repo.Jobs.Count", err)
	}
	return n, nil
}

// Enabled returns every enabled job, for cron registry reconciliation.
func (j *Jobs) Enabled(ctx context.Context) ([]*model.Job, error) {
	rows, err := j.db.Conn().QueryContext(ctx, `
SELECT id, name, schedule, script, type, description, enabled, timeout_ms,
	overlap_policy, on_failure_chan_id, on_success_chan_id, created_at, updated_at
FROM jobs WHERE enabled = 1`)
	if err != nil {
		return nil, errs.IO("repo.Jobs.Enabled", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, errs.IO("repo.Jobs.Enabled", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                  model.Job
		typ, overlap         string
		timeoutMs            sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.ID, &job.Name, &job.Schedule, &job.Script, &typ, &job.Description,
		&job.Enabled, &timeoutMs, &overlap, &job.OnFailureChanID, &job.OnSuccessChanID,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Type = model.JobType(typ)
	job.OverlapPolicy = model.OverlapPolicy(overlap)
	if timeoutMs.Valid {
		job.TimeoutMs = &timeoutMs.Int64
	}
	if t, err := store.ParseTime(createdAt); err == nil {
		job.CreatedAt = t
	}
	if t, err := store.ParseTime(updatedAt); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

func scanJobRows(rows *sql.Rows) (*model.Job, error) {
	return scanJob(rows)
}
