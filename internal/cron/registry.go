// Package cron maintains the in-memory {jobId -> schedule} registry and
// reconciles it against the store (spec.md §4.6, property P7).
package cron

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	robfigcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

// OnScheduledRun is the callback the scheduler supplies at construction —
// the dependency-inversion named in spec.md §9 so the registry never
// reaches back into scheduler internals.
type OnScheduledRun func(jobID string)

// Registry maintains {jobId -> bound cron.EntryID + last known schedule}
// plus a set of ids whose last registration attempt failed, grounded on
// the teacher's cron/scheduler.go (specs/entries/images maps -> tokens/
// entries/failed here).
type Registry struct {
	cron   *robfigcron.Cron
	db     *store.DB
	log    *zap.Logger
	onFire OnScheduledRun
	parser robfigcron.Parser

	mu      sync.Mutex
	tokens  map[string]string
	entries map[string]robfigcron.EntryID
	failed  map[string]bool
}

func New(db *store.DB, log *zap.Logger, onFire OnScheduledRun) *Registry {
	parser := robfigcron.NewParser(
		robfigcron.SecondOptional | robfigcron.Minute | robfigcron.Hour |
			robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
	)
	return &Registry{
		cron:    robfigcron.New(robfigcron.WithParser(parser)),
		db:      db,
		log:     log,
		onFire:  onFire,
		parser:  parser,
		tokens:  make(map[string]string),
		entries: make(map[string]robfigcron.EntryID),
		failed:  make(map[string]bool),
	}
}

// ValidateSchedule parses a cron token without registering it (used at
// job insert time per spec.md §6).
func (r *Registry) ValidateSchedule(schedule string) error {
	_, err := r.parser.Parse(schedule)
	return err
}

func (r *Registry) Start() { r.cron.Start() }

func (r *Registry) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// ReconcileResult is the summary Reconcile returns (spec.md §4.6).
type ReconcileResult struct {
	TotalEnabled int
	FailedIDs    []string
}

// Reconcile implements the four-step algorithm in spec.md §4.6.
func (r *Registry) Reconcile(ctx context.Context, enabled []*model.Job) ReconcileResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := make(map[string]*model.Job, len(enabled))
	for _, j := range enabled {
		loaded[j.ID] = j
	}

	for id, entryID := range r.entries {
		if _, ok := loaded[id]; !ok {
			r.cron.Remove(entryID)
			delete(r.entries, id)
			delete(r.tokens, id)
		}
	}
	for id := range r.failed {
		if _, ok := loaded[id]; !ok {
			delete(r.failed, id)
		}
	}

	for id, job := range loaded {
		entryID, registered := r.entries[id]
		if !registered {
			r.register(job)
			continue
		}
		if r.tokens[id] != job.Schedule {
			r.cron.Remove(entryID)
			delete(r.entries, id)
			r.register(job)
		}
	}

	var failedIDs []string
	for id := range r.failed {
		failedIDs = append(failedIDs, id)
	}

	return ReconcileResult{TotalEnabled: len(enabled), FailedIDs: failedIDs}
}

// register attempts to add a cron entry for job, logging and recording
// the failure on a schedule-parse error rather than aborting reconciliation
// of the rest of the set (spec.md §4.6).
func (r *Registry) register(job *model.Job) {
	jobID := job.ID
	entryID, err := r.cron.AddFunc(job.Schedule, func() {
		r.fire(jobID)
	})
	if err != nil {
		r.log.Error("cron: failed to register job", zap.String("jobId", jobID), zap.String("schedule", job.Schedule), zap.Error(err))
		r.failed[jobID] = true
		return
	}
	r.entries[jobID] = entryID
	r.tokens[jobID] = job.Schedule
	delete(r.failed, jobID)
}

// fire re-reads the job row before invoking onFire, defeating stale
// in-memory closures per spec.md §4.6, property P7.
func (r *Registry) fire(jobID string) {
	job, err := r.reload(jobID)
	if err != nil {
		r.log.Error("cron: reload before fire", zap.String("jobId", jobID), zap.Error(err))
		return
	}
	if job == nil || !job.Enabled {
		r.log.Info("cron: skip fire, job missing or disabled", zap.String("jobId", jobID))
		return
	}
	r.onFire(jobID)
}

func (r *Registry) reload(jobID string) (*model.Job, error) {
	row := r.db.Conn().QueryRow(`SELECT enabled FROM jobs WHERE id = ? AND enabled = 1`, jobID)
	var enabled bool
	if err := row.Scan(&enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &model.Job{ID: jobID, Enabled: enabled}, nil
}

// GetFailedRegistrations exposes the failed set (spec.md §4.6).
func (r *Registry) GetFailedRegistrations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []string{}
	for id := range r.failed {
		ids = append(ids, id)
	}
	return ids
}
