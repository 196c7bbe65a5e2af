// Package scheduler is the glue named in spec.md §4.7: concurrency cap,
// overlap policy, the trigger path (scheduled vs manual), run-record
// open/close, notification dispatch, and graceful shutdown.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobrunner/internal/cron"
	"jobrunner/internal/errs"
	"jobrunner/internal/exec"
	"jobrunner/internal/gateway"
	"jobrunner/internal/hub"
	"jobrunner/internal/model"
	"jobrunner/internal/notify"
	"jobrunner/internal/repo"
	"jobrunner/internal/store"
)

// Config carries the options in spec.md §6 the scheduler needs directly.
type Config struct {
	MaxConcurrency      int
	ReconcileIntervalMs int64
	ShutdownGraceMs     int64
	DBPath              string
	DefaultOnFailure    string
	DefaultOnSuccess    string
}

// Scheduler is the run controller: admission, overlap, executor dispatch,
// run-record lifecycle, notification dispatch (spec.md §4.7, §5).
type Scheduler struct {
	cfg      Config
	jobs     *repo.Jobs
	runs     *repo.Runs
	registry *cron.Registry
	script   *exec.Script
	session  *exec.Session
	notifier notify.Notifier
	hub      *hub.Hub
	log      *zap.Logger

	reconcileTimer *time.Timer
	stopReconcile  chan struct{}

	mu          sync.Mutex
	runningJobs map[string]bool
}

// New constructs the scheduler and the cron registry that calls back
// into it, per the explicit dependency-inversion in spec.md §9: the
// scheduler supplies onScheduledRun at registry construction and the
// registry never reaches back into scheduler internals.
func New(cfg Config, db *store.DB, jobs *repo.Jobs, runs *repo.Runs, notifier notify.Notifier, h *hub.Hub, log *zap.Logger, gw gateway.Client) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		jobs:        jobs,
		runs:        runs,
		notifier:    notifier,
		hub:         h,
		log:         log,
		script:      exec.NewScript(log),
		session:     exec.NewSession(gw, log),
		runningJobs: make(map[string]bool),
	}
	s.registry = cron.New(db, log, s.onScheduledRun)
	return s
}

func (s *Scheduler) Registry() *cron.Registry { return s.registry }

// Start runs the initial reconciliation, logs totals, dispatches a
// startup notification on the configured default channel — failure
// summary if any registration failed, success otherwise — and schedules
// periodic reconciliation (spec.md §4.7).
func (s *Scheduler) Start(ctx context.Context) {
	s.registry.Start()
	result := s.ReconcileNow(ctx)
	s.log.Info("scheduler: started", zap.Int("enabled", result.TotalEnabled), zap.Int("failed", len(result.FailedIDs)))

	if len(result.FailedIDs) > 0 && s.cfg.DefaultOnFailure != "" {
		msg := "startup: " + joinIDs(result.FailedIDs)
		if err := s.notifier.NotifyFailure(ctx, "cron registration", 0, msg, s.cfg.DefaultOnFailure); err != nil {
			s.log.Warn("scheduler: startup notification failed", zap.Error(err))
		}
	} else if len(result.FailedIDs) == 0 && s.cfg.DefaultOnSuccess != "" {
		if err := s.notifier.NotifySuccess(ctx, "cron registration", 0, s.cfg.DefaultOnSuccess); err != nil {
			s.log.Warn("scheduler: startup notification failed", zap.Error(err))
		}
	}

	if s.cfg.ReconcileIntervalMs > 0 {
		s.stopReconcile = make(chan struct{})
		go s.reconcileLoop(ctx)
	}
}

func (s *Scheduler) reconcileLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.ReconcileIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopReconcile:
			return
		case <-ticker.C:
			s.ReconcileNow(ctx)
		}
	}
}

// ReconcileNow synchronously re-invokes Reconcile. Called on job
// enable/disable via the API (spec.md §4.7).
func (s *Scheduler) ReconcileNow(ctx context.Context) cron.ReconcileResult {
	enabled, err := s.jobs.Enabled(ctx)
	if err != nil {
		s.log.Error("scheduler: reconcile load enabled jobs", zap.Error(err))
		return cron.ReconcileResult{}
	}
	return s.registry.Reconcile(ctx, enabled)
}

// Stop stops the reconcile timer and all cron handles, then polls
// runningJobs against shutdownGraceMs (spec.md §4.7, §5).
func (s *Scheduler) Stop() {
	if s.stopReconcile != nil {
		close(s.stopReconcile)
	}
	s.registry.Stop()

	grace := time.Duration(s.cfg.ShutdownGraceMs) * time.Millisecond
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if s.runningCount() == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	if n := s.runningCount(); n > 0 {
		s.log.Warn("scheduler: shutdown grace period elapsed with jobs still running", zap.Int("count", n))
	}
}

func (s *Scheduler) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runningJobs)
}

// RunningCount exposes the number of currently-running jobs, for
// GET /stats (spec.md §6).
func (s *Scheduler) RunningCount() int { return s.runningCount() }

// onScheduledRun is the registry's callback: it applies overlap policy
// before delegating to runJob, so manual triggers can bypass overlap for
// allow-policy jobs (spec.md §4.7 step 2). It must catch and log any
// error from RunJob so one bad job never suppresses other fires.
func (s *Scheduler) onScheduledRun(jobID string) {
	ctx := context.Background()
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil || job == nil {
		s.log.Error("scheduler: onScheduledRun load job", zap.String("jobId", jobID), zap.Error(err))
		return
	}

	s.mu.Lock()
	alreadyRunning := s.runningJobs[jobID]
	s.mu.Unlock()

	if alreadyRunning {
		switch job.OverlapPolicy {
		case model.OverlapAllow:
			// fall through, proceed below
		default:
			// OverlapSkip and OverlapQueue (currently aliased to skip per
			// spec.md §9 open question, DESIGN.md decision).
			s.log.Info("scheduler: overlap skip", zap.String("jobId", jobID))
			return
		}
	}

	if _, err := s.RunJob(ctx, job, model.TriggerSchedule); err != nil {
		s.log.Error("scheduler: scheduled run failed", zap.String("jobId", jobID), zap.Error(err))
	}
}

// TriggerJob implements the manual-trigger path (spec.md §4.7).
func (s *Scheduler) TriggerJob(ctx context.Context, jobID string) (*model.Run, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errs.NotFound("scheduler.TriggerJob", nil)
	}
	return s.RunJob(ctx, job, model.TriggerManual)
}

// RunJob is the central protocol in spec.md §4.7: admission, run-record
// open/close, executor dispatch, notification dispatch, and the
// `finally` removal from runningJobs.
func (s *Scheduler) RunJob(ctx context.Context, job *model.Job, trigger model.Trigger) (*model.Run, error) {
	s.mu.Lock()
	if len(s.runningJobs) >= s.cfg.MaxConcurrency {
		s.mu.Unlock()
		return nil, errs.Backpressure("scheduler.RunJob", nil)
	}
	s.runningJobs[job.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		s.mu.Unlock()
	}()

	runID, err := s.runs.Open(ctx, job.ID, trigger)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(hub.Event{Type: "run.started", JobID: job.ID, Payload: map[string]any{"runId": runID}})

	result := s.dispatch(ctx, job, runID)

	run := model.Run{
		Status:     result.Status,
		DurationMs: &result.DurationMs,
		ExitCode:   result.ExitCode,
		Tokens:     result.Tokens,
		ResultMeta: result.ResultMeta,
		Error:      result.Error,
		StdoutTail: result.StdoutTail,
		StderrTail: result.StderrTail,
	}
	if err := s.runs.Close(ctx, runID, run); err != nil {
		s.log.Error("scheduler: close run", zap.Int64("runId", runID), zap.Error(err))
	}

	eventType := "run.finished"
	if result.Status != model.RunOK {
		eventType = "run.failed"
	}
	s.hub.Broadcast(hub.Event{Type: eventType, JobID: job.ID, Payload: map[string]any{
		"runId": runID, "status": result.Status,
	}})

	s.dispatchNotification(ctx, job, result)

	run.ID = runID
	run.JobID = job.ID
	run.Trigger = trigger
	return &run, nil
}

func (s *Scheduler) dispatch(ctx context.Context, job *model.Job, runID int64) exec.Result {
	switch job.Type {
	case model.JobSession:
		return s.session.Run(ctx, exec.SessionInput{
			Script:    job.Script,
			JobID:     job.ID,
			TimeoutMs: job.TimeoutMs,
		})
	default:
		return s.script.Run(ctx, exec.ScriptInput{
			Script:    job.Script,
			DBPath:    s.cfg.DBPath,
			JobID:     job.ID,
			RunID:     runID,
			TimeoutMs: job.TimeoutMs,
		})
	}
}

// dispatchNotification implements spec.md §4.7 step 6: notification
// failures are caught and logged, never affecting the run result.
func (s *Scheduler) dispatchNotification(ctx context.Context, job *model.Job, result exec.Result) {
	if result.Status == model.RunOK && job.OnSuccessChanID != "" {
		if err := s.notifier.NotifySuccess(ctx, job.Name, result.DurationMs, job.OnSuccessChanID); err != nil {
			s.log.Warn("scheduler: success notification failed", zap.String("jobId", job.ID), zap.Error(err))
		}
	} else if result.Status != model.RunOK && job.OnFailureChanID != "" {
		if err := s.notifier.NotifyFailure(ctx, job.Name, result.DurationMs, result.Error, job.OnFailureChanID); err != nil {
			s.log.Warn("scheduler: failure notification failed", zap.String("jobId", job.ID), zap.Error(err))
		}
	}
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
