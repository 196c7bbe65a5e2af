package cron

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.sqlite")
	db, err := store.Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertJob(t *testing.T, db *store.DB, id, schedule string, enabled bool) {
	t.Helper()
	now := store.FormatTime(time.Now())
	_, err := db.Conn().Exec(`
INSERT INTO jobs (id, name, schedule, script, type, enabled, overlap_policy, created_at, updated_at)
VALUES (?, ?, ?, 'run.js', 'script', ?, 'skip', ?, ?)`, id, id, schedule, enabled, now, now)
	if err != nil {
		t.Fatalf("insertJob(%s): %v", id, err)
	}
}

func TestValidateSchedule(t *testing.T) {
	r := New(newTestDB(t), zap.NewNop(), func(string) {})
	if err := r.ValidateSchedule("*/5 * * * *"); err != nil {
		t.Errorf("5-field schedule rejected: %v", err)
	}
	if err := r.ValidateSchedule("*/5 * * * * *"); err != nil {
		t.Errorf("6-field schedule rejected: %v", err)
	}
	if err := r.ValidateSchedule("not a schedule"); err == nil {
		t.Errorf("expected error for invalid schedule, got nil")
	}
}

func TestReconcileRegistersAndCounts(t *testing.T) {
	var fired sync.Map
	r := New(newTestDB(t), zap.NewNop(), func(id string) { fired.Store(id, true) })

	jobs := []*model.Job{
		{ID: "a", Schedule: "*/5 * * * * *", Enabled: true},
		{ID: "b", Schedule: "*/5 * * * * *", Enabled: true},
	}
	res := r.Reconcile(context.Background(), jobs)
	if res.TotalEnabled != 2 {
		t.Fatalf("TotalEnabled = %d, want 2", res.TotalEnabled)
	}
	if len(res.FailedIDs) != 0 {
		t.Fatalf("FailedIDs = %v, want none", res.FailedIDs)
	}
}

func TestReconcileFailedRegistrationContinues(t *testing.T) {
	r := New(newTestDB(t), zap.NewNop(), func(string) {})

	jobs := []*model.Job{
		{ID: "good", Schedule: "*/5 * * * * *", Enabled: true},
		{ID: "bad", Schedule: "not a schedule", Enabled: true},
	}
	res := r.Reconcile(context.Background(), jobs)
	if res.TotalEnabled != 2 {
		t.Fatalf("TotalEnabled = %d, want 2", res.TotalEnabled)
	}
	if len(res.FailedIDs) != 1 || res.FailedIDs[0] != "bad" {
		t.Fatalf("FailedIDs = %v, want [bad]", res.FailedIDs)
	}
	if len(r.GetFailedRegistrations()) != 1 {
		t.Fatalf("GetFailedRegistrations = %v, want len 1", r.GetFailedRegistrations())
	}

	// A later reconcile with the bad job removed (e.g. disabled) clears it.
	res = r.Reconcile(context.Background(), []*model.Job{jobs[0]})
	if len(res.FailedIDs) != 0 {
		t.Fatalf("FailedIDs after removing bad job = %v, want none", res.FailedIDs)
	}
}

func TestReconcileRemovesDisabledJob(t *testing.T) {
	r := New(newTestDB(t), zap.NewNop(), func(string) {})

	job := &model.Job{ID: "a", Schedule: "*/5 * * * * *", Enabled: true}
	r.Reconcile(context.Background(), []*model.Job{job})

	res := r.Reconcile(context.Background(), []*model.Job{})
	if res.TotalEnabled != 0 {
		t.Fatalf("TotalEnabled = %d, want 0 after removal", res.TotalEnabled)
	}
	if _, ok := r.entries["a"]; ok {
		t.Fatalf("job a still registered after removal")
	}
}

func TestReconcileReregistersOnScheduleChange(t *testing.T) {
	r := New(newTestDB(t), zap.NewNop(), func(string) {})

	job := &model.Job{ID: "a", Schedule: "*/5 * * * * *", Enabled: true}
	r.Reconcile(context.Background(), []*model.Job{job})

	entryBefore := r.entries["a"]

	job.Schedule = "*/10 * * * * *"
	r.Reconcile(context.Background(), []*model.Job{job})

	entryAfter, ok := r.entries["a"]
	if !ok {
		t.Fatalf("job 'a' missing from entries after reschedule")
	}
	if entryAfter == entryBefore {
		t.Fatalf("expected a new cron.EntryID after schedule change, got the same one")
	}
	if r.tokens["a"] != "*/10 * * * * *" {
		t.Fatalf("tokens[a] = %q, want updated schedule", r.tokens["a"])
	}
}

// Property P7: fire() re-reads the job row, so a live edit to the
// enabled flag after registration takes effect without re-registering.
func TestFireSkipsDisabledRow(t *testing.T) {
	db := newTestDB(t)
	var fireCount int
	var mu sync.Mutex
	r := New(db, zap.NewNop(), func(string) {
		mu.Lock()
		fireCount++
		mu.Unlock()
	})

	insertJob(t, db, "a", "*/5 * * * * *", true)

	// Disable the row directly (simulating a live DB edit after startup).
	if _, err := db.Conn().Exec(`UPDATE jobs SET enabled = 0 WHERE id = 'a'`); err != nil {
		t.Fatalf("disable job: %v", err)
	}

	r.fire("a")

	mu.Lock()
	defer mu.Unlock()
	if fireCount != 0 {
		t.Fatalf("fireCount = %d, want 0 (disabled row should be skipped)", fireCount)
	}
}

func TestFireInvokesCallbackWhenEnabled(t *testing.T) {
	db := newTestDB(t)
	var fired string
	var mu sync.Mutex
	r := New(db, zap.NewNop(), func(id string) {
		mu.Lock()
		fired = id
		mu.Unlock()
	})

	insertJob(t, db, "a", "*/5 * * * * *", true)
	r.fire("a")

	mu.Lock()
	defer mu.Unlock()
	if fired != "a" {
		t.Fatalf("fired = %q, want %q", fired, "a")
	}
}

func TestFireSkipsMissingJob(t *testing.T) {
	db := newTestDB(t)
	var fireCount int
	r := New(db, zap.NewNop(), func(string) { fireCount++ })
	r.fire("does-not-exist")
	if fireCount != 0 {
		t.Fatalf("fireCount = %d, want 0 for missing job", fireCount)
	}
}
