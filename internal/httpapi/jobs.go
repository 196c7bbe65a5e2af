package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"jobrunner/internal/model"
)

// ListJobs implements GET /jobs (spec.md §6).
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListWithLastRun(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"jobs": jobs})
}

// GetJob implements GET /jobs/:id.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		notFound(w, "job not found")
		return
	}
	writeJSON(w, map[string]any{"job": job})
}

// CreateJob is a supplemental job-registration endpoint (the spec's
// "CLI/config-file loading front-ends" are out of core scope, but
// something must insert a job row; grounded on the teacher's
// handler/apps.go create-then-validate shape).
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var job model.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if job.OverlapPolicy == "" {
		job.OverlapPolicy = model.OverlapSkip
	}
	if err := job.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.scheduler.Registry().ValidateSchedule(job.Schedule); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid schedule: " + err.Error()})
		return
	}
	if err := h.jobs.Insert(r.Context(), &job); err != nil {
		writeError(w, err)
		return
	}
	h.scheduler.ReconcileNow(r.Context())
	writeJSON(w, map[string]any{"job": job})
}

// ListRuns implements GET /jobs/:id/runs?limit=N.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	runs, err := h.runs.ListForJob(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"runs": runs})
}

// RunJob implements POST /jobs/:id/run (synchronous manual trigger).
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.scheduler.TriggerJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"result": run})
}

// EnableJob implements POST /jobs/:id/enable.
func (h *Handler) EnableJob(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableJob implements POST /jobs/:id/disable.
func (h *Handler) DisableJob(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if err := h.jobs.SetEnabled(r.Context(), id, enabled); err != nil {
		writeError(w, err)
		return
	}
	h.scheduler.ReconcileNow(r.Context())
	writeJSON(w, map[string]bool{"ok": true})
}
