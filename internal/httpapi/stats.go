package httpapi

import (
	"net/http"
	"time"

	"jobrunner/internal/model"
)

// Stats implements GET /stats, resolved toward including
// failedRegistrations per spec.md §9's open question.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalJobs, err := h.jobs.Count(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	since := time.Now().Add(-time.Hour)
	okLastHour, err := h.runs.CountSince(ctx, model.RunOK, since)
	if err != nil {
		writeError(w, err)
		return
	}
	errorsLastHour, err := h.runs.CountSince(ctx, model.RunError, since)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"totalJobs":           totalJobs,
		"running":             h.scheduler.RunningCount(),
		"failedRegistrations": h.scheduler.Registry().GetFailedRegistrations(),
		"okLastHour":          okLastHour,
		"errorsLastHour":      errorsLastHour,
	})
}
