package httpapi

import (
	"net/http"
	"time"
)

// Health implements GET /health using the inclusive shape resolved in
// spec.md §9's open questions: {ok, uptime, failedRegistrations?}.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":     true,
		"uptime": time.Since(h.startedAt).Seconds(),
	}
	if failed := h.scheduler.Registry().GetFailedRegistrations(); len(failed) > 0 {
		resp["failedRegistrations"] = failed
	}
	writeJSON(w, resp)
}
