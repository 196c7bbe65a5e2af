package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"jobrunner/internal/model"
)

// PeekQueue implements GET /queues/:id/items?status=&limit= — read-only
// introspection over the queue engine named in spec.md §4.3
// (SPEC_FULL.md); it never claims items, unlike Dequeue.
func (h *Handler) PeekQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	status := model.QueueItemStatus(r.URL.Query().Get("status"))

	items, err := h.queue.Peek(r.Context(), id, status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": items})
}
