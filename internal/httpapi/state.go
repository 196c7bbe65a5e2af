package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"jobrunner/internal/state"
)

// GetState implements GET /state/:ns/:key — supplemental introspection
// over the state engine named in spec.md §4.2 (SPEC_FULL.md).
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	key := chi.URLParam(r, "key")
	value, err := h.state.Get(r.Context(), ns, key)
	if err != nil {
		writeError(w, err)
		return
	}
	if value == nil {
		notFound(w, "state key not found or expired")
		return
	}
	writeJSON(w, map[string]any{"namespace": ns, "key": key, "value": *value})
}

type putStateBody struct {
	Value string `json:"value"`
	TTL   string `json:"ttl,omitempty"`
}

// PutState implements PUT /state/:ns/:key. An optional "ttl" body field
// follows the "<n><d|h|m>" grammar in spec.md §4.2.
func (h *Handler) PutState(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	key := chi.URLParam(r, "key")

	var body putStateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var ttl *time.Duration
	if body.TTL != "" {
		d, err := state.ParseTTL(body.TTL)
		if err != nil {
			writeError(w, err)
			return
		}
		ttl = &d
	}

	value := body.Value
	if err := h.state.Set(r.Context(), ns, key, &value, ttl); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// DeleteState implements DELETE /state/:ns/:key.
func (h *Handler) DeleteState(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	key := chi.URLParam(r, "key")
	if err := h.state.Delete(r.Context(), ns, key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}
