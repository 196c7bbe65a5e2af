package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"jobrunner/internal/errs"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeJSONStatus sets the Content-Type header before committing the
// status line; Header().Set after WriteHeader is a silent no-op.
func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ae *errs.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case errs.KindNotFound:
			status = http.StatusNotFound
		case errs.KindConfig:
			status = http.StatusBadRequest
		case errs.KindBackpressure:
			status = http.StatusTooManyRequests
		}
	}
	writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": msg})
}
