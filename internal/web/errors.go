package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dx-insights/attp-pipeline/internal/catalog"
	"github.com/dx-insights/attp-pipeline/internal/cleaning"
	"github.com/dx-insights/attp-pipeline/internal/logging"
	"github.com/dx-insights/attp-pipeline/internal/pipeline"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// respondError maps internal failures onto HTTP statuses: malformed
// uploads and configs are the client's fault, a full queue is
// backpressure, everything else is ours.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	var cfgErr *cleaning.ConfigError
	var fmtErr *cleaning.FormatError
	var perErr *catalog.PersistenceError
	switch {
	case errors.As(err, &cfgErr):
		status, code = http.StatusBadRequest, "bad_config"
	case errors.As(err, &fmtErr):
		status, code = http.StatusBadRequest, "bad_format"
	case errors.Is(err, pipeline.ErrQueueFull):
		status, code = http.StatusServiceUnavailable, "queue_full"
	case errors.As(err, &perErr):
		status, code = http.StatusInternalServerError, "catalog"
	}

	logging.FromContext(r.Context()).Error("request failed",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err,
	)
	writeError(w, status, err.Error(), code)
}
