package web

import (
	"net/http"
	"strconv"
)

// handleAllFeatures returns every aggregated feature row.
func (s *Server) handleAllFeatures(w http.ResponseWriter, r *http.Request) {
	rows, err := s.catalog.ListFeatures(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleFeaturesByCity returns feature rows for sources fuzzily
// matching the requested city name, best match first.
func (s *Server) handleFeaturesByCity(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		writeError(w, http.StatusBadRequest, "missing city parameter", "bad_request")
		return
	}
	rows, err := s.catalog.FeaturesByCity(r.Context(), city)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleListSources returns all registered sources.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.catalog.ListSources(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// handleIngestLogs returns the most recent ingest audit lines.
func (s *Server) handleIngestLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	logs, err := s.catalog.ListIngestLogs(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
