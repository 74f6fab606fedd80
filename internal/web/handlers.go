package web

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleListRuns answers GET /api/runs?limit=&offset=, returning the
// indexed summary (not the full document body) of the most recent
// runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}

	runs, err := s.db.ListRuns(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}

// handleGetRun answers GET /api/runs/{id}, returning the full
// serialized Result Document for one run exactly as the worker
// persisted it.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := s.db.GetRunDocument(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

// handleListRusage answers GET /api/rusage/{process}, returning the
// indexed summary for every hour-slot recorded for process.
func (s *Server) handleListRusage(w http.ResponseWriter, r *http.Request) {
	process := r.PathValue("process")

	samples, err := s.db.ListRusage(r.Context(), process)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"process": process, "samples": samples})
}

// handleGetRusage answers GET /api/rusage/{process}/{hour}, returning
// the full serialized rusage record for a single hour-slot.
func (s *Server) handleGetRusage(w http.ResponseWriter, r *http.Request) {
	process := r.PathValue("process")
	hour, err := strconv.Atoi(r.PathValue("hour"))
	if err != nil || hour < 0 || hour > 23 {
		http.Error(w, "hour must be an integer in [0,23]", http.StatusBadRequest)
		return
	}

	doc, err := s.db.GetRusageDocument(r.Context(), process, hour)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "rusage sample not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}
