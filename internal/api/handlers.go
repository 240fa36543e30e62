package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"pods":           len(s.host.Pods()),
	})
}

func (s *Server) handleListPods(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"pods": s.host.Pods()})
}

func (s *Server) handleGetPod(w http.ResponseWriter, r *http.Request) {
	podID := chi.URLParam(r, "podID")
	for _, p := range s.host.Pods() {
		if p.ID == podID {
			s.writeJSON(w, http.StatusOK, p)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "pod not loaded: "+podID)
}

func (s *Server) handleUnloadPod(w http.ResponseWriter, r *http.Request) {
	podID := chi.URLParam(r, "podID")
	if err := s.host.Unload(podID); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded", "pod": podID})
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"namespaces": s.host.Modules()})
}

func (s *Server) handleListDeferred(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"deferred": s.host.Deferred(r.URL.Query().Get("pod")),
	})
}
