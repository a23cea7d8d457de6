package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/camplus/effect"
	"github.com/hazyhaar/camplus/shots"
)

// ShotRequest is the body for POST /shots.
type ShotRequest struct {
	SourceURI string      `json:"source_uri"`
	BakedURI  string      `json:"baked_uri,omitempty"`
	Effect    effect.Spec `json:"effect"`
}

func (s *Server) handlePushShot(w http.ResponseWriter, r *http.Request) {
	if s.shots == nil {
		writeError(w, http.StatusServiceUnavailable, "shot cache not configured")
		return
	}
	var req ShotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceURI == "" {
		writeError(w, http.StatusBadRequest, "source_uri required")
		return
	}

	shot, err := s.shots.Push(r.Context(), req.SourceURI, req.BakedURI, req.Effect)
	if err != nil {
		s.logger.Error("api: shot push failed", "error", err)
		writeError(w, http.StatusInternalServerError, "push failed")
		return
	}
	writeJSON(w, http.StatusCreated, shot)
}

func (s *Server) handleListShots(w http.ResponseWriter, r *http.Request) {
	if s.shots == nil {
		writeError(w, http.StatusServiceUnavailable, "shot cache not configured")
		return
	}
	list, err := s.shots.List(r.Context())
	if err != nil {
		s.logger.Error("api: shot list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteShot(w http.ResponseWriter, r *http.Request) {
	if s.shots == nil {
		writeError(w, http.StatusServiceUnavailable, "shot cache not configured")
		return
	}
	if err := s.shots.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.logger.Error("api: shot delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPrefs(w http.ResponseWriter, r *http.Request) {
	if s.shots == nil {
		writeError(w, http.StatusServiceUnavailable, "prefs not configured")
		return
	}
	prefs, err := s.shots.Prefs(r.Context())
	if err != nil {
		s.logger.Error("api: prefs read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "prefs read failed")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePutPrefs(w http.ResponseWriter, r *http.Request) {
	if s.shots == nil {
		writeError(w, http.StatusServiceUnavailable, "prefs not configured")
		return
	}
	var prefs shots.Prefs
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.shots.SetPrefs(r.Context(), prefs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
