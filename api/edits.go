package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/camplus/effect"
	"github.com/hazyhaar/camplus/ledger"
)

// DraftRequest is the body for POST /edits.
type DraftRequest struct {
	SourceURI string      `json:"source_uri"`
	Effect    effect.Spec `json:"effect"`
}

func (s *Server) handleAddDraft(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceURI == "" {
		writeError(w, http.StatusBadRequest, "source_uri required")
		return
	}
	if err := req.Effect.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.ledger.AddDraft(r.Context(), req.SourceURI, req.Effect)
	if err != nil {
		s.logger.Error("api: add draft failed", "error", err)
		writeError(w, http.StatusInternalServerError, "draft creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleListEdits(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	filter := ledger.Filter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = ledger.FilterAll
	}
	sort := ledger.Sort(r.URL.Query().Get("sort"))
	if sort == "" {
		sort = ledger.SortNewest
	}

	entries, err := s.ledger.List(r.Context(), filter, sort)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	var patch ledger.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	err := s.ledger.UpdateDraft(r.Context(), id, patch)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "entry not found")
	case errors.Is(err, ledger.ErrEntryExported):
		writeError(w, http.StatusConflict, "entry already exported")
	case err != nil:
		s.logger.Error("api: update draft failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
	default:
		entry, err := s.ledger.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "read back failed")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleDeleteEdit(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	if err := s.ledger.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.logger.Error("api: delete edit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearEdits(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	if err := s.ledger.Clear(r.Context()); err != nil {
		s.logger.Error("api: clear edits failed", "error", err)
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
