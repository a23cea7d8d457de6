package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hazyhaar/camplus/effect"
	"github.com/hazyhaar/camplus/export"
)

// ExportRequest is the body for POST /export.
type ExportRequest struct {
	SourceURI string      `json:"source_uri"`
	Effect    effect.Spec `json:"effect"`
	EntryID   string      `json:"entry_id,omitempty"`
	Album     string      `json:"album,omitempty"`
	// Draft asks the server to create a ledger draft first when no entry_id
	// is given, so the export lands in the history as well.
	Draft bool `json:"draft,omitempty"`
}

// ExportResponse is the body returned by POST /export.
type ExportResponse struct {
	Status         string `json:"status"`
	ExportedURI    string `json:"exported_uri,omitempty"`
	AssetID        string `json:"asset_id,omitempty"`
	AlbumID        string `json:"album_id,omitempty"`
	EntryID        string `json:"entry_id,omitempty"`
	FellBack       bool   `json:"fell_back,omitempty"`
	RenderTimedOut bool   `json:"render_timed_out,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		writeError(w, http.StatusServiceUnavailable, "export coordinator not configured")
		return
	}
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Effect.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entryID := req.EntryID
	if entryID == "" && req.Draft && s.ledger != nil {
		entry, err := s.ledger.AddDraft(r.Context(), req.SourceURI, req.Effect)
		if err != nil {
			s.logger.Error("api: draft for export failed", "error", err)
			writeError(w, http.StatusInternalServerError, "draft creation failed")
			return
		}
		entryID = entry.ID
	}

	res, err := s.coord.Export(r.Context(), export.Request{
		SourceURI: req.SourceURI,
		Spec:      req.Effect,
		EntryID:   entryID,
		Album:     req.Album,
	})
	if err != nil {
		resp := ExportResponse{Status: string(export.StatusFailed), EntryID: entryID, Error: err.Error()}
		switch {
		case errors.Is(err, export.ErrNoImage):
			writeJSON(w, http.StatusBadRequest, resp)
		case errors.Is(err, export.ErrPermissionDenied):
			writeJSON(w, http.StatusForbidden, resp)
		case errors.Is(err, export.ErrGalleryWrite):
			if res != nil {
				resp.ExportedURI = res.ExportedURI
				resp.FellBack = res.FellBack
			}
			writeJSON(w, http.StatusBadGateway, resp)
		default:
			s.logger.Error("api: export failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, resp)
		}
		return
	}

	writeJSON(w, http.StatusOK, ExportResponse{
		Status:         string(res.Status),
		ExportedURI:    res.ExportedURI,
		AssetID:        res.AssetID,
		AlbumID:        res.AlbumID,
		EntryID:        entryID,
		FellBack:       res.FellBack,
		RenderTimedOut: res.RenderTimedOut,
	})
}
