// Package api exposes the camplus pipeline over HTTP: export requests, the
// edit ledger, the shot cache, and camera preferences.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/camplus/export"
	"github.com/hazyhaar/camplus/ledger"
	"github.com/hazyhaar/camplus/shots"
)

// Server holds the handlers' collaborators.
type Server struct {
	coord  *export.Coordinator
	ledger *ledger.Store
	shots  *shots.Store
	logger *slog.Logger
}

// New creates a Server. Any collaborator may be nil; its routes then answer
// 503.
func New(coord *export.Coordinator, led *ledger.Store, sh *shots.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{coord: coord, ledger: led, shots: sh, logger: logger}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/export", s.handleExport)

	r.Route("/edits", func(r chi.Router) {
		r.Get("/", s.handleListEdits)
		r.Post("/", s.handleAddDraft)
		r.Delete("/", s.handleClearEdits)
		r.Patch("/{id}", s.handleUpdateDraft)
		r.Delete("/{id}", s.handleDeleteEdit)
	})

	r.Route("/shots", func(r chi.Router) {
		r.Get("/", s.handleListShots)
		r.Post("/", s.handlePushShot)
		r.Delete("/{id}", s.handleDeleteShot)
	})

	r.Get("/prefs", s.handleGetPrefs)
	r.Put("/prefs", s.handlePutPrefs)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
