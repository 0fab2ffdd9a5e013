package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// Single-control routes use a trailing wildcard because composite
// control UUIDs ("parent/child") contain a slash and would not match a
// single path parameter.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/controls", func(r chi.Router) {
			r.Get("/", s.handleListControls)
			r.Get("/*", s.handleGetControl)
		})

		r.Route("/states", func(r chi.Router) {
			r.Get("/*", s.handleGetState)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/*", s.handleGetHistory)
		})

		r.Post("/commands", s.handleSendCommand)
		r.Post("/structure/refresh", s.handleRefreshStructure)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
