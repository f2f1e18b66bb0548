package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Retrieval and analysis.
	r.Get("/retrieve", h.Retrieve)
	r.Get("/network", h.Network)
	r.Get("/foreshadows", h.Foreshadows)
	r.Get("/foreshadows/{id}", h.Foreshadow)

	// Graph browsing.
	r.Get("/nodes/{id}", h.Node)
	r.Get("/nodes/{id}/neighbors", h.Neighbors)
	r.Get("/path", h.Path)

	// Index maintenance.
	r.Get("/stats", h.Stats)
	r.Post("/rebuild", h.Rebuild)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
