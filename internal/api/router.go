package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quire/internal/docservice"
)

// Mounts are the streaming endpoints served next to the REST routes.
type Mounts struct {
	// Changes serves the change feed (GET /changes).
	Changes http.Handler
	// Relay serves the relay and presence socket (GET /ws).
	Relay http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced; it guards the
// streaming mounts as well.
func NewRouter(svc *docservice.Service, authEnabled bool, token string, mounts Mounts) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Hydration.
	r.Get("/workspaces", h.Workspaces)

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Get("/documents/{id}", h.GetDocument)
	r.Patch("/documents/{id}", h.UpdateDocument)
	r.Delete("/documents/{id}", h.DeleteDocument)
	r.Post("/documents/{id}/trash", h.TrashDocument)
	r.Post("/documents/{id}/restore", h.RestoreDocument)

	if mounts.Changes != nil {
		r.Get("/changes", mounts.Changes.ServeHTTP)
	}
	if mounts.Relay != nil {
		r.Get("/ws", mounts.Relay.ServeHTTP)
	}

	return r
}
