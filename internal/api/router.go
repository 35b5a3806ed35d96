package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/embedmark/internal/pageservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *pageservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Built pages.
	r.Get("/pages", h.ListPages)
	r.Get("/pages/*", h.GetPage)

	// Search.
	r.Get("/search", h.Search)

	// On-demand rendering.
	r.Post("/render", h.Render)
	r.Get("/classify", h.Classify)
	r.Get("/preview", h.Preview)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
