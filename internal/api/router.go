package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toltec-astro/dvpipe/internal/metaservice"
)

// JobNotifier is told when a job started over HTTP finishes.
type JobNotifier interface {
	PublishJobFinished(job string, items int, err error)
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// jobs may be nil.
func NewRouter(svc *metaservice.Service, authEnabled bool, token string, sseHandler http.Handler, jobs JobNotifier) chi.Router {
	h := NewHandler(svc, jobs)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Schema.
	r.Get("/blocks", h.ListBlocks)
	r.Get("/blocks/{block}/fields", h.ListFields)
	r.Get("/fields/{name}", h.GetField)

	// Conversion.
	r.Post("/metadata/wire", h.ToWire)
	r.Post("/metadata/flat", h.ToFlat)
	r.Post("/metadata/convert", h.Convert)
	r.Get("/metadata/example", h.Example)

	// Dataset indices.
	r.Get("/indices", h.ListIndices)
	r.Get("/indices/{id}", h.GetIndex)
	r.Delete("/indices/{id}", h.DeleteIndex)

	// Pipeline jobs.
	r.Get("/jobs", h.ListJobs)
	r.Post("/jobs/{name}", h.RunJob)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
