// Package httpapi assembles the chi router over the handler set.
package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genimage/internal/http/handlers"
	"genimage/internal/infra"
	"genimage/internal/middleware"
)

// NewRouter wires routes and middleware.
func NewRouter(app *handlers.App, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(logger))

	r.Get("/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/images", func(r chi.Router) {
			r.Post("/generate", app.ImagesGenerate)
			r.Post("/edit", app.ImagesEdit)
			r.Get("/{id}", app.ImageDownload)
			r.Get("/{id}/remote", app.ImageRemote)
		})
		r.Get("/stats", app.Stats)
		r.Post("/maintenance/sweep", app.MaintenanceSweep)
	})

	return r
}
