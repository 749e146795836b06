package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"imageforge/internal/http/handlers"
	"imageforge/internal/infra"
	"imageforge/internal/middleware"
)

type RouterOptions struct {
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, logger infra.Logger, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/models", app.ListModels)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Post("/", app.CreateGeneration)
		r.Get("/", app.ListGenerations)
		r.Get("/{id}", app.GetGeneration)
		r.Post("/{id}/cancel", app.CancelGeneration)
		r.Get("/{id}/download", app.DownloadGeneration)
	})

	r.Get("/v1/credits", app.GetCredits)
	r.Get("/v1/credits/usage", app.GetUsage)

	r.Get("/assets/*", app.ServeAsset)

	return r
}
