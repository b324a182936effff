package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vivagen/internal/http/handlers"
	"vivagen/internal/middleware"
)

func NewRouter(app *handlers.App, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/assets", func(r chi.Router) {
		r.Get("/", app.ListAssets)
		r.Delete("/{id}", app.DeleteAsset)
		r.Post("/{id}/refresh", app.RefreshAsset)
	})
	r.Post("/v1/generations", app.CreateGeneration)

	r.Post("/v1/prompts/optimize", app.OptimizePrompt)
	r.Route("/v1/library", func(r chi.Router) {
		r.Get("/", app.ListLibrary)
		r.Post("/", app.AddLibraryPrompt)
		r.Put("/{id}", app.UpdateLibraryPrompt)
		r.Delete("/{id}", app.DeleteLibraryPrompt)
		r.Post("/{id}/move", app.MoveLibraryPrompt)
	})

	r.Get("/v1/billing/balance", app.Balance)
	r.Get("/v1/export", app.Export)

	return r
}
