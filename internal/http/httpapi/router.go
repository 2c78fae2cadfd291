package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"shortforge/internal/http/handlers"
	"shortforge/internal/middleware"
)

// NewRouter mounts the run API. rateLimit is requests per minute per client
// on the mutating routes; zero disables limiting.
func NewRouter(app *handlers.App, logger zerolog.Logger, rateLimit int) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/folders", app.ListFolders)
		r.Get("/folders/{folder}/state", app.RunState)
		r.Get("/folders/{folder}/files", app.ListFiles)
		r.Get("/folders/{folder}/archive", app.ArchiveFolder)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(rateLimit, time.Minute))
			r.Post("/runs", app.CreateRun)
			r.Post("/folders/{folder}/resume", app.ResumeRun)
			r.Post("/folders/{folder}/stages/{stage}", app.RunStage)
		})
	})

	return r
}
