package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"flowgate/internal/http/handlers"
	"flowgate/internal/middleware"
)

// NewRouter wires the public API surface. The local artifact directory is
// served under /tmp when the local storage backend is active so durable URLs
// resolve in development.
func NewRouter(app *handlers.App, tmpDir string) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, chimw.Logger)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(app.Cfg.APIKey))

		r.Get("/v1/models", app.Models)
		r.Post("/v1/chat/completions", app.ChatCompletions)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.SubmitJob)
			r.Get("/{job_id}", app.JobStatus)
			r.Get("/{job_id}/events", app.StreamJob)
			r.Post("/{job_id}/cancel", app.CancelJob)
			r.Delete("/{job_id}", app.DeleteJob)
		})

		r.Post("/admin/cache/purge", app.PurgeCache)
	})

	if tmpDir != "" {
		fs := stdhttp.StripPrefix("/tmp/", stdhttp.FileServer(stdhttp.Dir(tmpDir)))
		r.Get("/tmp/*", fs.ServeHTTP)
	}

	return r
}
