package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ethos-works/ethosgraph/internal/api"
	"github.com/ethos-works/ethosgraph/internal/api/handlers"
	"github.com/ethos-works/ethosgraph/internal/api/middleware"
)

type RouterConfig struct {
	AuthValidator     middleware.AuthValidator
	DocumentHandler   *handlers.DocumentHandler
	ExtractHandler    *handlers.ExtractHandler
	AnnotationHandler *handlers.AnnotationHandler
	SyncHandler       *handlers.SyncHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", cfg.DocumentHandler.Create)
			r.Get("/", cfg.DocumentHandler.List)
			r.Get("/{id}", cfg.DocumentHandler.Get)
		})

		r.Post("/extract", cfg.ExtractHandler.Extract)
		r.Get("/extract/jobs/{id}", cfg.ExtractHandler.Job)

		r.Route("/annotations", func(r chi.Router) {
			r.Get("/", cfg.AnnotationHandler.Queue)
			r.Route("/{lineage_id}", func(r chi.Router) {
				r.Patch("/", cfg.AnnotationHandler.Edit)
				r.Get("/versions", cfg.AnnotationHandler.Versions)
				r.Post("/approve", cfg.AnnotationHandler.Approve)
				r.Post("/reject", cfg.AnnotationHandler.Reject)
				r.Post("/reopen", cfg.AnnotationHandler.Reopen)
			})
		})

		r.Post("/commits/{lineage_id}", cfg.SyncHandler.Commit)
		r.Post("/sync/refresh", cfg.SyncHandler.Refresh)
	})

	return r
}
