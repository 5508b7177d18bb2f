package server

import (
	"net/http"

	"github.com/cloo-solutions/lightrag/internal/api/handlers"
	"github.com/cloo-solutions/lightrag/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// jsonBodyBytes caps request bodies on routes that take JSON.
const jsonBodyBytes int64 = 1 << 20

type RouterConfig struct {
	Logger   *zap.Logger
	APIToken string
	// MaxUploadBytes caps the multipart body of /upload.
	MaxUploadBytes int64

	DocumentHandler *handlers.DocumentHandler
	UploadHandler   *handlers.UploadHandler
	QueryHandler    *handlers.QueryHandler
	ModelHandler    *handlers.ModelHandler
	HealthHandler   *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", cfg.HealthHandler.Liveness)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.APIToken))

		r.With(middleware.MaxBodyBytes(cfg.MaxUploadBytes)).Post("/upload", cfg.UploadHandler.Upload)

		r.Get("/documents", cfg.DocumentHandler.List)
		r.Get("/documents/{filename}", cfg.DocumentHandler.Serve)
		r.Get("/progress/{filename}", cfg.DocumentHandler.Progress)
		r.Delete("/delete/{filename}", cfg.DocumentHandler.Delete)
		r.Delete("/delete_all", cfg.DocumentHandler.DeleteAll)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodyBytes(jsonBodyBytes))

			r.Post("/query", cfg.QueryHandler.Query)
			r.Post("/set_model", cfg.ModelHandler.Set)
			r.Post("/select_model", cfg.ModelHandler.Select)
		})
		r.Get("/get_model", cfg.ModelHandler.Get)

		r.Get("/system_health", cfg.HealthHandler.System)
	})

	return r
}
