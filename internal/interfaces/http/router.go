package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"pagegraph-backend/internal/middleware"
	"pagegraph-backend/pkg/observability"
)

// NewRouter assembles the middleware chain and routes.
func NewRouter(handler *Handler, requestTimeout time.Duration, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(chimiddleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(requestTimeout, logger))

	r.Route("/analysis", func(r chi.Router) {
		r.Post("/analyze", handler.Analyze)
		r.Post("/analyze/batch", handler.AnalyzeBatch)
		r.Get("/status/{task_id}", handler.Status)
	})
	r.Get("/health", handler.Health)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	return r
}
