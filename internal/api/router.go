package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/auth"
	"github.com/sungwon/newsletter/internal/idempotency"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/storage"
)

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(db *storage.DB, idem *idempotency.Store, issues *issue.Store, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	// API routes (auth required)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.BearerAuth(auth.LookupByAPIKey(db.Pool)))

		r.Post("/newsletters", PublishNewsletterHandler(idem, issues, log))
		r.Get("/newsletters", DeliveryOverviewHandler(issues, log))
	})

	return r
}
