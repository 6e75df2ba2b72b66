package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/jobclient/internal/api/middleware"
	"github.com/kiranshivaraju/jobclient/internal/api/response"
	"github.com/kiranshivaraju/jobclient/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    *slog.Logger
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	LivenessHandler http.HandlerFunc
	RunHandler      http.HandlerFunc
	RunSyncHandler  http.HandlerFunc
	StatusHandler   http.HandlerFunc
	StatusSync      http.HandlerFunc
	StreamHandler   http.HandlerFunc
	CancelHandler   http.HandlerFunc
	HealthHandler   http.HandlerFunc
	PurgeHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	// Public routes
	r.Get("/healthz", orNotImplemented(deps.LivenessHandler))
	r.Handle("/metrics", promhttp.Handler())

	// Endpoint routes
	r.Route("/v2/{endpointID}", func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRun))

			r.Post("/run", orNotImplemented(deps.RunHandler))
			r.Post("/runsync", orNotImplemented(deps.RunSyncHandler))
			r.Get("/status/{jobID}", orNotImplemented(deps.StatusHandler))
			r.Get("/status-sync/{jobID}", orNotImplemented(deps.StatusSync))
			r.Get("/stream/{jobID}", orNotImplemented(deps.StreamHandler))
			r.Post("/cancel/{jobID}", orNotImplemented(deps.CancelHandler))
			r.Get("/health", orNotImplemented(deps.HealthHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/purge-queue", orNotImplemented(deps.PurgeHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
