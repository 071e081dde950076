package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"session-allocator-go/internal/allocator"
	"session-allocator-go/internal/api/handlers"
	"session-allocator-go/internal/api/middleware"
	"session-allocator-go/internal/config"
	"session-allocator-go/internal/releaser"
)

// NewRouter creates a new Chi router with all routes and middleware configured
func NewRouter(
	alloc allocator.Interface,
	rel releaser.Interface,
	tenants handlers.TenantSettingsStore,
	queue handlers.QueueLister,
	readiness map[string]handlers.Pinger,
	cfg *config.Config,
	logger *zap.Logger,
	leader handlers.LeaderChecker,
) chi.Router {
	r := chi.NewRouter()

	// Apply middleware stack
	r.Use(middleware.Recovery(logger))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// Initialize handlers
	allocateHandler := handlers.NewAllocateHandler(alloc, logger)
	queueHandler := handlers.NewQueueHandler(alloc, logger)
	releaseHandler := handlers.NewReleaseHandler(rel, logger)
	configHandler := handlers.NewTenantConfigHandler(tenants, logger)
	statusHandler := handlers.NewStatusHandler(queue, cfg.QueueBackend, logger, leader)
	healthHandler := handlers.NewHealthHandler(readiness, logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tenants/{tenant_id}", func(r chi.Router) {
			r.Post("/allocate", allocateHandler.Handle)
			r.Get("/queue", queueHandler.Handle)
			r.Post("/agents/{agent_id}/release", releaseHandler.Handle)
			r.Get("/config", configHandler.HandleGet)
			r.Put("/config", configHandler.HandlePut)
		})

		// Status endpoint
		r.Get("/status", statusHandler.Handle)

		// Health and readiness endpoints
		r.Get("/health", healthHandler.HandleHealth)
		r.Get("/ready", healthHandler.HandleReady)
	})

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
