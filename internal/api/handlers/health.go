package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"session-allocator-go/internal/models"
)

// Pinger is a backing service the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health and readiness checks
type HealthHandler struct {
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler. deps maps a backend name
// ("redis", "postgres") to its client; an empty map is always ready.
func NewHealthHandler(deps map[string]Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		deps:   deps,
		logger: logger,
	}
}

// HandleHealth handles GET /api/v1/health (liveness probe)
// Returns 200 unconditionally: the process is alive.
// K8s liveness should NOT depend on external services,
// otherwise a Redis outage cascades into pod restarts.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := models.HealthResponse{
		Status: "ok",
	}
	respondWithJSON(w, http.StatusOK, response)
}

// HandleReady handles GET /api/v1/ready (readiness probe)
// Only mark ready if every configured backend answers.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Error("readiness check failed",
				zap.String("backend", name),
				zap.Error(err),
			)
			respondWithError(w, http.StatusServiceUnavailable, name+" unavailable")
			return
		}
	}

	response := map[string]string{
		"status": "ready",
	}
	respondWithJSON(w, http.StatusOK, response)
}
