package releaser

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"session-allocator-go/internal/api/middleware"
	"session-allocator-go/internal/loadstore"
	"session-allocator-go/internal/models"
)

// Releaser decrements agent load and wakes the wait queue for the tenant.
type Releaser struct {
	load   LoadStore
	signal CapacitySignal
	logger *zap.Logger
}

// NewReleaser creates a new Releaser instance. signal may be nil when this
// replica does not run the wait queue.
func NewReleaser(load LoadStore, signal CapacitySignal, logger *zap.Logger) *Releaser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Releaser{
		load:   load,
		signal: signal,
		logger: logger,
	}
}

// Release performs the following steps:
// 1. Decrement the agent's current sessions (floored at zero)
// 2. Signal the wait queue that the tenant has capacity again
func (r *Releaser) Release(ctx context.Context, tenantID, agentID string) (*models.ReleaseResult, error) {
	if tenantID == "" || agentID == "" {
		return nil, ErrInvalidAgent
	}

	current, err := r.load.Decrement(ctx, tenantID, agentID)
	if err != nil {
		status := "error"
		if errors.Is(err, loadstore.ErrAgentNotFound) {
			status = "not_found"
		}
		middleware.ReleasesTotal.WithLabelValues(status).Inc()
		return nil, fmt.Errorf("failed to release agent load: %w", err)
	}

	if r.signal != nil {
		r.signal.CapacityFreed(tenantID)
	}

	r.logger.Info("agent load released",
		zap.String("tenant_id", tenantID),
		zap.String("agent_id", agentID),
		zap.Int("current_sessions", current))
	middleware.ReleasesTotal.WithLabelValues("success").Inc()

	return &models.ReleaseResult{
		Success:         true,
		TenantID:        tenantID,
		AgentID:         agentID,
		CurrentSessions: current,
	}, nil
}
