package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"session-allocator-go/internal/models"
)

// LeaderChecker provides leader election status
type LeaderChecker interface {
	IsLeader() bool
}

// QueueLister reports which tenants have waiting requests and how many.
type QueueLister interface {
	Tenants(ctx context.Context) ([]string, error)
	Size(ctx context.Context, tenantID string) (int, error)
}

// StatusHandler handles status requests
type StatusHandler struct {
	queue        QueueLister
	queueBackend string
	leader       LeaderChecker
	logger       *zap.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(queue QueueLister, queueBackend string, logger *zap.Logger, leader LeaderChecker) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		queue:        queue,
		queueBackend: queueBackend,
		leader:       leader,
		logger:       logger,
	}
}

// Handle handles GET /api/v1/status
func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "ok"
	queued := make(map[string]int)

	tenants, err := h.queue.Tenants(ctx)
	if err != nil {
		status = "degraded"
		h.logger.Error("status check: wait queue unavailable", zap.Error(err))
	}
	for _, tenantID := range tenants {
		size, err := h.queue.Size(ctx, tenantID)
		if err != nil {
			h.logger.Warn("failed to get queue size", zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		queued[tenantID] = size
	}

	// Determine leader status
	isLeader := false
	if h.leader != nil {
		isLeader = h.leader.IsLeader()
	}

	response := models.StatusResponse{
		Status:         status,
		IsLeader:       isLeader,
		QueueBackend:   h.queueBackend,
		QueuedByTenant: queued,
	}

	h.logger.Debug("status request served",
		zap.Bool("is_leader", isLeader),
		zap.Int("queued_tenants", len(queued)),
	)

	respondWithJSON(w, http.StatusOK, response)
}
