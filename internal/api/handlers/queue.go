package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"session-allocator-go/internal/allocator"
	"session-allocator-go/internal/models"
)

// QueueHandler exposes a tenant's wait queue
type QueueHandler struct {
	allocator allocator.Interface
	logger    *zap.Logger
}

func NewQueueHandler(allocator allocator.Interface, logger *zap.Logger) *QueueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{
		allocator: allocator,
		logger:    logger,
	}
}

// Handle handles GET /api/v1/tenants/{tenant_id}/queue
func (h *QueueHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenant_id")

	entries, err := h.allocator.QueueSnapshot(ctx, tenantID)
	if err != nil {
		if errors.Is(err, allocator.ErrInvalidTenant) {
			respondWithError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		h.logger.Error("failed to read wait queue", zap.String("tenant_id", tenantID), zap.Error(err))
		respondWithError(w, http.StatusServiceUnavailable, "wait queue unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, models.QueueResponse{
		TenantID: tenantID,
		Size:     len(entries),
		Entries:  entries,
	})
}
