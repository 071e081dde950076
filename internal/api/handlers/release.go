package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"session-allocator-go/internal/loadstore"
	"session-allocator-go/internal/releaser"
)

// ReleaseHandler handles agent load release requests
type ReleaseHandler struct {
	releaser releaser.Interface
	logger   *zap.Logger
}

// NewReleaseHandler creates a new release handler
func NewReleaseHandler(releaser releaser.Interface, logger *zap.Logger) *ReleaseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReleaseHandler{
		releaser: releaser,
		logger:   logger,
	}
}

// Handle handles POST /api/v1/tenants/{tenant_id}/agents/{agent_id}/release
func (h *ReleaseHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenant_id")
	agentID := chi.URLParam(r, "agent_id")

	result, err := h.releaser.Release(ctx, tenantID, agentID)
	if err != nil {
		h.logger.Error("release failed",
			zap.Error(err),
			zap.String("tenant_id", tenantID),
			zap.String("agent_id", agentID),
		)

		switch {
		case errors.Is(err, releaser.ErrInvalidAgent):
			respondWithError(w, http.StatusBadRequest, "tenant_id and agent_id are required")
		case errors.Is(err, loadstore.ErrAgentNotFound):
			respondWithError(w, http.StatusNotFound, "agent not found")
		default:
			respondWithError(w, http.StatusInternalServerError, "release failed")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}
