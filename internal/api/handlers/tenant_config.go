package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"session-allocator-go/internal/config"
)

// TenantSettingsStore reads and replaces tenant settings.
type TenantSettingsStore interface {
	Settings(tenantID string) config.TenantSettings
	Update(ctx context.Context, tenantID string, s config.TenantSettings) error
}

// TenantConfigHandler serves per-tenant allocation settings
type TenantConfigHandler struct {
	store  TenantSettingsStore
	logger *zap.Logger
}

func NewTenantConfigHandler(store TenantSettingsStore, logger *zap.Logger) *TenantConfigHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantConfigHandler{
		store:  store,
		logger: logger,
	}
}

// HandleGet handles GET /api/v1/tenants/{tenant_id}/config
func (h *TenantConfigHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	respondWithJSON(w, http.StatusOK, h.store.Settings(tenantID))
}

// HandlePut handles PUT /api/v1/tenants/{tenant_id}/config
// Invalid weights are rejected here and never reach the allocator.
func (h *TenantConfigHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenant_id")

	var settings config.TenantSettings
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.logger.Warn("failed to decode tenant settings", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := settings.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Update(ctx, tenantID, settings); err != nil {
		h.logger.Error("failed to update tenant settings",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		respondWithError(w, http.StatusInternalServerError, "failed to update tenant settings")
		return
	}

	h.logger.Info("tenant settings updated",
		zap.String("tenant_id", tenantID),
		zap.String("strategy", string(settings.Strategy)),
	)
	respondWithJSON(w, http.StatusOK, settings)
}
