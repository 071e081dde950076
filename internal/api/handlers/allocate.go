package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"session-allocator-go/internal/allocator"
	"session-allocator-go/internal/models"
)

// AllocateHandler handles conversation allocation requests
type AllocateHandler struct {
	allocator allocator.Interface
	logger    *zap.Logger
}

// NewAllocateHandler creates a new allocation handler
func NewAllocateHandler(allocator allocator.Interface, logger *zap.Logger) *AllocateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocateHandler{
		allocator: allocator,
		logger:    logger,
	}
}

// Handle handles POST /api/v1/tenants/{tenant_id}/allocate
//
// 200 assigned, 202 queued, 503 rejected (the caller retries), 400 bad input.
func (h *AllocateHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenant_id")

	// Decode JSON body
	var req models.RawRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode allocation request", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Validate required fields
	if req.UserID == "" {
		respondWithError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	result, err := h.allocator.Allocate(ctx, tenantID, req)
	if err != nil {
		h.logger.Warn("allocation failed",
			zap.Error(err),
			zap.String("tenant_id", tenantID),
			zap.String("user_id", req.UserID),
		)
		if errors.Is(err, allocator.ErrInvalidTenant) {
			respondWithError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "allocation failed")
		return
	}

	switch result.Kind {
	case models.ResultAssigned:
		respondWithJSON(w, http.StatusOK, result)
	case models.ResultQueued:
		respondWithJSON(w, http.StatusAccepted, result)
	default:
		respondWithJSON(w, http.StatusServiceUnavailable, result)
	}
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// respondWithError sends an error JSON response
func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
