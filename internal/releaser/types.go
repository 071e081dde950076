package releaser

import (
	"context"
	"errors"

	"session-allocator-go/internal/models"
)

// Release errors
var (
	ErrInvalidAgent = errors.New("tenant ID and agent ID are required")
)

// Interface defines the interface for releasing agent load
type Interface interface {
	// Release gives back one of the agent's session slots when a
	// conversation closes, is transferred or abandoned.
	Release(ctx context.Context, tenantID, agentID string) (*models.ReleaseResult, error)
}

// LoadStore is the decrement half of the agent load capability.
type LoadStore interface {
	Decrement(ctx context.Context, tenantID, agentID string) (int, error)
}

// CapacitySignal is told whenever a slot frees up.
type CapacitySignal interface {
	CapacityFreed(tenantID string)
}
