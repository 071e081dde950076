package loadstore

import (
	"context"
	"fmt"

	"session-allocator-go/internal/models"
)

type staffSource interface {
	FetchAgents(ctx context.Context, tenantID string) ([]models.AgentInfo, error)
}

// Overlay serves agent snapshots from the staff store with CurrentSessions
// replaced by the Redis counters, so scoring sees the same load the
// compare-and-increment will check at commit time.
type Overlay struct {
	staff staffSource
	*RedisStore
}

func NewOverlay(staff staffSource, store *RedisStore) *Overlay {
	return &Overlay{staff: staff, RedisStore: store}
}

func (o *Overlay) FetchAgents(ctx context.Context, tenantID string) ([]models.AgentInfo, error) {
	agents, err := o.staff.FetchAgents(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	caps := make([]AgentCapacity, 0, len(agents))
	for _, a := range agents {
		if a.TenantID != tenantID {
			// Not ours to seed; the allocator rejects it on its own.
			continue
		}
		caps = append(caps, AgentCapacity{
			AgentID:         a.ID,
			CurrentSessions: a.CurrentSessions,
			MaxSessions:     a.MaxSessions,
		})
	}

	current, err := o.Sync(ctx, tenantID, caps)
	if err != nil {
		return nil, fmt.Errorf("failed to overlay agent load: %w", err)
	}
	for i := range agents {
		if n, ok := current[agents[i].ID]; ok && agents[i].TenantID == tenantID {
			agents[i].CurrentSessions = n
		}
	}
	return agents, nil
}
