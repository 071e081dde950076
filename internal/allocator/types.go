package allocator

import (
	"context"
	"errors"

	"session-allocator-go/internal/config"
	"session-allocator-go/internal/models"
)

// Allocation errors
var (
	ErrNoEligibleAgent         = errors.New("no eligible agent available")
	ErrCapacityRace            = errors.New("lost capacity race for selected agent")
	ErrAllocationTimeout       = errors.New("allocation deadline exceeded")
	ErrStaffStoreUnavailable   = errors.New("staff store unavailable")
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
	ErrQueueUnavailable        = errors.New("wait queue unavailable")
	ErrInvalidTenant           = errors.New("invalid tenant ID")
)

// Reasons attached to queued and rejected results and used as metric labels.
const (
	ReasonAssigned        = "assigned"
	ReasonNoEligibleAgent = "no_eligible_agent"
	ReasonCapacityRace    = "capacity_race"
	ReasonTimeout         = "timeout"
	ReasonStaffStore      = "staff_store_unavailable"
	ReasonSessionStore    = "session_store_unavailable"
	ReasonQueue           = "queue_unavailable"
)

// Interface defines the allocator surface used by handlers.
type Interface interface {
	// Allocate preprocesses raw and assigns it to an agent, or queues it.
	// The only error is ErrInvalidTenant; every other outcome is a result.
	Allocate(ctx context.Context, tenantID string, raw models.RawRequest) (*models.AllocationResult, error)
	EnqueueSize(ctx context.Context, tenantID string) (int, error)
	QueueSnapshot(ctx context.Context, tenantID string) ([]models.AllocationRequest, error)
}

// Preprocessor turns a raw request into an AllocationRequest. It never fails.
type Preprocessor interface {
	Preprocess(ctx context.Context, tenantID string, raw models.RawRequest) models.AllocationRequest
}

// StaffStore returns a snapshot of a tenant's agents.
type StaffStore interface {
	FetchAgents(ctx context.Context, tenantID string) ([]models.AgentInfo, error)
}

// LoadStore is the compare-and-increment capability over CurrentSessions.
// Increment returns loadstore.ErrCapacityExceeded when the agent is full.
type LoadStore interface {
	Increment(ctx context.Context, tenantID, agentID string) (int, error)
	Decrement(ctx context.Context, tenantID, agentID string) (int, error)
}

// SessionStore creates the conversation record for an assignment.
type SessionStore interface {
	CreateSession(ctx context.Context, s models.NewSession) (string, error)
}

// HistorySource returns past conversations between an agent and a user.
type HistorySource interface {
	GetServiceHistory(ctx context.Context, tenantID, agentID, userID string) ([]models.ServiceRecord, error)
}

// TenantSettingsSource returns the current settings snapshot for a tenant.
type TenantSettingsSource interface {
	Settings(tenantID string) config.TenantSettings
}

// Queue parks requests nobody can take right now.
type Queue interface {
	Enqueue(ctx context.Context, entry models.WaitQueueEntry) (int, error)
	Size(ctx context.Context, tenantID string) (int, error)
	Snapshot(ctx context.Context, tenantID string) ([]models.WaitQueueEntry, error)
}
