package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"session-allocator-go/internal/loadstore"
	"session-allocator-go/internal/models"
)

// historyLimit caps how many past conversations feed the history score.
const historyLimit = 50

const selectAgentsQuery = `
SELECT id, tenant_id, skills, current_sessions, max_sessions, is_online, status,
       working_hours,
       COALESCE(avg_response_time_seconds, 0)        AS avg_response_time_seconds,
       COALESCE(median_response_time_seconds, 0)     AS median_response_time_seconds,
       COALESCE(recent_avg_response_time_seconds, 0) AS recent_avg_response_time_seconds
FROM staff_members
WHERE tenant_id = $1`

const incrementLoadQuery = `
UPDATE staff_members
SET current_sessions = current_sessions + 1
WHERE tenant_id = $1 AND id = $2 AND current_sessions < max_sessions
RETURNING current_sessions`

const decrementLoadQuery = `
UPDATE staff_members
SET current_sessions = GREATEST(current_sessions - 1, 0)
WHERE tenant_id = $1 AND id = $2
RETURNING current_sessions`

const agentExistsQuery = `SELECT EXISTS (SELECT 1 FROM staff_members WHERE tenant_id = $1 AND id = $2)`

const insertSessionQuery = `
INSERT INTO sessions (tenant_id, user_id, assigned_staff_id, platform, status, priority, extra_data)
VALUES ($1, $2, $3, $4, 'active', $5, jsonb_build_object('intent', $6::text))
RETURNING id`

const selectHistoryQuery = `
SELECT assigned_staff_id AS agent_id, user_id,
       (extra_data->>'rating')::float8 AS rating,
       COALESCE(closed_at, created_at) AS served_at
FROM sessions
WHERE tenant_id = $1 AND assigned_staff_id = $2 AND user_id = $3
ORDER BY served_at DESC
LIMIT $4`

// Repository provides Postgres operations for staff, sessions and history.
// It also serves as a LoadStore: the conditional UPDATE is the
// compare-and-increment.
type Repository struct {
	client *Client
}

// NewRepository creates a new Postgres repository
func NewRepository(client *Client) *Repository {
	return &Repository{
		client: client,
	}
}

type staffRow struct {
	ID                           string  `db:"id"`
	TenantID                     string  `db:"tenant_id"`
	Skills                       []byte  `db:"skills"`
	CurrentSessions              int     `db:"current_sessions"`
	MaxSessions                  int     `db:"max_sessions"`
	IsOnline                     bool    `db:"is_online"`
	Status                       string  `db:"status"`
	WorkingHours                 []byte  `db:"working_hours"`
	AvgResponseTimeSeconds       float64 `db:"avg_response_time_seconds"`
	MedianResponseTimeSeconds    float64 `db:"median_response_time_seconds"`
	RecentAvgResponseTimeSeconds float64 `db:"recent_avg_response_time_seconds"`
}

func (r staffRow) toAgent() (models.AgentInfo, error) {
	agent := models.AgentInfo{
		ID:              r.ID,
		TenantID:        r.TenantID,
		CurrentSessions: r.CurrentSessions,
		MaxSessions:     r.MaxSessions,
		IsOnline:        r.IsOnline,
		Status:          models.AgentStatus(r.Status),
		ResponseStats: models.ResponseStats{
			AvgResponseTimeSeconds:       r.AvgResponseTimeSeconds,
			MedianResponseTimeSeconds:    r.MedianResponseTimeSeconds,
			RecentAvgResponseTimeSeconds: r.RecentAvgResponseTimeSeconds,
		},
	}
	if len(r.Skills) > 0 {
		if err := json.Unmarshal(r.Skills, &agent.Skills); err != nil {
			return agent, fmt.Errorf("malformed skills for agent %s: %w", r.ID, err)
		}
	}
	if len(r.WorkingHours) > 0 {
		if err := json.Unmarshal(r.WorkingHours, &agent.WorkingHours); err != nil {
			return agent, fmt.Errorf("malformed working hours for agent %s: %w", r.ID, err)
		}
	}
	return agent, nil
}

// FetchAgents returns the tenant's staff snapshot.
func (r *Repository) FetchAgents(ctx context.Context, tenantID string) ([]models.AgentInfo, error) {
	var rows []staffRow
	if err := r.client.db.SelectContext(ctx, &rows, selectAgentsQuery, tenantID); err != nil {
		return nil, fmt.Errorf("failed to fetch agents: %w", err)
	}

	agents := make([]models.AgentInfo, 0, len(rows))
	for _, row := range rows {
		agent, err := row.toAgent()
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// Increment claims one session slot.
func (r *Repository) Increment(ctx context.Context, tenantID, agentID string) (int, error) {
	var current int
	err := r.client.db.GetContext(ctx, &current, incrementLoadQuery, tenantID, agentID)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to increment agent load: %w", err)
	}

	// No row updated: either full or unknown.
	var exists bool
	if err := r.client.db.GetContext(ctx, &exists, agentExistsQuery, tenantID, agentID); err != nil {
		return 0, fmt.Errorf("failed to check agent: %w", err)
	}
	if !exists {
		return 0, loadstore.ErrAgentNotFound
	}
	return 0, loadstore.ErrCapacityExceeded
}

// Decrement releases one slot, floored at zero.
func (r *Repository) Decrement(ctx context.Context, tenantID, agentID string) (int, error) {
	var current int
	err := r.client.db.GetContext(ctx, &current, decrementLoadQuery, tenantID, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, loadstore.ErrAgentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement agent load: %w", err)
	}
	return current, nil
}

// CreateSession inserts an active session; priority carries the urgency.
func (r *Repository) CreateSession(ctx context.Context, s models.NewSession) (string, error) {
	var id string
	err := r.client.db.GetContext(ctx, &id, insertSessionQuery,
		s.TenantID, s.UserID, s.AgentID, s.Platform, s.Urgency, s.Intent)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// GetServiceHistory returns the most recent conversations between an agent
// and a user within the tenant.
func (r *Repository) GetServiceHistory(ctx context.Context, tenantID, agentID, userID string) ([]models.ServiceRecord, error) {
	var records []models.ServiceRecord
	if err := r.client.db.SelectContext(ctx, &records, selectHistoryQuery, tenantID, agentID, userID, historyLimit); err != nil {
		return nil, fmt.Errorf("failed to fetch service history: %w", err)
	}
	return records, nil
}
