package models

import (
	"time"
)

// AgentStatus is the self-reported presence state of a staff member.
type AgentStatus string

const (
	AgentStatusOnline   AgentStatus = "online"
	AgentStatusBusy     AgentStatus = "busy"
	AgentStatusBreak    AgentStatus = "break"
	AgentStatusTraining AgentStatus = "training"
	AgentStatusMeeting  AgentStatus = "meeting"
	AgentStatusOffline  AgentStatus = "offline"
)

// Blocking reports whether the status keeps an agent from taking new sessions.
// Busy is not blocking: a busy agent with free capacity still takes work.
func (s AgentStatus) Blocking() bool {
	switch s {
	case AgentStatusBreak, AgentStatusTraining, AgentStatusMeeting, AgentStatusOffline:
		return true
	}
	return false
}

type Skill struct {
	Name        string `json:"name"`
	Proficiency int    `json:"proficiency"` // 1..5
}

type ResponseStats struct {
	AvgResponseTimeSeconds       float64 `json:"avg_response_time_seconds"`
	MedianResponseTimeSeconds    float64 `json:"median_response_time_seconds"`
	RecentAvgResponseTimeSeconds float64 `json:"recent_avg_response_time_seconds"`
}

// AgentInfo is a read snapshot of one staff member. The allocator only ever
// changes CurrentSessions, and only through a LoadStore.
type AgentInfo struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	Skills          []Skill       `json:"skills"`
	CurrentSessions int           `json:"current_sessions"`
	MaxSessions     int           `json:"max_sessions"`
	IsOnline        bool          `json:"is_online"`
	Status          AgentStatus   `json:"status"`
	WorkingHours    WorkingHours  `json:"working_hours"`
	ResponseStats   ResponseStats `json:"response_stats"`
}

// RawRequest is an inbound conversation before classification.
type RawRequest struct {
	RequestID        string    `json:"request_id,omitempty"`
	UserID           string    `json:"user_id"`
	Platform         string    `json:"platform"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	PreferredAgentID string    `json:"preferred_agent_id,omitempty"`
}

// AllocationRequest is immutable once the preprocessor has produced it.
type AllocationRequest struct {
	RequestID        string    `json:"request_id"`
	UserID           string    `json:"user_id"`
	TenantID         string    `json:"tenant_id"`
	Platform         string    `json:"platform"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	Intent           *string   `json:"intent,omitempty"`
	Urgency          int       `json:"urgency"`
	RequiredSkills   []string  `json:"required_skills"`
	PreferredAgentID string    `json:"preferred_agent_id,omitempty"`
}

// IntentOrEmpty dereferences Intent.
func (r AllocationRequest) IntentOrEmpty() string {
	if r.Intent == nil {
		return ""
	}
	return *r.Intent
}

type ResultKind string

const (
	ResultAssigned ResultKind = "assigned"
	ResultQueued   ResultKind = "queued"
	ResultRejected ResultKind = "rejected"
)

type ScoredAgent struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// AllocationResult is handed back to the caller; the allocator never persists it.
type AllocationResult struct {
	Kind              ResultKind    `json:"kind"`
	RequestID         string        `json:"request_id"`
	AssignedAgentID   string        `json:"assigned_agent_id,omitempty"`
	SessionID         string        `json:"session_id,omitempty"`
	Score             *float64      `json:"score,omitempty"`
	QueuePosition     *int          `json:"queue_position,omitempty"`
	Reason            string        `json:"reason"`
	AlternativeAgents []ScoredAgent `json:"alternative_agents"`
	ExecutionTimeMs   float64       `json:"execution_time_ms"`

	// Cause carries the error behind a queued or rejected outcome.
	Cause error `json:"-"`
}

// WaitQueueEntry is one parked request.
type WaitQueueEntry struct {
	Request    AllocationRequest `json:"request"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Less orders entries by urgency desc, then enqueue time asc, then request id.
func (e WaitQueueEntry) Less(o WaitQueueEntry) bool {
	if e.Request.Urgency != o.Request.Urgency {
		return e.Request.Urgency > o.Request.Urgency
	}
	if !e.EnqueuedAt.Equal(o.EnqueuedAt) {
		return e.EnqueuedAt.Before(o.EnqueuedAt)
	}
	return e.Request.RequestID < o.Request.RequestID
}

// ServiceRecord is one past conversation between an agent and a user.
type ServiceRecord struct {
	AgentID  string    `json:"agent_id" db:"agent_id"`
	UserID   string    `json:"user_id" db:"user_id"`
	Rating   *float64  `json:"rating,omitempty" db:"rating"` // 1..5, nil when unrated
	ServedAt time.Time `json:"served_at" db:"served_at"`
}

// NewSession is what the allocator asks the session store to create.
type NewSession struct {
	TenantID string
	UserID   string
	AgentID  string
	Platform string
	Intent   string
	Urgency  int
}

type ReleaseResult struct {
	Success         bool   `json:"success"`
	TenantID        string `json:"tenant_id"`
	AgentID         string `json:"agent_id"`
	CurrentSessions int    `json:"current_sessions"`
}

type QueueResponse struct {
	TenantID string              `json:"tenant_id"`
	Size     int                 `json:"size"`
	Entries  []AllocationRequest `json:"entries"`
}

type StatusResponse struct {
	Status         string         `json:"status"`
	IsLeader       bool           `json:"is_leader"`
	QueueBackend   string         `json:"queue_backend"`
	QueuedByTenant map[string]int `json:"queued_by_tenant"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// Assignment is what the notifier tells the requester once a queued request
// has been placed with an agent.
type Assignment struct {
	TenantID   string    `json:"tenant_id"`
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	AgentID    string    `json:"agent_id"`
	SessionID  string    `json:"session_id"`
	AssignedAt time.Time `json:"assigned_at"`
}
