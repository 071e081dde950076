// Package memory is an in-process staff, session and history store. It backs
// tests and single-replica development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"session-allocator-go/internal/loadstore"
	"session-allocator-go/internal/models"
)

// agentEntry guards one agent's snapshot with its own lock so increments on
// different agents never contend.
type agentEntry struct {
	mu    sync.Mutex
	agent models.AgentInfo
}

// Store implements StaffStore, LoadStore, SessionStore and HistorySource.
type Store struct {
	mu       sync.RWMutex
	agents   map[string]map[string]*agentEntry // tenant -> agent id -> entry
	sessions map[string]Session
	history  map[historyKey][]models.ServiceRecord
	now      func() time.Time
}

type historyKey struct {
	tenantID, agentID, userID string
}

// Session is a created conversation record.
type Session struct {
	ID        string
	CreatedAt time.Time
	models.NewSession
}

func NewStore() *Store {
	return &Store{
		agents:   make(map[string]map[string]*agentEntry),
		sessions: make(map[string]Session),
		history:  make(map[historyKey][]models.ServiceRecord),
		now:      time.Now,
	}
}

// UpsertAgent adds or replaces an agent. CurrentSessions is taken as given.
func (s *Store) UpsertAgent(agent models.AgentInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.agents[agent.TenantID]
	if !ok {
		tenant = make(map[string]*agentEntry)
		s.agents[agent.TenantID] = tenant
	}
	if e, ok := tenant[agent.ID]; ok {
		e.mu.Lock()
		e.agent = agent
		e.mu.Unlock()
		return
	}
	tenant[agent.ID] = &agentEntry{agent: agent}
}

// Agent returns a copy of one agent.
func (s *Store) Agent(tenantID, agentID string) (models.AgentInfo, bool) {
	e := s.entry(tenantID, agentID)
	if e == nil {
		return models.AgentInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agent, true
}

// AddServiceRecord appends to an agent/user history.
func (s *Store) AddServiceRecord(tenantID string, r models.ServiceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := historyKey{tenantID, r.AgentID, r.UserID}
	s.history[k] = append(s.history[k], r)
}

func (s *Store) entry(tenantID, agentID string) *agentEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[tenantID][agentID]
}

// FetchAgents returns copies sorted by id.
func (s *Store) FetchAgents(_ context.Context, tenantID string) ([]models.AgentInfo, error) {
	s.mu.RLock()
	entries := make([]*agentEntry, 0, len(s.agents[tenantID]))
	for _, e := range s.agents[tenantID] {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.AgentInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		a := e.agent
		a.Skills = append([]models.Skill(nil), e.agent.Skills...)
		e.mu.Unlock()
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Increment is the compare-and-increment under the agent's lock.
func (s *Store) Increment(_ context.Context, tenantID, agentID string) (int, error) {
	e := s.entry(tenantID, agentID)
	if e == nil {
		return 0, loadstore.ErrAgentNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.agent.CurrentSessions >= e.agent.MaxSessions {
		return 0, loadstore.ErrCapacityExceeded
	}
	e.agent.CurrentSessions++
	return e.agent.CurrentSessions, nil
}

// Decrement is floored at zero.
func (s *Store) Decrement(_ context.Context, tenantID, agentID string) (int, error) {
	e := s.entry(tenantID, agentID)
	if e == nil {
		return 0, loadstore.ErrAgentNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.agent.CurrentSessions > 0 {
		e.agent.CurrentSessions--
	}
	return e.agent.CurrentSessions, nil
}

func (s *Store) CreateSession(_ context.Context, ns models.NewSession) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = Session{ID: id, CreatedAt: s.now(), NewSession: ns}
	return id, nil
}

// Sessions returns every created session, oldest first.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) GetServiceHistory(_ context.Context, tenantID, agentID, userID string) ([]models.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.history[historyKey{tenantID, agentID, userID}]
	return append([]models.ServiceRecord(nil), records...), nil
}
