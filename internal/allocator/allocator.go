package allocator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"session-allocator-go/internal/api/middleware"
	"session-allocator-go/internal/availability"
	"session-allocator-go/internal/loadstore"
	"session-allocator-go/internal/models"
	"session-allocator-go/internal/preprocess"
	"session-allocator-go/internal/scoring"
)

const (
	// DefaultTimeout is the overall deadline of one allocation attempt.
	DefaultTimeout = 2 * time.Second

	alternativeCount = 2

	// rollbackTimeout bounds the detached decrement after a failed commit.
	rollbackTimeout = 2 * time.Second
)

// Dependencies are the collaborators an Allocator needs. Preprocessor and
// the three scorers are optional.
type Dependencies struct {
	Preprocessor Preprocessor
	Staff        StaffStore
	Load         LoadStore
	Sessions     SessionStore
	History      HistorySource
	Tenants      TenantSettingsSource
	Queue        Queue

	Skills      scoring.SkillMatcher
	LoadScorer  scoring.LoadBalancer
	Performance scoring.PerformanceTracker
}

// Allocator assigns conversations to agents within a tenant.
type Allocator struct {
	preprocessor Preprocessor
	staff        StaffStore
	load         LoadStore
	sessions     SessionStore
	history      HistorySource
	tenants      TenantSettingsSource
	queue        Queue

	skills      scoring.SkillMatcher
	loadScorer  scoring.LoadBalancer
	performance scoring.PerformanceTracker

	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewAllocator creates a new allocator instance.
func NewAllocator(deps Dependencies, timeout time.Duration, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a := &Allocator{
		preprocessor: deps.Preprocessor,
		staff:        deps.Staff,
		load:         deps.Load,
		sessions:     deps.Sessions,
		history:      deps.History,
		tenants:      deps.Tenants,
		queue:        deps.Queue,
		skills:       deps.Skills,
		loadScorer:   deps.LoadScorer,
		performance:  deps.Performance,
		timeout:      timeout,
		now:          time.Now,
		logger:       logger,
	}
	if a.skills == nil {
		a.skills = scoring.ProficiencySkillMatcher{}
	}
	if a.loadScorer == nil {
		a.loadScorer = scoring.CapacityLoadBalancer{}
	}
	if a.performance == nil {
		a.performance = scoring.LinearPerformanceTracker{}
	}
	return a
}

// candidate is one eligible agent with its scores.
type candidate struct {
	agent      models.AgentInfo
	components models.ComponentScores
	total      float64
}

// Allocate runs the full pipeline for one inbound conversation.
//
// Outcomes:
//   - Assigned: an agent's load was incremented and a session created
//   - Queued: nobody could take it now (no eligible agent, lost race, deadline)
//   - Rejected: a store failed; the caller retries
func (a *Allocator) Allocate(ctx context.Context, tenantID string, raw models.RawRequest) (*models.AllocationResult, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	start := a.now()

	// One deadline covers preprocessing and the assignment attempt.
	dctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := a.preprocess(dctx, tenantID, raw)
	log := a.logger.With(zap.String("tenant_id", tenantID), zap.String("request_id", req.RequestID))

	result, err := a.tryAssign(dctx, req)
	switch {
	case err == nil:
		log.Info("session assigned",
			zap.String("agent_id", result.AssignedAgentID),
			zap.String("session_id", result.SessionID),
			zap.Float64("score", *result.Score))
		middleware.AssignmentScore.Observe(*result.Score)

	case queueable(err):
		result = a.enqueue(ctx, req, err, log)

	default:
		result = &models.AllocationResult{
			Kind:      models.ResultRejected,
			RequestID: req.RequestID,
			Reason:    reasonFor(err),
			Cause:     err,
		}
		log.Error("allocation rejected", zap.String("reason", result.Reason), zap.Error(err))
	}

	elapsed := a.now().Sub(start)
	result.ExecutionTimeMs = float64(elapsed.Microseconds()) / 1000
	middleware.AllocationsTotal.WithLabelValues(string(result.Kind), result.Reason).Inc()
	middleware.AllocationDuration.WithLabelValues(string(result.Kind)).Observe(elapsed.Seconds())
	return result, nil
}

// TryAssign is the allocation path without preprocessing or queueing. It
// returns an Assigned result or an error; the retry loop uses it directly
// for requests that are already queued. Each call gets its own deadline.
func (a *Allocator) TryAssign(ctx context.Context, req models.AllocationRequest) (*models.AllocationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.tryAssign(ctx, req)
}

func (a *Allocator) tryAssign(ctx context.Context, req models.AllocationRequest) (*models.AllocationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocationTimeout, err)
	}

	settings := a.tenants.Settings(req.TenantID)
	excluded := make(map[string]bool)

	// One retry after a lost race, without the agent that filled up.
	for attempt := 0; ; attempt++ {
		result, raced, err := a.attempt(ctx, req, settings.MinSkillMatchRatio, settings.Weights, settings.Strategy, excluded)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrCapacityRace) || attempt > 0 {
			return nil, err
		}
		a.logger.Info("capacity race lost, re-scoring without agent",
			zap.String("tenant_id", req.TenantID),
			zap.String("request_id", req.RequestID),
			zap.String("agent_id", raced))
		excluded[raced] = true
	}
}

// attempt is one fetch-filter-score-commit pass. On ErrCapacityRace it also
// returns the id of the agent that filled up.
func (a *Allocator) attempt(
	ctx context.Context,
	req models.AllocationRequest,
	minRatio float64,
	weights models.AllocationWeights,
	strategy models.Strategy,
	excluded map[string]bool,
) (*models.AllocationResult, string, error) {
	agents, err := a.staff.FetchAgents(ctx, req.TenantID)
	if err != nil {
		return nil, "", a.storeError(ctx, ErrStaffStoreUnavailable, err)
	}
	agents = a.ownAgents(req.TenantID, agents)

	eligible := a.eligible(req, agents, minRatio, excluded)
	if len(eligible) == 0 {
		return nil, "", ErrNoEligibleAgent
	}

	ranked := a.rank(ctx, req, eligible, weights, strategy)
	best := ranked[0]

	if _, err := a.load.Increment(ctx, req.TenantID, best.agent.ID); err != nil {
		if errors.Is(err, loadstore.ErrCapacityExceeded) || errors.Is(err, loadstore.ErrAgentNotFound) {
			middleware.CapacityRacesTotal.Inc()
			return nil, best.agent.ID, fmt.Errorf("%w: agent %s", ErrCapacityRace, best.agent.ID)
		}
		return nil, "", a.storeError(ctx, ErrStaffStoreUnavailable, err)
	}

	sessionID, err := a.sessions.CreateSession(ctx, models.NewSession{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		AgentID:  best.agent.ID,
		Platform: req.Platform,
		Intent:   req.IntentOrEmpty(),
		Urgency:  req.Urgency,
	})
	if err != nil {
		a.rollback(ctx, req, best.agent.ID)
		return nil, "", a.storeError(ctx, ErrSessionStoreUnavailable, err)
	}

	score := best.total
	result := &models.AllocationResult{
		Kind:              models.ResultAssigned,
		RequestID:         req.RequestID,
		AssignedAgentID:   best.agent.ID,
		SessionID:         sessionID,
		Score:             &score,
		Reason:            ReasonAssigned,
		AlternativeAgents: alternatives(ranked),
	}
	return result, "", nil
}

// ownAgents drops agents belonging to another tenant. Seeing one means the
// staff store broke isolation, which is an operator problem, not a queueing
// one, so it is logged loudly and allocation continues without them.
func (a *Allocator) ownAgents(tenantID string, agents []models.AgentInfo) []models.AgentInfo {
	out := agents[:0:0]
	for _, ag := range agents {
		if ag.TenantID != tenantID {
			a.logger.Error("staff store returned agent of another tenant",
				zap.String("tenant_id", tenantID),
				zap.String("agent_id", ag.ID),
				zap.String("agent_tenant_id", ag.TenantID))
			middleware.TenantViolationsTotal.WithLabelValues(tenantID).Inc()
			continue
		}
		out = append(out, ag)
	}
	return out
}

// eligible applies availability, the skill gate and the general-skill
// fallback.
func (a *Allocator) eligible(req models.AllocationRequest, agents []models.AgentInfo, minRatio float64, excluded map[string]bool) []models.AgentInfo {
	available := availability.Filter(agents, a.now())

	matched := make([]models.AgentInfo, 0, len(available))
	for _, ag := range available {
		if excluded[ag.ID] {
			continue
		}
		if a.skills.IsCompatible(ag.Skills, req.RequiredSkills, minRatio) {
			matched = append(matched, ag)
		}
	}
	if len(matched) > 0 || len(req.RequiredSkills) == 0 {
		return matched
	}

	for _, ag := range available {
		if !excluded[ag.ID] && scoring.HasSkill(ag.Skills, scoring.GeneralSkill) {
			matched = append(matched, ag)
		}
	}
	return matched
}

// rank scores every candidate and sorts best first: total desc, then
// current sessions asc, then agent id asc.
func (a *Allocator) rank(
	ctx context.Context,
	req models.AllocationRequest,
	agents []models.AgentInfo,
	weights models.AllocationWeights,
	strategy models.Strategy,
) []candidate {
	current := make([]int, len(agents))
	for i, ag := range agents {
		current[i] = ag.CurrentSessions
	}
	teamAvg := scoring.TeamAverageLoad(current)
	now := a.now()

	ranked := make([]candidate, len(agents))
	for i, ag := range agents {
		c := models.ComponentScores{
			Skill:        a.skills.Score(ag.Skills, req.RequiredSkills),
			Workload:     a.loadScorer.Score(ag.CurrentSessions, ag.MaxSessions, teamAvg),
			ResponseTime: a.performance.ResponseScore(ag.ResponseStats),
			History:      a.performance.HistoryScore(a.serviceHistory(ctx, req, ag.ID), now),
			Preference:   scoring.PreferenceScore(ag.ID, req.PreferredAgentID),
		}
		ranked[i] = candidate{
			agent:      ag,
			components: c,
			total:      scoring.Combine(weights, strategy, c),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].total != ranked[j].total {
			return ranked[i].total > ranked[j].total
		}
		if ranked[i].agent.CurrentSessions != ranked[j].agent.CurrentSessions {
			return ranked[i].agent.CurrentSessions < ranked[j].agent.CurrentSessions
		}
		return ranked[i].agent.ID < ranked[j].agent.ID
	})
	return ranked
}

// serviceHistory degrades to "no history" on error; a missing history only
// costs the neutral score, not the allocation.
func (a *Allocator) serviceHistory(ctx context.Context, req models.AllocationRequest, agentID string) []models.ServiceRecord {
	if a.history == nil || req.UserID == "" {
		return nil
	}
	records, err := a.history.GetServiceHistory(ctx, req.TenantID, agentID, req.UserID)
	if err != nil {
		a.logger.Warn("service history unavailable, scoring as neutral",
			zap.String("tenant_id", req.TenantID),
			zap.String("request_id", req.RequestID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		return nil
	}
	return records
}

// rollback undoes an increment whose session was never created. It runs on
// a detached context so an expired request deadline cannot leak the slot.
func (a *Allocator) rollback(ctx context.Context, req models.AllocationRequest, agentID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if _, err := a.load.Decrement(rctx, req.TenantID, agentID); err != nil {
		a.logger.Error("failed to roll back agent load after session failure",
			zap.String("tenant_id", req.TenantID),
			zap.String("request_id", req.RequestID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		middleware.RollbacksTotal.WithLabelValues("error").Inc()
		return
	}
	middleware.RollbacksTotal.WithLabelValues("success").Inc()
}

// storeError classifies a collaborator failure. If the attempt's deadline
// is what broke it, the request is queued instead of rejected.
func (a *Allocator) storeError(ctx context.Context, sentinel, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrAllocationTimeout, ctxErr)
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// enqueue parks req and builds the Queued result. The queue write gets its
// own budget since the attempt's deadline may already be spent.
func (a *Allocator) enqueue(ctx context.Context, req models.AllocationRequest, cause error, log *zap.Logger) *models.AllocationResult {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	position, err := a.queue.Enqueue(qctx, models.WaitQueueEntry{Request: req, EnqueuedAt: a.now()})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
		log.Error("allocation rejected, request could not be queued",
			zap.String("reason", ReasonQueue),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return &models.AllocationResult{
			Kind:      models.ResultRejected,
			RequestID: req.RequestID,
			Reason:    ReasonQueue,
			Cause:     err,
		}
	}

	reason := reasonFor(cause)
	log.Info("request queued",
		zap.String("reason", reason),
		zap.Int("position", position),
		zap.Int("urgency", req.Urgency),
		zap.Error(cause))
	return &models.AllocationResult{
		Kind:          models.ResultQueued,
		RequestID:     req.RequestID,
		QueuePosition: &position,
		Reason:        reason,
		Cause:         cause,
	}
}

func (a *Allocator) preprocess(ctx context.Context, tenantID string, raw models.RawRequest) models.AllocationRequest {
	if a.preprocessor != nil {
		return a.preprocessor.Preprocess(ctx, tenantID, raw)
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}
	return models.AllocationRequest{
		RequestID:        raw.RequestID,
		UserID:           raw.UserID,
		TenantID:         tenantID,
		Platform:         raw.Platform,
		Content:          raw.Content,
		Timestamp:        ts,
		Urgency:          preprocess.DefaultUrgency,
		PreferredAgentID: raw.PreferredAgentID,
	}
}

// EnqueueSize returns the number of requests waiting for the tenant.
func (a *Allocator) EnqueueSize(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, ErrInvalidTenant
	}
	return a.queue.Size(ctx, tenantID)
}

// QueueSnapshot returns the tenant's queued requests, head first.
func (a *Allocator) QueueSnapshot(ctx context.Context, tenantID string) ([]models.AllocationRequest, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	entries, err := a.queue.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]models.AllocationRequest, len(entries))
	for i, e := range entries {
		out[i] = e.Request
	}
	return out, nil
}

// queueable reports whether err means "nobody can take it right now".
func queueable(err error) bool {
	return errors.Is(err, ErrNoEligibleAgent) ||
		errors.Is(err, ErrCapacityRace) ||
		errors.Is(err, ErrAllocationTimeout)
}

// IsRetryable reports whether a TryAssign error should leave the request
// queued for a later pass. Store failures are not retryable within a pass.
func IsRetryable(err error) bool {
	return queueable(err)
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrNoEligibleAgent):
		return ReasonNoEligibleAgent
	case errors.Is(err, ErrCapacityRace):
		return ReasonCapacityRace
	case errors.Is(err, ErrAllocationTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrSessionStoreUnavailable):
		return ReasonSessionStore
	case errors.Is(err, ErrQueueUnavailable):
		return ReasonQueue
	}
	return ReasonStaffStore
}

func alternatives(ranked []candidate) []models.ScoredAgent {
	out := make([]models.ScoredAgent, 0, alternativeCount)
	for _, c := range ranked[1:] {
		if len(out) == alternativeCount {
			break
		}
		out = append(out, models.ScoredAgent{AgentID: c.agent.ID, Score: c.total})
	}
	return out
}
