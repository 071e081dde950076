package waitqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"session-allocator-go/internal/allocator"
	"session-allocator-go/internal/api/middleware"
	"session-allocator-go/internal/models"
)

const (
	// DefaultRetryInterval is how often every tenant queue is re-tried when
	// nothing signals freed capacity.
	DefaultRetryInterval = 30 * time.Second

	freedBuffer   = 256
	notifyTimeout = 5 * time.Second
)

// Assigner tries to place an already-preprocessed request.
type Assigner interface {
	TryAssign(ctx context.Context, req models.AllocationRequest) (*models.AllocationResult, error)
}

// Notifier tells the requester about an assignment made from the queue.
type Notifier interface {
	NotifyAssignment(ctx context.Context, a models.Assignment) error
}

// PassStats summarises one drain pass over a tenant queue.
type PassStats struct {
	Attempted int
	Assigned  int
	Abandoned int
	Remaining int
}

// Retrier re-tries queued requests on a timer and whenever an agent's load
// drops. Tenants drain concurrently; entries within a tenant are tried one
// at a time, head first, so priority order holds.
type Retrier struct {
	queue    Queue
	assigner Assigner
	notifier Notifier
	interval time.Duration
	maxWait  time.Duration
	ticks    <-chan time.Time
	freed    chan string
	passes   sync.Map // tenant ID -> *tenantPass
	inflight sync.WaitGroup
	now      func() time.Time
	logger   *zap.Logger
}

// tenantPass keeps passes for one tenant serial. A wake that arrives while a
// pass is running sets rerun instead of being lost.
type tenantPass struct {
	mu      sync.Mutex
	running bool
	rerun   bool
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithTicks replaces the interval ticker, letting tests drive passes.
func WithTicks(ticks <-chan time.Time) Option {
	return func(r *Retrier) { r.ticks = ticks }
}

// WithMaxWait drops entries that have waited longer than d. Zero disables it.
func WithMaxWait(d time.Duration) Option {
	return func(r *Retrier) { r.maxWait = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Retrier) { r.now = now }
}

// NewRetrier creates a retrier. notifier may be nil.
func NewRetrier(queue Queue, assigner Assigner, notifier Notifier, interval time.Duration, logger *zap.Logger, opts ...Option) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	r := &Retrier{
		queue:    queue,
		assigner: assigner,
		notifier: notifier,
		interval: interval,
		freed:    make(chan string, freedBuffer),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CapacityFreed wakes the loop for one tenant. It never blocks; when the
// buffer is full the signal is dropped and the next tick covers it.
func (r *Retrier) CapacityFreed(tenantID string) {
	select {
	case r.freed <- tenantID:
	default:
		r.logger.Debug("capacity-freed signal dropped, buffer full", zap.String("tenant_id", tenantID))
	}
}

// Run blocks until ctx is done. It only dispatches: each tenant's pass runs
// in its own goroutine, so a stalled tenant never delays another. On
// shutdown no new attempts start; passes already running and pending
// notifications are waited for.
func (r *Retrier) Run(ctx context.Context) {
	ticks := r.ticks
	if ticks == nil {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	r.logger.Info("Wait queue retrier started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.inflight.Wait()
			r.logger.Info("Wait queue retrier stopped")
			return
		case <-ticks:
			tenants, err := r.queue.Tenants(ctx)
			if err != nil {
				r.logger.Warn("failed to list queued tenants", zap.Error(err))
				continue
			}
			for _, tenantID := range tenants {
				r.dispatch(ctx, tenantID)
			}
		case tenantID := <-r.freed:
			r.dispatch(ctx, tenantID)
		}
	}
}

func (r *Retrier) dispatch(ctx context.Context, tenantID string) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.DrainTenant(ctx, tenantID)
	}()
}

// DrainAll runs one pass over every tenant with waiting entries and waits
// for all of them.
func (r *Retrier) DrainAll(ctx context.Context) {
	tenants, err := r.queue.Tenants(ctx)
	if err != nil {
		r.logger.Warn("failed to list queued tenants", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, tenantID := range tenants {
		wg.Add(1)
		go func(tenantID string) {
			defer wg.Done()
			r.DrainTenant(ctx, tenantID)
		}(tenantID)
	}
	wg.Wait()
}

// DrainTenant runs head-to-tail passes over a tenant's queue. When a pass is
// already running for the tenant this only asks it to go round once more
// and returns empty stats. A store failure ends a pass; the remaining
// entries wait for the next one.
func (r *Retrier) DrainTenant(ctx context.Context, tenantID string) PassStats {
	v, _ := r.passes.LoadOrStore(tenantID, &tenantPass{})
	p := v.(*tenantPass)

	p.mu.Lock()
	if p.running {
		p.rerun = true
		p.mu.Unlock()
		return PassStats{}
	}
	p.running = true
	p.mu.Unlock()

	for {
		stats := r.pass(ctx, tenantID)

		p.mu.Lock()
		if !p.rerun || ctx.Err() != nil {
			p.running, p.rerun = false, false
			p.mu.Unlock()
			return stats
		}
		p.rerun = false
		p.mu.Unlock()
	}
}

func (r *Retrier) pass(ctx context.Context, tenantID string) PassStats {
	var stats PassStats
	log := r.logger.With(zap.String("tenant_id", tenantID))

	entries, err := r.queue.Snapshot(ctx, tenantID)
	if err != nil {
		log.Warn("failed to read wait queue", zap.Error(err))
		return stats
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !r.attempt(ctx, entry, &stats, log) {
			break
		}
	}

	if size, err := r.queue.Size(context.WithoutCancel(ctx), tenantID); err == nil {
		stats.Remaining = size
		middleware.QueueDepth.WithLabelValues(tenantID).Set(float64(size))
	}
	if stats.Attempted > 0 {
		log.Info("wait queue pass finished",
			zap.Int("attempted", stats.Attempted),
			zap.Int("assigned", stats.Assigned),
			zap.Int("abandoned", stats.Abandoned),
			zap.Int("remaining", stats.Remaining))
	}
	return stats
}

// attempt tries to assign one entry. The entry stays queued, and counted in
// Size and Snapshot, until the assignment has succeeded. It returns false
// when the pass should stop.
func (r *Retrier) attempt(ctx context.Context, entry models.WaitQueueEntry, stats *PassStats, log *zap.Logger) bool {
	req := entry.Request
	rlog := log.With(zap.String("request_id", req.RequestID))

	// In-flight work outlives shutdown; only the start of an attempt is gated.
	actx := context.WithoutCancel(ctx)

	if r.maxWait > 0 && r.now().Sub(entry.EnqueuedAt) > r.maxWait {
		removed, err := r.queue.Remove(actx, req.TenantID, req.RequestID)
		if err != nil {
			rlog.Error("failed to drop stale queued request", zap.Error(err))
			middleware.QueueRetriesTotal.WithLabelValues("error").Inc()
			return false
		}
		if removed {
			stats.Abandoned++
			rlog.Warn("queued request abandoned after max wait",
				zap.Time("enqueued_at", entry.EnqueuedAt),
				zap.Duration("max_wait", r.maxWait))
			middleware.QueueRetriesTotal.WithLabelValues("abandoned").Inc()
		}
		return true
	}

	stats.Attempted++
	result, err := r.assigner.TryAssign(actx, req)
	if err != nil {
		if allocator.IsRetryable(err) {
			rlog.Debug("queued request still waiting", zap.Error(err))
			middleware.QueueRetriesTotal.WithLabelValues("waiting").Inc()
			return true
		}
		rlog.Error("store failure during queue retry, ending pass", zap.Error(err))
		middleware.QueueRetriesTotal.WithLabelValues("error").Inc()
		return false
	}

	removed, err := r.queue.Remove(actx, req.TenantID, req.RequestID)
	if err != nil {
		// The session exists; a later pass would try the entry again.
		rlog.Error("failed to remove assigned request from queue",
			zap.String("session_id", result.SessionID), zap.Error(err))
		middleware.QueueRetriesTotal.WithLabelValues("error").Inc()
		return false
	}
	if !removed {
		rlog.Warn("assigned request was no longer queued",
			zap.String("session_id", result.SessionID))
	}

	stats.Assigned++
	middleware.QueueRetriesTotal.WithLabelValues("assigned").Inc()
	rlog.Info("queued request assigned",
		zap.String("agent_id", result.AssignedAgentID),
		zap.String("session_id", result.SessionID),
		zap.Duration("waited", r.now().Sub(entry.EnqueuedAt)))

	r.notify(models.Assignment{
		TenantID:   req.TenantID,
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		AgentID:    result.AssignedAgentID,
		SessionID:  result.SessionID,
		AssignedAt: r.now(),
	}, rlog)
	return true
}

// notify is fire-and-forget; Run waits for pending notifications on exit.
func (r *Retrier) notify(a models.Assignment, log *zap.Logger) {
	if r.notifier == nil {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := r.notifier.NotifyAssignment(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("assignment notification failed", zap.Error(err))
		}
	}()
}

// Wait blocks until pending notifications finish.
func (r *Retrier) Wait() {
	r.inflight.Wait()
}
