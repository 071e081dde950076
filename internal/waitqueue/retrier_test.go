package waitqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-allocator-go/internal/allocator"
	"session-allocator-go/internal/models"
)

// fakeAssigner hands out a fixed number of slots per tenant.
type fakeAssigner struct {
	mu    sync.Mutex
	slots map[string]int
	fail  map[string]error // request id -> error
	calls []string
}

func newFakeAssigner(slots map[string]int) *fakeAssigner {
	return &fakeAssigner{slots: slots, fail: map[string]error{}}
}

func (f *fakeAssigner) TryAssign(_ context.Context, req models.AllocationRequest) (*models.AllocationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.RequestID)

	if err := f.fail[req.RequestID]; err != nil {
		return nil, err
	}
	if f.slots[req.TenantID] == 0 {
		return nil, allocator.ErrNoEligibleAgent
	}
	f.slots[req.TenantID]--
	return &models.AllocationResult{
		Kind:            models.ResultAssigned,
		RequestID:       req.RequestID,
		AssignedAgentID: "agent-" + req.TenantID,
		SessionID:       "s-" + req.RequestID,
	}, nil
}

func (f *fakeAssigner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAssigner) AddSlots(tenantID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[tenantID] += n
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Assignment
}

func (n *recordingNotifier) NotifyAssignment(_ context.Context, a models.Assignment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a)
	return nil
}

func (n *recordingNotifier) Sent() []models.Assignment {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Assignment(nil), n.sent...)
}

func seed(t *testing.T, q Queue, entries ...models.WaitQueueEntry) {
	t.Helper()
	for _, e := range entries {
		_, err := q.Enqueue(context.Background(), e)
		require.NoError(t, err)
	}
}

func TestDrainTenantAssignsHeadFirst(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	seed(t, q,
		entry("t1", "low", 2, 0),
		entry("t1", "urgent", 9, time.Minute),
		entry("t1", "normal", 5, 30*time.Second),
	)
	assigner := newFakeAssigner(map[string]int{"t1": 1})
	notifier := &recordingNotifier{}
	r := NewRetrier(q, assigner, notifier, time.Hour, nil)

	stats := r.DrainTenant(ctx, "t1")
	r.Wait()

	assert.Equal(t, []string{"urgent", "normal", "low"}, assigner.Calls())
	assert.Equal(t, 1, stats.Assigned)
	assert.Equal(t, 2, stats.Remaining)

	snap, err := q.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"normal", "low"}, ids(snap))

	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "urgent", sent[0].RequestID)
	assert.Equal(t, "u-urgent", sent[0].UserID)
	assert.Equal(t, "agent-t1", sent[0].AgentID)
}

func TestDrainTenantStopsOnStoreError(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	seed(t, q, entry("t1", "r1", 9, 0), entry("t1", "r2", 5, 0))

	assigner := newFakeAssigner(map[string]int{"t1": 5})
	assigner.fail["r1"] = fmt.Errorf("%w: connection refused", allocator.ErrStaffStoreUnavailable)
	r := NewRetrier(q, assigner, nil, time.Hour, nil)

	stats := r.DrainTenant(ctx, "t1")

	assert.Equal(t, []string{"r1"}, assigner.Calls())
	assert.Equal(t, 0, stats.Assigned)

	// the failed entry never left its place
	snap, err := q.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids(snap))
}

func TestDrainTenantSkipsUnplaceableEntries(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	seed(t, q, entry("t1", "needs-billing", 9, 0), entry("t1", "general", 5, 0))

	assigner := newFakeAssigner(map[string]int{"t1": 1})
	assigner.fail["needs-billing"] = allocator.ErrNoEligibleAgent
	r := NewRetrier(q, assigner, nil, time.Hour, nil)

	stats := r.DrainTenant(ctx, "t1")

	assert.Equal(t, 1, stats.Assigned)
	snap, err := q.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"needs-billing"}, ids(snap))
}

func TestDrainTenantAbandonsAfterMaxWait(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	seed(t, q, entry("t1", "stale", 5, 0), entry("t1", "fresh", 5, 50*time.Minute))

	assigner := newFakeAssigner(map[string]int{})
	now := func() time.Time { return base.Add(time.Hour) }
	r := NewRetrier(q, assigner, nil, time.Hour, nil, WithMaxWait(30*time.Minute), WithClock(now))

	stats := r.DrainTenant(ctx, "t1")

	assert.Equal(t, 1, stats.Abandoned)
	assert.Equal(t, []string{"fresh"}, assigner.Calls())
	snap, err := q.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids(snap))
}

func TestDrainTenantCancelledStartsNothing(t *testing.T) {
	q := NewMemoryQueue()
	seed(t, q, entry("t1", "r1", 5, 0))
	assigner := newFakeAssigner(map[string]int{"t1": 1})
	r := NewRetrier(q, assigner, nil, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.DrainTenant(ctx, "t1")

	assert.Empty(t, assigner.Calls())
	size, err := q.Size(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestDrainAllCoversEveryTenant(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	seed(t, q, entry("t1", "a", 5, 0), entry("t2", "b", 5, 0), entry("t3", "c", 5, 0))

	assigner := newFakeAssigner(map[string]int{"t1": 1, "t2": 1})
	r := NewRetrier(q, assigner, nil, time.Hour, nil)

	r.DrainAll(ctx)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, assigner.Calls())
	tenants, err := q.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, tenants)
}

func TestRunWakesOnTickAndCapacityFreed(t *testing.T) {
	q := NewMemoryQueue()
	seed(t, q, entry("t1", "r1", 5, 0), entry("t1", "r2", 5, time.Second))

	assigner := newFakeAssigner(map[string]int{})
	ticks := make(chan time.Time)
	r := NewRetrier(q, assigner, nil, time.Hour, nil, WithTicks(ticks))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	sizeOf := func() int {
		n, _ := q.Size(context.Background(), "t1")
		return n
	}

	// a tick with no capacity leaves everything queued
	ticks <- base
	assert.Eventually(t, func() bool { return len(assigner.Calls()) == 2 && sizeOf() == 2 }, time.Second, 5*time.Millisecond)

	// freeing one slot drains the head
	assigner.AddSlots("t1", 1)
	r.CapacityFreed("t1")
	assert.Eventually(t, func() bool { return len(assigner.Calls()) == 4 && sizeOf() == 1 }, time.Second, 5*time.Millisecond)

	snap, err := q.Snapshot(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, ids(snap))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retrier did not stop after cancel")
	}
}

func TestCapacityFreedNeverBlocks(t *testing.T) {
	r := NewRetrier(NewMemoryQueue(), newFakeAssigner(nil), nil, time.Hour, nil)
	for i := 0; i < freedBuffer*2; i++ {
		r.CapacityFreed("t1")
	}
	assert.Len(t, r.freed, freedBuffer)
}

// gatedAssigner holds every attempt for one tenant until the test releases it.
type gatedAssigner struct {
	*fakeAssigner
	tenant  string
	started chan string
	release chan struct{}
}

func newGatedAssigner(tenant string, slots map[string]int) *gatedAssigner {
	return &gatedAssigner{
		fakeAssigner: newFakeAssigner(slots),
		tenant:       tenant,
		started:      make(chan string),
		release:      make(chan struct{}),
	}
}

func (g *gatedAssigner) TryAssign(ctx context.Context, req models.AllocationRequest) (*models.AllocationResult, error) {
	if req.TenantID == g.tenant {
		g.started <- req.RequestID
		<-g.release
	}
	return g.fakeAssigner.TryAssign(ctx, req)
}

func TestRunDrainsTenantsIndependently(t *testing.T) {
	q := NewMemoryQueue()
	seed(t, q, entry("a", "a1", 5, 0), entry("b", "b1", 5, 0))

	assigner := newGatedAssigner("a", map[string]int{"a": 1, "b": 1})
	r := NewRetrier(q, assigner, nil, time.Hour, nil, WithTicks(make(chan time.Time)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.CapacityFreed("a")
	select {
	case id := <-assigner.started:
		assert.Equal(t, "a1", id)
	case <-time.After(time.Second):
		t.Fatal("tenant a pass did not start")
	}

	// tenant a is stuck mid-attempt; tenant b must still drain
	r.CapacityFreed("b")
	assert.Eventually(t, func() bool {
		n, _ := q.Size(context.Background(), "b")
		return n == 0
	}, time.Second, 5*time.Millisecond)

	close(assigner.release)
	assert.Eventually(t, func() bool {
		n, _ := q.Size(context.Background(), "a")
		return n == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retrier did not stop after cancel")
	}
}

func TestEntryStaysQueuedWhileAttemptInFlight(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	seed(t, q, entry("t1", "a1", 5, 0))

	assigner := newGatedAssigner("t1", map[string]int{"t1": 1})
	r := NewRetrier(q, assigner, nil, time.Hour, nil)

	passDone := make(chan PassStats)
	go func() { passDone <- r.DrainTenant(ctx, "t1") }()
	require.Equal(t, "a1", <-assigner.started)

	size, err := q.Size(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	snap, err := q.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(snap))

	pos, err := q.Enqueue(ctx, entry("t1", "a2", 5, time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	close(assigner.release)
	stats := <-passDone
	assert.Equal(t, 1, stats.Assigned)

	snap, err = q.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, ids(snap))
}

func TestDrainTenantRerunsAfterWakeDuringPass(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	seed(t, q, entry("t1", "r1", 5, 0))

	assigner := newGatedAssigner("t1", map[string]int{})
	r := NewRetrier(q, assigner, nil, time.Hour, nil)

	passDone := make(chan PassStats)
	go func() { passDone <- r.DrainTenant(ctx, "t1") }()
	require.Equal(t, "r1", <-assigner.started)

	// a second wake while the first pass runs is folded into a rerun
	assert.Equal(t, PassStats{}, r.DrainTenant(ctx, "t1"))

	assigner.release <- struct{}{}
	select {
	case id := <-assigner.started:
		assert.Equal(t, "r1", id)
	case <-time.After(time.Second):
		t.Fatal("no second pass after wake during pass")
	}
	assigner.AddSlots("t1", 1)
	assigner.release <- struct{}{}

	stats := <-passDone
	assert.Equal(t, 1, stats.Assigned)
	assert.Equal(t, 0, stats.Remaining)
}
