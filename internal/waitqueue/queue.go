// Package waitqueue parks requests that could not be assigned and retries
// them when capacity frees up.
package waitqueue

import (
	"context"
	"sort"
	"sync"

	"session-allocator-go/internal/models"
)

// Queue is a per-tenant priority queue of waiting requests, ordered by
// urgency desc, then enqueue time asc, then request id asc.
//
// Enqueue is idempotent per request id: re-enqueueing a request that is
// already waiting keeps its original place and returns it.
type Queue interface {
	// Enqueue returns the 1-based position of the entry.
	Enqueue(ctx context.Context, entry models.WaitQueueEntry) (int, error)
	// Remove reports whether the entry was present. Entries are removed
	// once assigned or abandoned, never before.
	Remove(ctx context.Context, tenantID, requestID string) (bool, error)
	Size(ctx context.Context, tenantID string) (int, error)
	// Snapshot returns the tenant's entries head first.
	Snapshot(ctx context.Context, tenantID string) ([]models.WaitQueueEntry, error)
	// Tenants lists tenants with at least one waiting entry.
	Tenants(ctx context.Context) ([]string, error)
}

// MemoryQueue keeps each tenant's entries in a sorted slice.
type MemoryQueue struct {
	mu      sync.Mutex
	tenants map[string][]models.WaitQueueEntry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tenants: make(map[string][]models.WaitQueueEntry)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, entry models.WaitQueueEntry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tenantID := entry.Request.TenantID
	entries := q.tenants[tenantID]
	for i, e := range entries {
		if e.Request.RequestID == entry.Request.RequestID {
			return i + 1, nil
		}
	}

	i := sort.Search(len(entries), func(i int) bool { return entry.Less(entries[i]) })
	entries = append(entries, models.WaitQueueEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	q.tenants[tenantID] = entries
	return i + 1, nil
}

func (q *MemoryQueue) Remove(_ context.Context, tenantID, requestID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.tenants[tenantID]
	for i, e := range entries {
		if e.Request.RequestID != requestID {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(q.tenants, tenantID)
		} else {
			q.tenants[tenantID] = entries
		}
		return true, nil
	}
	return false, nil
}

func (q *MemoryQueue) Size(_ context.Context, tenantID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tenants[tenantID]), nil
}

func (q *MemoryQueue) Snapshot(_ context.Context, tenantID string) ([]models.WaitQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.WaitQueueEntry(nil), q.tenants[tenantID]...), nil
}

func (q *MemoryQueue) Tenants(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tenants))
	for id := range q.tenants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
