// Package history caches service-history lookups. Ratings change slowly
// and the same (agent, user) pairs are scored over and over while a user
// is waiting, so a short TTL takes most reads off the session store.
package history

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"session-allocator-go/internal/models"
)

// DefaultTTL is used when NewCachedSource is given a non-positive ttl.
const DefaultTTL = time.Minute

// Source is the uncached lookup.
type Source interface {
	GetServiceHistory(ctx context.Context, tenantID, agentID, userID string) ([]models.ServiceRecord, error)
}

// CachedSource memoises successful lookups. Errors are never cached.
type CachedSource struct {
	src   Source
	cache *cache.Cache
}

func NewCachedSource(src Source, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedSource{
		src:   src,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedSource) GetServiceHistory(ctx context.Context, tenantID, agentID, userID string) ([]models.ServiceRecord, error) {
	key := tenantID + "|" + agentID + "|" + userID
	if v, ok := c.cache.Get(key); ok {
		return v.([]models.ServiceRecord), nil
	}

	records, err := c.src.GetServiceHistory(ctx, tenantID, agentID, userID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, records)
	return records, nil
}

// Invalidate drops every cached entry.
func (c *CachedSource) Invalidate() {
	c.cache.Flush()
}
