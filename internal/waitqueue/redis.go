package waitqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"session-allocator-go/internal/models"
	"session-allocator-go/internal/preprocess"
	"session-allocator-go/internal/redisclient"
)

// urgencyBand separates urgency levels in the ZSET score. Millisecond
// timestamps stay below it until the year 2286.
const urgencyBand = int64(1e13)

// Lua script for atomic enqueue.
// KEYS[1] = tenant ZSET, KEYS[2] = payload hash, KEYS[3] = tenants SET
// ARGV[1] = score, ARGV[2] = request id, ARGV[3] = payload, ARGV[4] = tenant id
// Returns: 1-based rank. An existing member keeps its score.
var enqueueScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], 'NX', ARGV[1], ARGV[2])
redis.call('HSETNX', KEYS[2], ARGV[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
return redis.call('ZRANK', KEYS[1], ARGV[2]) + 1
`)

// Lua script for atomic remove. Drops the tenant from the SET when its
// queue empties.
// Returns: 1 if removed, 0 if the entry was not queued.
var removeScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
    redis.call('SREM', KEYS[3], ARGV[2])
end
return removed
`)

// RedisQueue shares one wait queue across replicas.
type RedisQueue struct {
	redis *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{redis: client}
}

// queueScore orders by urgency desc then enqueue time asc; equal scores fall
// back to the member (request id) order, matching WaitQueueEntry.Less.
func queueScore(e models.WaitQueueEntry) int64 {
	return int64(preprocess.MaxUrgency-e.Request.Urgency)*urgencyBand + e.EnqueuedAt.UnixMilli()
}

func (q *RedisQueue) Enqueue(ctx context.Context, entry models.WaitQueueEntry) (int, error) {
	tenantID := entry.Request.TenantID
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to encode queue entry: %w", err)
	}

	keys := []string{
		redisclient.QueueKey(tenantID),
		redisclient.QueuePayloadKey(tenantID),
		redisclient.QueueTenantsKey(),
	}
	pos, err := enqueueScript.Run(ctx, q.redis, keys, queueScore(entry), entry.Request.RequestID, payload, tenantID).Int()
	if err != nil {
		return 0, fmt.Errorf("redis enqueue script failed: %w", err)
	}
	return pos, nil
}

func (q *RedisQueue) Remove(ctx context.Context, tenantID, requestID string) (bool, error) {
	keys := []string{
		redisclient.QueueKey(tenantID),
		redisclient.QueuePayloadKey(tenantID),
		redisclient.QueueTenantsKey(),
	}
	n, err := removeScript.Run(ctx, q.redis, keys, requestID, tenantID).Int()
	if err != nil {
		return false, fmt.Errorf("redis remove script failed: %w", err)
	}
	return n == 1, nil
}

func (q *RedisQueue) Size(ctx context.Context, tenantID string) (int, error) {
	n, err := q.redis.ZCard(ctx, redisclient.QueueKey(tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard failed: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Snapshot(ctx context.Context, tenantID string) ([]models.WaitQueueEntry, error) {
	ids, err := q.redis.ZRange(ctx, redisclient.QueueKey(tenantID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	payloads, err := q.redis.HMGet(ctx, redisclient.QueuePayloadKey(tenantID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget failed: %w", err)
	}

	entries := make([]models.WaitQueueEntry, 0, len(ids))
	for i, p := range payloads {
		s, ok := p.(string)
		if !ok {
			// Removed between ZRANGE and HMGET.
			continue
		}
		var e models.WaitQueueEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("malformed queue entry %s: %w", ids[i], err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (q *RedisQueue) Tenants(ctx context.Context) ([]string, error) {
	tenants, err := q.redis.SMembers(ctx, redisclient.QueueTenantsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	sort.Strings(tenants)
	return tenants, nil
}
