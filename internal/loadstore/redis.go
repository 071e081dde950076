// Package loadstore keeps the one mutable counter the allocator touches: an
// agent's current session count. Increments are compare-and-increment so two
// allocators racing for an agent's last slot cannot both win.
package loadstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"session-allocator-go/internal/redisclient"
)

var (
	ErrCapacityExceeded = errors.New("agent is at max sessions")
	ErrAgentNotFound    = errors.New("agent load not tracked")
)

// Lua script for atomic check-and-increment of an agent's session counter.
// KEYS[1] = agent load hash (fields: current, max)
// Returns: new current count, -1 if at capacity, -2 if the agent is unknown.
var incrementScript = redis.NewScript(`
local max = tonumber(redis.call('HGET', KEYS[1], 'max'))
if max == nil then
    return -2
end
local current = tonumber(redis.call('HGET', KEYS[1], 'current'))
if current == nil then
    current = 0
end
if current >= max then
    return -1
end
return redis.call('HINCRBY', KEYS[1], 'current', 1)
`)

// Lua script for decrement floored at zero.
// Returns: new current count, -2 if the agent is unknown.
var decrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return -2
end
local current = tonumber(redis.call('HGET', KEYS[1], 'current'))
if current == nil or current <= 0 then
    redis.call('HSET', KEYS[1], 'current', 0)
    return 0
end
return redis.call('HINCRBY', KEYS[1], 'current', -1)
`)

// Lua script that seeds an agent's counter from the staff store snapshot.
// max always follows the staff store; current is only seeded once because
// after that Redis is the source of truth for it.
// ARGV[1] = max sessions, ARGV[2] = snapshot current sessions
// Returns: the authoritative current count.
var syncScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'max', ARGV[1])
redis.call('HSETNX', KEYS[1], 'current', ARGV[2])
return tonumber(redis.call('HGET', KEYS[1], 'current'))
`)

// RedisStore tracks agent load in Redis hashes.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// Increment claims one session slot for the agent.
func (s *RedisStore) Increment(ctx context.Context, tenantID, agentID string) (int, error) {
	n, err := incrementScript.Run(ctx, s.redis, []string{redisclient.AgentLoadKey(tenantID, agentID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("redis increment script failed: %w", err)
	}
	switch n {
	case -1:
		return 0, ErrCapacityExceeded
	case -2:
		return 0, ErrAgentNotFound
	}
	return n, nil
}

// Decrement releases one slot. Releasing an idle agent is a no-op.
func (s *RedisStore) Decrement(ctx context.Context, tenantID, agentID string) (int, error) {
	n, err := decrementScript.Run(ctx, s.redis, []string{redisclient.AgentLoadKey(tenantID, agentID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("redis decrement script failed: %w", err)
	}
	if n == -2 {
		return 0, ErrAgentNotFound
	}
	return n, nil
}

// Sync seeds counters for a batch of agents in one pipeline and returns the
// authoritative current count per agent id.
func (s *RedisStore) Sync(ctx context.Context, tenantID string, agents []AgentCapacity) (map[string]int, error) {
	if len(agents) == 0 {
		return map[string]int{}, nil
	}

	// Make sure the script is cached so EVALSHA inside the pipeline succeeds.
	if err := syncScript.Load(ctx, s.redis).Err(); err != nil {
		return nil, fmt.Errorf("failed to load sync script: %w", err)
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.Cmd, len(agents))
	for i, a := range agents {
		cmds[i] = syncScript.EvalSha(ctx, pipe, []string{redisclient.AgentLoadKey(tenantID, a.AgentID)}, a.MaxSessions, a.CurrentSessions)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis sync pipeline failed: %w", err)
	}

	out := make(map[string]int, len(agents))
	for i, a := range agents {
		n, err := cmds[i].Int()
		if err != nil {
			return nil, fmt.Errorf("sync agent %s: %w", a.AgentID, err)
		}
		out[a.AgentID] = n
	}
	return out, nil
}

// AgentCapacity is the staff store's view of one agent's load.
type AgentCapacity struct {
	AgentID         string
	CurrentSessions int
	MaxSessions     int
}
