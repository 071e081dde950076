// Package redisclient provides Redis key pattern definitions for the session allocator.
package redisclient

import "fmt"

// RedisPrefix is the prefix for all Redis keys owned by the allocator
const RedisPrefix = "csa:"

// AgentLoadKey returns the Redis hash holding an agent's current/max sessions
func AgentLoadKey(tenantID, agentID string) string {
	return fmt.Sprintf("%sagent:load:%s:%s", RedisPrefix, tenantID, agentID)
}

// QueueKey returns the ZSET of queued request IDs for a tenant, ordered by priority
func QueueKey(tenantID string) string {
	return fmt.Sprintf("%squeue:%s", RedisPrefix, tenantID)
}

// QueuePayloadKey returns the hash of request ID → JSON-encoded queue entry
func QueuePayloadKey(tenantID string) string {
	return fmt.Sprintf("%squeue:%s:requests", RedisPrefix, tenantID)
}

// QueueTenantsKey returns the SET of tenants that currently have queued requests
func QueueTenantsKey() string {
	return RedisPrefix + "queue:tenants"
}

// AssignmentChannel returns the pub/sub channel for assignment notifications
func AssignmentChannel(tenantID string) string {
	return fmt.Sprintf("%sassignments:%s", RedisPrefix, tenantID)
}

// CapacityFreedChannel returns the pub/sub channel followers use to tell the
// leader an agent's load dropped
func CapacityFreedChannel() string {
	return RedisPrefix + "capacity:freed"
}
