// Package notifier tells requesters that a queued conversation now has an
// agent. Delivery is best-effort; callers do not retry.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"session-allocator-go/internal/api/middleware"
	"session-allocator-go/internal/models"
	"session-allocator-go/internal/redisclient"
)

// Notifier is the NotifyAssignment collaborator.
type Notifier interface {
	NotifyAssignment(ctx context.Context, a models.Assignment) error
}

// LogNotifier only logs. Used when no delivery backend is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyAssignment(_ context.Context, a models.Assignment) error {
	n.logger.Info("assignment notification",
		zap.String("tenant_id", a.TenantID),
		zap.String("request_id", a.RequestID),
		zap.String("user_id", a.UserID),
		zap.String("agent_id", a.AgentID),
		zap.String("session_id", a.SessionID))
	middleware.NotificationsTotal.WithLabelValues("log", "success").Inc()
	return nil
}

// RedisNotifier publishes to the tenant's assignment channel.
type RedisNotifier struct {
	redis *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{redis: client}
}

func (n *RedisNotifier) NotifyAssignment(ctx context.Context, a models.Assignment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assignment: %w", err)
	}
	if err := n.redis.Publish(ctx, redisclient.AssignmentChannel(a.TenantID), payload).Err(); err != nil {
		middleware.NotificationsTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("redis publish failed: %w", err)
	}
	middleware.NotificationsTotal.WithLabelValues("redis", "success").Inc()
	return nil
}

// publisher is the part of *nats.Conn the notifier uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes to "assignments.<tenant>".
type NATSNotifier struct {
	conn publisher
}

// NewNATSNotifier connects to url with reconnects enabled.
func NewNATSNotifier(url string, logger *zap.Logger) (*NATSNotifier, *nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("session-allocator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSNotifier{conn: conn}, conn, nil
}

// AssignmentSubject returns the NATS subject for a tenant.
func AssignmentSubject(tenantID string) string {
	return "assignments." + tenantID
}

func (n *NATSNotifier) NotifyAssignment(_ context.Context, a models.Assignment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assignment: %w", err)
	}
	if err := n.conn.Publish(AssignmentSubject(a.TenantID), payload); err != nil {
		middleware.NotificationsTotal.WithLabelValues("nats", "error").Inc()
		return fmt.Errorf("nats publish failed: %w", err)
	}
	middleware.NotificationsTotal.WithLabelValues("nats", "success").Inc()
	return nil
}
