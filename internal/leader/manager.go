// Package leader runs the LEADER-ONLY wait-queue workload. Every replica
// serves allocations; only the elected leader drains the shared queue.
package leader

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"session-allocator-go/internal/api/middleware"
	"session-allocator-go/internal/config"
	"session-allocator-go/internal/redisclient"
)

// Workload is what the leader runs. *waitqueue.Retrier satisfies it.
type Workload interface {
	Run(ctx context.Context)
	CapacityFreed(tenantID string)
}

// Manager gates the workload behind Kubernetes lease-based leader election.
type Manager struct {
	k8sClient kubernetes.Interface
	redis     *redis.Client
	workload  Workload
	config    *config.Config
	logger    *zap.Logger
	isLeader  atomic.Bool

	// onLostLeadership runs after the lease is lost outside shutdown.
	onLostLeadership func()
}

// NewManager creates a new leader manager. k8sClient may be nil when leader
// election is disabled; redisClient may be nil on a single replica.
func NewManager(k8sClient kubernetes.Interface, redisClient *redis.Client, workload Workload, cfg *config.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		k8sClient:        k8sClient,
		redis:            redisClient,
		workload:         workload,
		config:           cfg,
		logger:           logger,
		onLostLeadership: terminateSelf,
	}
}

// IsLeader returns true if this instance is currently the leader.
func (m *Manager) IsLeader() bool {
	return m.isLeader.Load()
}

// CapacityFreed routes a capacity signal to the workload. Followers forward
// it to the leader over Redis pub/sub; without Redis the next tick covers it.
func (m *Manager) CapacityFreed(tenantID string) {
	if m.IsLeader() {
		m.workload.CapacityFreed(tenantID)
		return
	}
	if m.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.redis.Publish(ctx, redisclient.CapacityFreedChannel(), tenantID).Err(); err != nil {
		m.logger.Warn("failed to forward capacity signal to leader",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// Run starts the manager with leader election.
// This method blocks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if !m.config.LeaderElectionEnabled || m.k8sClient == nil {
		m.logger.Info("Leader election disabled, running as leader directly")
		m.becomeLeader()
		defer m.stepDown()
		return m.runLeaderWorkload(ctx)
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      m.config.LeaderElectionLockName,
			Namespace: m.config.LeaderElectionNamespace,
		},
		Client: m.k8sClient.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: m.config.PodName,
		},
	}

	m.logger.Info("Starting leader election",
		zap.String("lock_name", m.config.LeaderElectionLockName),
		zap.String("namespace", m.config.LeaderElectionNamespace),
		zap.String("pod_name", m.config.PodName),
	)

	leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
		Lock:            lock,
		ReleaseOnCancel: true,
		LeaseDuration:   m.config.LeaderElectionDuration,
		RenewDeadline:   m.config.LeaderElectionRenewDeadline,
		RetryPeriod:     m.config.LeaderElectionRetryPeriod,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				m.logger.Info("Became leader, starting wait queue retrier")
				m.becomeLeader()
				if err := m.runLeaderWorkload(ctx); err != nil && ctx.Err() == nil {
					m.logger.Error("Leader workload failed", zap.Error(err))
				}
			},
			OnStoppedLeading: func() {
				m.logger.Info("Lost leadership, wait queue retrier stopped")
				m.stepDown()
				// A replica that lost its lease mid-flight restarts rather than
				// risk a second drainer; on shutdown there is nothing to do.
				if ctx.Err() == nil && m.onLostLeadership != nil {
					m.onLostLeadership()
				}
			},
			OnNewLeader: func(identity string) {
				if identity == m.config.PodName {
					return
				}
				m.logger.Info("Leader elected", zap.String("leader", identity))
			},
		},
	})

	return nil
}

func (m *Manager) becomeLeader() {
	m.isLeader.Store(true)
	middleware.LeaderStatus.Set(1)
}

func (m *Manager) stepDown() {
	m.isLeader.Store(false)
	middleware.LeaderStatus.Set(0)
}

// runLeaderWorkload is the core logic that ONLY the leader runs.
func (m *Manager) runLeaderWorkload(ctx context.Context) error {
	if m.redis != nil {
		go m.safeGo(ctx, "capacitySubscriber", func() { m.subscribeCapacity(ctx) })
	}
	m.safeGo(ctx, "waitQueueRetrier", func() { m.workload.Run(ctx) })
	return ctx.Err()
}

// subscribeCapacity relays capacity signals published by followers.
func (m *Manager) subscribeCapacity(ctx context.Context) {
	sub := m.redis.Subscribe(ctx, redisclient.CapacityFreedChannel())
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.workload.CapacityFreed(msg.Payload)
		}
	}
}

// safeGo wraps a goroutine function with panic recovery, logging, and
// automatic restart with exponential backoff.  If the function panics or
// returns, it is restarted after an increasing delay (1s → 2s → 4s … capped
// at 30s).  The loop exits only when ctx is cancelled.
func (m *Manager) safeGo(ctx context.Context, name string, fn func()) {
	const maxBackoff = 30 * time.Second
	backoff := time.Second

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					middleware.PanicsRecoveredTotal.Inc()
					m.logger.Error("background goroutine panicked, restarting",
						zap.String("goroutine", name),
						zap.Any("panic", r),
						zap.Duration("backoff", backoff),
					)
				}
			}()
			fn()
		}()

		// fn returned (or panicked), restart unless context is done
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			m.logger.Info("restarting background goroutine",
				zap.String("goroutine", name),
			)
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// NewInClusterClient builds a clientset from the pod's service account.
func NewInClusterClient() (*kubernetes.Clientset, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	return clientset, nil
}

func terminateSelf() {
	process, _ := os.FindProcess(os.Getpid())
	if process != nil {
		_ = process.Signal(syscall.SIGTERM)
	}
}
