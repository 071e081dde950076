package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/kubernetes"

	"session-allocator-go/internal/allocator"
	"session-allocator-go/internal/api"
	"session-allocator-go/internal/api/handlers"
	"session-allocator-go/internal/config"
	"session-allocator-go/internal/datastore/memory"
	"session-allocator-go/internal/datastore/postgres"
	"session-allocator-go/internal/history"
	"session-allocator-go/internal/leader"
	"session-allocator-go/internal/loadstore"
	"session-allocator-go/internal/notifier"
	"session-allocator-go/internal/preprocess"
	"session-allocator-go/internal/redisclient"
	"session-allocator-go/internal/releaser"
	"session-allocator-go/internal/waitqueue"
)

// stores is the set of backing stores the allocator runs on.
type stores struct {
	staff    allocator.StaffStore
	load     loadStore
	sessions allocator.SessionStore
	history  allocator.HistorySource
}

type loadStore interface {
	allocator.LoadStore
	releaser.LoadStore
}

func main() {
	// Create root context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Session Allocator",
		zap.String("version", cfg.AppVersion),
		zap.String("pod_name", cfg.PodName),
		zap.String("load_store", cfg.LoadStore),
		zap.String("queue_backend", cfg.QueueBackend),
		zap.String("notify_backend", cfg.NotifyBackend),
	)

	readiness := make(map[string]handlers.Pinger)

	// Redis backs the load counters, the wait queue, notifications, tenant
	// settings and the follower-to-leader capacity relay.
	var rdb *redis.Client
	if needsRedis(cfg) {
		redisClient, err := redisclient.NewClient(cfg)
		if err != nil {
			logger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Error closing Redis connection", zap.Error(err))
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		logger.Info("Connected to Redis")
		rdb = redisClient.GetRedis()
		readiness["redis"] = redisClient
	}

	// Postgres holds staff, sessions and service history
	var pg *postgres.Client
	if cfg.PostgresURL != "" {
		pg, err = postgres.NewClient(ctx, cfg)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Error("Error closing Postgres connection", zap.Error(err))
			}
		}()
		logger.Info("Connected to Postgres")
		readiness["postgres"] = pg
	}

	st := buildStores(cfg, pg, rdb, logger)

	// Tenant settings: YAML bootstrap, then Redis on every replica
	registry := config.NewTenantRegistry(config.DefaultTenantSettings())
	if cfg.TenantConfigFile != "" {
		entries, err := config.LoadTenantFile(cfg.TenantConfigFile)
		if err != nil {
			logger.Fatal("Failed to load tenant config file", zap.Error(err))
		}
		for _, err := range registry.LoadBase(entries) {
			logger.Error("Rejected tenant config from file", zap.Error(err))
		}
		logger.Info("Loaded tenant config file",
			zap.String("path", cfg.TenantConfigFile),
			zap.Int("tenants", len(entries)),
		)
	}
	if rdb != nil {
		registry.RefreshFromRedis(ctx, rdb, logger)
		go registry.RunRefresh(ctx, rdb, cfg.TenantConfigRefresh, logger)
	}

	// Wait queue
	var queue waitqueue.Queue
	if cfg.QueueBackend == config.BackendRedis {
		queue = waitqueue.NewRedisQueue(rdb)
	} else {
		queue = waitqueue.NewMemoryQueue()
	}

	// Create components
	pre := preprocess.New(
		preprocess.KeywordClassifier{},
		preprocess.KeywordClassifier{},
		preprocess.KeywordClassifier{},
		cfg.ClassifyTimeout,
		logger,
	)
	alloc := allocator.NewAllocator(allocator.Dependencies{
		Preprocessor: pre,
		Staff:        st.staff,
		Load:         st.load,
		Sessions:     st.sessions,
		History:      history.NewCachedSource(st.history, cfg.HistoryCacheTTL),
		Tenants:      registry,
		Queue:        queue,
	}, cfg.AllocationTimeout, logger)

	notify, natsConn, err := buildNotifier(cfg, rdb, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	retrier := waitqueue.NewRetrier(queue, alloc, notify, cfg.QueueRetryInterval, logger,
		waitqueue.WithMaxWait(cfg.QueueMaxWait))

	// Create Kubernetes client (if in cluster)
	var k8sClient kubernetes.Interface
	if cfg.LeaderElectionEnabled {
		clientset, err := leader.NewInClusterClient()
		if err != nil {
			logger.Warn("Failed to create Kubernetes client, disabling leader election",
				zap.Error(err))
			cfg.LeaderElectionEnabled = false
		} else {
			k8sClient = clientset
			logger.Info("Kubernetes client created successfully")
		}
	}

	// The leader manager gates the retrier and routes capacity signals to it
	leaderMgr := leader.NewManager(k8sClient, rdb, retrier, cfg, logger)
	rel := releaser.NewReleaser(st.load, leaderMgr, logger)

	router := api.NewRouter(alloc, rel, config.NewTenantStore(registry, rdb), queue, readiness, cfg, logger, leaderMgr)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start metrics server (if different port), separate minimal mux
	var metricsServer *http.Server
	if cfg.MetricsPort != cfg.HTTPPort {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
	}

	// Start leader manager; only the leader drains the wait queue
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		if err := leaderMgr.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Leader manager stopped with error", zap.Error(err))
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start servers in goroutines
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info("Starting metrics server", zap.String("port", cfg.MetricsPort))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("Session Allocator started successfully",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("metrics_port", cfg.MetricsPort),
		zap.Bool("leader_election", cfg.LeaderElectionEnabled),
	)

	// Wait for shutdown signal
	<-quit
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first so no allocation starts after the queue stops
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		logger.Info("HTTP server shut down gracefully")
	}

	// Cancel root context to stop background processes
	cancel()
	select {
	case <-leaderDone:
	case <-shutdownCtx.Done():
		logger.Warn("Wait queue retrier did not stop before shutdown timeout")
	}

	// Shutdown metrics server if running
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	logger.Info("Session Allocator shutdown complete")
}

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	if cfg.LogFormat == "console" {
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return config.Build(zap.Fields(zap.String("app", cfg.AppName)))
}

func needsRedis(cfg *config.Config) bool {
	return cfg.LoadStore == config.BackendRedis ||
		cfg.QueueBackend == config.BackendRedis ||
		cfg.NotifyBackend == config.BackendRedis
}

// buildStores picks the staff store (Postgres, or in-memory for local runs)
// and the load store. LOAD_STORE=redis overlays Redis counters on the staff
// snapshot; memory and postgres commit against the staff store itself.
func buildStores(cfg *config.Config, pg *postgres.Client, rdb *redis.Client, logger *zap.Logger) stores {
	var st stores
	if pg != nil {
		repo := postgres.NewRepository(pg)
		st = stores{staff: repo, load: repo, sessions: repo, history: repo}
	} else {
		logger.Warn("POSTGRES_URL not set, using in-memory staff store")
		mem := memory.NewStore()
		st = stores{staff: mem, load: mem, sessions: mem, history: mem}
	}

	if cfg.LoadStore == config.BackendRedis {
		overlay := loadstore.NewOverlay(st.staff, loadstore.NewRedisStore(rdb))
		st.staff = overlay
		st.load = overlay
	}
	return st
}

func buildNotifier(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (waitqueue.Notifier, *nats.Conn, error) {
	switch cfg.NotifyBackend {
	case config.BackendRedis:
		return notifier.NewRedisNotifier(rdb), nil, nil
	case config.BackendNATS:
		n, conn, err := notifier.NewNATSNotifier(cfg.NATSURL, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
		return n, conn, nil
	}
	return notifier.NewLogNotifier(logger), nil, nil
}
