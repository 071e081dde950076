package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"session-allocator-go/internal/models"
)

func TestLoadConfig(t *testing.T) {
	t.Run("load with defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.HTTPPort)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, BackendRedis, cfg.LoadStore)
		assert.Equal(t, BackendRedis, cfg.QueueBackend)
		assert.Equal(t, BackendLog, cfg.NotifyBackend)
		assert.Equal(t, 2*time.Second, cfg.AllocationTimeout)
		assert.Equal(t, 300*time.Millisecond, cfg.ClassifyTimeout)
		assert.Equal(t, 30*time.Second, cfg.QueueRetryInterval)
		assert.Zero(t, cfg.QueueMaxWait)
		assert.False(t, cfg.LeaderElectionEnabled)
	})

	t.Run("load with custom env vars", func(t *testing.T) {
		t.Setenv("HTTP_PORT", "9000")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOAD_STORE", "memory")
		t.Setenv("QUEUE_BACKEND", "memory")
		t.Setenv("NOTIFY_BACKEND", "nats")
		t.Setenv("ALLOCATION_TIMEOUT", "500ms")
		t.Setenv("QUEUE_MAX_WAIT", "10m")
		t.Setenv("LEADER_ELECTION_ENABLED", "true")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "9000", cfg.HTTPPort)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, BackendMemory, cfg.LoadStore)
		assert.Equal(t, BackendNATS, cfg.NotifyBackend)
		assert.Equal(t, 500*time.Millisecond, cfg.AllocationTimeout)
		assert.Equal(t, 10*time.Minute, cfg.QueueMaxWait)
		assert.True(t, cfg.LeaderElectionEnabled)
	})

	t.Run("malformed values fall back to defaults", func(t *testing.T) {
		t.Setenv("REDIS_POOL_SIZE", "lots")
		t.Setenv("ALLOCATION_TIMEOUT", "soon")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 50, cfg.RedisPoolSize)
		assert.Equal(t, 2*time.Second, cfg.AllocationTimeout)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "verbose"}, wantErr: "invalid log level"},
		{name: "bad load store", env: map[string]string{"LOAD_STORE": "etcd"}, wantErr: "invalid LOAD_STORE"},
		{name: "postgres load store without url", env: map[string]string{"LOAD_STORE": "postgres"}, wantErr: "requires POSTGRES_URL"},
		{name: "memory load store with postgres staff", env: map[string]string{"LOAD_STORE": "memory", "POSTGRES_URL": "postgres://localhost/csa"}, wantErr: "LOAD_STORE=memory"},
		{name: "bad queue backend", env: map[string]string{"QUEUE_BACKEND": "kafka"}, wantErr: "invalid QUEUE_BACKEND"},
		{name: "memory queue with leader election", env: map[string]string{"QUEUE_BACKEND": "memory", "LEADER_ELECTION_ENABLED": "true"}, wantErr: "QUEUE_BACKEND=memory"},
		{name: "bad notify backend", env: map[string]string{"NOTIFY_BACKEND": "smtp"}, wantErr: "invalid NOTIFY_BACKEND"},
		{name: "production without postgres", env: map[string]string{"ENV": "production"}, wantErr: "POSTGRES_URL is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTenantSettingsValidate(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		s := TenantSettings{Weights: models.DefaultWeights()}
		require.NoError(t, s.Validate())
		assert.Equal(t, models.StrategyBalanced, s.Strategy)
		assert.Equal(t, 0.6, s.MinSkillMatchRatio)
	})

	t.Run("rejects weights not summing to one", func(t *testing.T) {
		s := TenantSettings{Weights: models.AllocationWeights{Skill: 0.5, Workload: 0.1}}
		assert.ErrorIs(t, s.Validate(), models.ErrInvalidWeights)
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		s := TenantSettings{Weights: models.DefaultWeights(), Strategy: "fastest"}
		assert.Error(t, s.Validate())
	})

	t.Run("rejects ratio above one", func(t *testing.T) {
		s := TenantSettings{Weights: models.DefaultWeights(), MinSkillMatchRatio: 1.5}
		assert.Error(t, s.Validate())
	})
}

func TestTenantRegistry(t *testing.T) {
	reg := NewTenantRegistry(DefaultTenantSettings())

	assert.Equal(t, DefaultTenantSettings(), reg.Settings("t1"))
	_, ok := reg.Lookup("t1")
	assert.False(t, ok)

	custom := TenantSettings{
		Weights:  models.AllocationWeights{Skill: 0.5, Workload: 0.2, ResponseTime: 0.1, History: 0.1, Preference: 0.1},
		Strategy: models.StrategySkillPriority,
	}
	require.NoError(t, reg.Set("t1", custom))
	assert.Equal(t, models.StrategySkillPriority, reg.Settings("t1").Strategy)

	// an invalid update keeps the previous snapshot
	err := reg.Set("t1", TenantSettings{Weights: models.AllocationWeights{Skill: 2}})
	assert.ErrorIs(t, err, models.ErrInvalidWeights)
	assert.Equal(t, 0.5, reg.Settings("t1").Weights.Skill)

	errs := reg.Merge(map[string]TenantSettings{
		"t2": {Weights: models.DefaultWeights(), Strategy: models.StrategySpeedPriority},
		"t1": {Weights: models.AllocationWeights{Skill: 0.9}},
	})
	assert.Len(t, errs, 1)
	assert.Equal(t, models.StrategySpeedPriority, reg.Settings("t2").Strategy)
	assert.Equal(t, 0.5, reg.Settings("t1").Weights.Skill)
}

func TestLoadTenantFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	content := `
tenants:
  acme:
    strategy: load_priority
    min_skill_match_ratio: 0.5
    weights:
      skill: 0.3
      workload: 0.3
      response_time: 0.2
      history: 0.1
      preference: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	entries, err := LoadTenantFile(path)
	require.NoError(t, err)
	require.Contains(t, entries, "acme")
	assert.Equal(t, models.StrategyLoadPriority, entries["acme"].Strategy)
	assert.Equal(t, 0.5, entries["acme"].MinSkillMatchRatio)
	assert.Equal(t, 0.3, entries["acme"].Weights.Workload)

	_, err = LoadTenantFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTenantRegistryRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := NewTenantRegistry(DefaultTenantSettings())

	s := TenantSettings{Weights: models.DefaultWeights(), Strategy: models.StrategySpeedPriority}
	require.NoError(t, reg.Persist(ctx, client, "t1", s))
	assert.Equal(t, models.StrategySpeedPriority, reg.Settings("t1").Strategy)

	// another replica picks the write up on refresh
	other := NewTenantRegistry(DefaultTenantSettings())
	other.RefreshFromRedis(ctx, client, zap.NewNop())
	assert.Equal(t, models.StrategySpeedPriority, other.Settings("t1").Strategy)

	// bad entries are skipped
	bad, err := json.Marshal(TenantSettings{Weights: models.AllocationWeights{Skill: 3}})
	require.NoError(t, err)
	mr.HSet(TenantConfigRedisKey, "t1", string(bad))
	mr.HSet(TenantConfigRedisKey, "t2", "{not json")
	other.RefreshFromRedis(ctx, client, zap.NewNop())
	assert.Equal(t, models.StrategySpeedPriority, other.Settings("t1").Strategy)
	_, ok := other.Lookup("t2")
	assert.False(t, ok)
}

func TestRefreshFromRedisDropsDeletedTenants(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := NewTenantRegistry(DefaultTenantSettings())
	errs := reg.LoadBase(map[string]TenantSettings{
		"file-only": {Weights: models.DefaultWeights(), Strategy: models.StrategyLoadPriority},
		"both":      {Weights: models.DefaultWeights(), Strategy: models.StrategyLoadPriority},
	})
	require.Empty(t, errs)

	speed, err := json.Marshal(TenantSettings{Weights: models.DefaultWeights(), Strategy: models.StrategySpeedPriority})
	require.NoError(t, err)
	mr.HSet(TenantConfigRedisKey, "both", string(speed))
	mr.HSet(TenantConfigRedisKey, "redis-only", string(speed))
	reg.RefreshFromRedis(ctx, client, zap.NewNop())

	assert.Equal(t, models.StrategySpeedPriority, reg.Settings("both").Strategy)
	assert.Equal(t, models.StrategySpeedPriority, reg.Settings("redis-only").Strategy)
	assert.Equal(t, models.StrategyLoadPriority, reg.Settings("file-only").Strategy)

	mr.HDel(TenantConfigRedisKey, "both")
	mr.HDel(TenantConfigRedisKey, "redis-only")
	reg.RefreshFromRedis(ctx, client, zap.NewNop())

	// the file entry shows through again; the redis-only tenant is gone
	assert.Equal(t, models.StrategyLoadPriority, reg.Settings("both").Strategy)
	_, ok := reg.Lookup("redis-only")
	assert.False(t, ok)
	assert.Equal(t, DefaultTenantSettings(), reg.Settings("redis-only"))
	assert.Equal(t, models.StrategyLoadPriority, reg.Settings("file-only").Strategy)
}

func TestTenantStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := TenantSettings{Weights: models.DefaultWeights(), Strategy: models.StrategyLoadPriority}

	local := NewTenantStore(NewTenantRegistry(DefaultTenantSettings()), nil)
	require.NoError(t, local.Update(ctx, "t1", s))
	assert.Equal(t, models.StrategyLoadPriority, local.Settings("t1").Strategy)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	shared := NewTenantStore(NewTenantRegistry(DefaultTenantSettings()), client)
	require.NoError(t, shared.Update(ctx, "t1", s))
	assert.Equal(t, models.StrategyLoadPriority, shared.Settings("t1").Strategy)
	assert.True(t, mr.Exists(TenantConfigRedisKey))
}
