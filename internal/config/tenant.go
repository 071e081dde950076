package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"session-allocator-go/internal/models"
)

const (
	// TenantConfigRedisKey is the hash of tenant ID → JSON TenantSettings.
	TenantConfigRedisKey = "csa:tenant:config"

	defaultMinSkillMatchRatio = 0.6
)

// TenantSettings is the per-tenant allocation policy snapshot.
type TenantSettings struct {
	Weights            models.AllocationWeights `json:"weights" yaml:"weights"`
	Strategy           models.Strategy          `json:"strategy" yaml:"strategy"`
	MinSkillMatchRatio float64                  `json:"min_skill_match_ratio,omitempty" yaml:"min_skill_match_ratio"`
}

// DefaultTenantSettings is applied to tenants without their own entry.
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		Weights:            models.DefaultWeights(),
		Strategy:           models.StrategyBalanced,
		MinSkillMatchRatio: defaultMinSkillMatchRatio,
	}
}

// Validate fills defaults for omitted optional fields and rejects anything the
// allocator must never see at allocation time.
func (s *TenantSettings) Validate() error {
	if err := s.Weights.Validate(); err != nil {
		return err
	}
	strategy, err := models.ParseStrategy(string(s.Strategy))
	if err != nil {
		return err
	}
	s.Strategy = strategy
	if s.MinSkillMatchRatio == 0 {
		s.MinSkillMatchRatio = defaultMinSkillMatchRatio
	}
	if s.MinSkillMatchRatio < 0 || s.MinSkillMatchRatio > 1 {
		return fmt.Errorf("min_skill_match_ratio must be in (0,1], got %v", s.MinSkillMatchRatio)
	}
	return nil
}

// TenantRegistry holds the current settings of every tenant. Reads are
// lock-free; a reload swaps the whole map so an allocation never sees half of
// an update.
type TenantRegistry struct {
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[string]TenantSettings]
	base     map[string]TenantSettings // file layer, guarded by writeMu
	defaults TenantSettings
}

func NewTenantRegistry(defaults TenantSettings) *TenantRegistry {
	r := &TenantRegistry{defaults: defaults}
	empty := map[string]TenantSettings{}
	r.snapshot.Store(&empty)
	return r
}

// Settings returns the tenant's settings, or the defaults.
func (r *TenantRegistry) Settings(tenantID string) TenantSettings {
	if s, ok := (*r.snapshot.Load())[tenantID]; ok {
		return s
	}
	return r.defaults
}

// Lookup reports whether the tenant has its own entry.
func (r *TenantRegistry) Lookup(tenantID string) (TenantSettings, bool) {
	s, ok := (*r.snapshot.Load())[tenantID]
	return s, ok
}

// Set validates and installs one tenant's settings.
func (r *TenantRegistry) Set(tenantID string, s TenantSettings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.snapshot.Load()
	next := make(map[string]TenantSettings, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[tenantID] = s
	r.snapshot.Store(&next)
	return nil
}

// Merge validates every entry and installs the valid ones on top of the
// current snapshot. Invalid entries keep their previous value and are
// returned as errors.
func (r *TenantRegistry) Merge(entries map[string]TenantSettings) []error {
	var errs []error
	valid := make(map[string]TenantSettings, len(entries))
	for id, s := range entries {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
			continue
		}
		valid[id] = s
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.snapshot.Load()
	next := make(map[string]TenantSettings, len(cur)+len(valid))
	for k, v := range cur {
		next[k] = v
	}
	for k, v := range valid {
		next[k] = v
	}
	r.snapshot.Store(&next)
	return errs
}

// LoadBase installs the file layer. Each Redis refresh rebuilds the snapshot
// from this layer plus the hash, so a tenant deleted from Redis falls back to
// its file entry or the defaults.
func (r *TenantRegistry) LoadBase(entries map[string]TenantSettings) []error {
	var errs []error
	base := make(map[string]TenantSettings, len(entries))
	for id, s := range entries {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
			continue
		}
		base[id] = s
	}

	r.writeMu.Lock()
	r.base = base
	r.writeMu.Unlock()

	return append(errs, r.Merge(base)...)
}

// rebuild replaces the snapshot with the file layer overlaid by entries.
// Tenants listed in keep retain their current value.
func (r *TenantRegistry) rebuild(entries map[string]TenantSettings, keep []string) []error {
	var errs []error
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.snapshot.Load()
	next := make(map[string]TenantSettings, len(r.base)+len(entries))
	for k, v := range r.base {
		next[k] = v
	}
	for _, id := range keep {
		if v, ok := cur[id]; ok {
			next[id] = v
		}
	}
	for id, s := range entries {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
			if v, ok := cur[id]; ok {
				next[id] = v
			}
			continue
		}
		next[id] = s
	}
	r.snapshot.Store(&next)
	return errs
}

// tenantFile is the YAML bootstrap format.
type tenantFile struct {
	Tenants map[string]TenantSettings `yaml:"tenants"`
}

// LoadTenantFile reads tenant settings from a YAML file.
func LoadTenantFile(path string) (map[string]TenantSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant config file: %w", err)
	}
	var f tenantFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("malformed tenant config file %s: %w", path, err)
	}
	return f.Tenants, nil
}

// RefreshFromRedis rebuilds the registry from the file layer and the tenant
// hash. Malformed or invalid entries are logged and skipped; the previous
// snapshot for those tenants stays in force. Entries gone from the hash are
// dropped.
func (r *TenantRegistry) RefreshFromRedis(ctx context.Context, client *redis.Client, logger *zap.Logger) {
	raw, err := client.HGetAll(ctx, TenantConfigRedisKey).Result()
	if err != nil {
		logger.Warn("failed to refresh tenant config from Redis", zap.Error(err))
		return
	}

	entries := make(map[string]TenantSettings, len(raw))
	var malformed []string
	for tenantID, js := range raw {
		var s TenantSettings
		if err := json.Unmarshal([]byte(js), &s); err != nil {
			logger.Error("malformed tenant config in Redis, keeping previous",
				zap.String("tenant_id", tenantID), zap.Error(err))
			malformed = append(malformed, tenantID)
			continue
		}
		entries[tenantID] = s
	}

	for _, err := range r.rebuild(entries, malformed) {
		logger.Error("rejected invalid tenant config, keeping previous", zap.Error(err))
	}
}

// Persist validates, writes to Redis and installs the settings locally so the
// next allocation on this replica picks them up without waiting for a refresh.
func (r *TenantRegistry) Persist(ctx context.Context, client *redis.Client, tenantID string, s TenantSettings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	js, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode tenant config: %w", err)
	}
	if err := client.HSet(ctx, TenantConfigRedisKey, tenantID, js).Err(); err != nil {
		return fmt.Errorf("failed to store tenant config: %w", err)
	}
	return r.Set(tenantID, s)
}

// RunRefresh periodically reloads tenant settings until ctx is done. Runs on
// every replica so weight changes take effect without restarts.
func (r *TenantRegistry) RunRefresh(ctx context.Context, client *redis.Client, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Tenant config refresh started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Tenant config refresh stopped")
			return
		case <-ticker.C:
			r.RefreshFromRedis(ctx, client, logger)
		}
	}
}

// TenantStore pairs the registry with the Redis hash it is refreshed from.
// Without a client, updates only live in this process.
type TenantStore struct {
	*TenantRegistry
	client *redis.Client
}

func NewTenantStore(registry *TenantRegistry, client *redis.Client) *TenantStore {
	return &TenantStore{TenantRegistry: registry, client: client}
}

// Update replaces one tenant's settings.
func (s *TenantStore) Update(ctx context.Context, tenantID string, settings TenantSettings) error {
	if s.client == nil {
		return s.Set(tenantID, settings)
	}
	return s.Persist(ctx, s.client, tenantID, settings)
}
