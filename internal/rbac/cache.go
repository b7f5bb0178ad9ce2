package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheGlobalVersionKey = "authz:version"
	cacheBumpChannel      = "authz.bump"
)

// Invalidator is notified after every mutation that can change a decision.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
	InvalidateAll(ctx context.Context) error
}

// NopInvalidator is used when caching is disabled.
type NopInvalidator struct{}

func (NopInvalidator) InvalidateUser(context.Context, int64) error { return nil }
func (NopInvalidator) InvalidateAll(context.Context) error         { return nil }

// SnapshotCache stores snapshots under keys that embed the current global and
// per-user versions, so a bump makes older entries unreachable.
type SnapshotCache interface {
	Invalidator
	Key(ctx context.Context, userID int64) (string, error)
	Load(ctx context.Context, key string) (Snapshot, bool, error)
	Save(ctx context.Context, key string, snap Snapshot, ttl time.Duration) error
}

// RedisCache keeps versions and snapshots in Redis so every API node shares them.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache instantiates the cache helper.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func userVersionKey(userID int64) string {
	return "authz:user:" + strconv.FormatInt(userID, 10) + ":version"
}

func snapshotKey(userID, global, user int64) string {
	return fmt.Sprintf("authz:snapshot:%d:%d:%d", userID, global, user)
}

// Key composes the snapshot key with the current versions.
func (c *RedisCache) Key(ctx context.Context, userID int64) (string, error) {
	vals, err := c.client.MGet(ctx, cacheGlobalVersionKey, userVersionKey(userID)).Result()
	if err != nil {
		return "", err
	}
	global, err := parseVersion(vals[0])
	if err != nil {
		return "", err
	}
	user, err := parseVersion(vals[1])
	if err != nil {
		return "", err
	}
	return snapshotKey(userID, global, user), nil
}

func parseVersion(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, fmt.Errorf("rbac: unexpected version type %T", v)
	}
}

// Load fetches a snapshot; a miss is (zero, false, nil).
func (c *RedisCache) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save writes a snapshot with the given TTL.
func (c *RedisCache) Save(ctx context.Context, key string, snap Snapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

// InvalidateUser bumps one user's version.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID int64) error {
	if err := c.client.Incr(ctx, userVersionKey(userID)).Err(); err != nil {
		return fmt.Errorf("rbac: bump user cache version: %w", err)
	}
	return nil
}

// InvalidateAll bumps the global version and announces it on the bump channel.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	ver, err := c.client.Incr(ctx, cacheGlobalVersionKey).Result()
	if err != nil {
		return fmt.Errorf("rbac: bump cache version: %w", err)
	}
	return c.client.Publish(ctx, cacheBumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// MemoryCache is a process-local SnapshotCache for single-node deployments.
type MemoryCache struct {
	items *gocache.Cache

	mu     sync.Mutex
	global int64
	users  map[int64]int64
}

// NewMemoryCache builds a MemoryCache that sweeps expired items every cleanup.
func NewMemoryCache(cleanup time.Duration) *MemoryCache {
	return &MemoryCache{
		items: gocache.New(gocache.NoExpiration, cleanup),
		users: make(map[int64]int64),
	}
}

func (c *MemoryCache) Key(_ context.Context, userID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshotKey(userID, c.global, c.users[userID]), nil
}

func (c *MemoryCache) Load(_ context.Context, key string) (Snapshot, bool, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return Snapshot{}, false, nil
	}
	snap, ok := v.(Snapshot)
	return snap, ok, nil
}

func (c *MemoryCache) Save(_ context.Context, key string, snap Snapshot, ttl time.Duration) error {
	c.items.Set(key, snap, ttl)
	return nil
}

func (c *MemoryCache) InvalidateUser(_ context.Context, userID int64) error {
	c.mu.Lock()
	c.users[userID]++
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	c.global++
	c.mu.Unlock()
	c.items.Flush()
	return nil
}

// CachedEngine answers from per-user snapshots and falls back to the engine
// whenever the cache misbehaves.
type CachedEngine struct {
	engine *Engine
	cache  SnapshotCache
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedEngine wraps engine with cache. ttl bounds how long a snapshot lives.
func NewCachedEngine(engine *Engine, cache SnapshotCache, ttl time.Duration, logger *slog.Logger) *CachedEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedEngine{engine: engine, cache: cache, ttl: ttl, logger: logger}
}

// InvalidateUser forwards to the cache.
func (c *CachedEngine) InvalidateUser(ctx context.Context, userID int64) error {
	return c.cache.InvalidateUser(ctx, userID)
}

// InvalidateAll forwards to the cache.
func (c *CachedEngine) InvalidateAll(ctx context.Context) error {
	return c.cache.InvalidateAll(ctx)
}

// Snapshot returns the cached snapshot for userID, loading it on a miss.
func (c *CachedEngine) Snapshot(ctx context.Context, userID int64) (Snapshot, error) {
	key, err := c.cache.Key(ctx, userID)
	if err != nil {
		c.logger.Warn("rbac cache key", slog.Int64("user_id", userID), slog.Any("error", err))
		return c.engine.Snapshot(ctx, userID)
	}
	if snap, ok, err := c.cache.Load(ctx, key); err != nil {
		c.logger.Warn("rbac cache load", slog.String("key", key), slog.Any("error", err))
	} else if ok && c.fresh(snap) {
		return snap, nil
	}

	res := c.group.DoChan(key, func() (interface{}, error) {
		snap, err := c.engine.Snapshot(ctx, userID)
		if err != nil {
			return Snapshot{}, err
		}
		if ttl := c.ttlFor(snap); ttl > 0 {
			if err := c.cache.Save(ctx, key, snap, ttl); err != nil {
				c.logger.Warn("rbac cache save", slog.String("key", key), slog.Any("error", err))
			}
		}
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return Snapshot{}, r.Err
		}
		return r.Val.(Snapshot), nil
	}
}

func (c *CachedEngine) fresh(snap Snapshot) bool {
	return snap.ValidUntil == nil || snap.ValidUntil.After(c.engine.now())
}

func (c *CachedEngine) ttlFor(snap Snapshot) time.Duration {
	ttl := c.ttl
	if snap.ValidUntil != nil {
		if until := snap.ValidUntil.Sub(c.engine.now()); until < ttl {
			ttl = until
		}
	}
	return ttl
}

// HasPermission checks the snapshot; on any failure it defers to the engine,
// which itself fails closed.
func (c *CachedEngine) HasPermission(ctx context.Context, userID int64, resource, action string) bool {
	snap, err := c.Snapshot(ctx, userID)
	if err != nil {
		c.logger.Warn("rbac cached snapshot", slog.Int64("user_id", userID), slog.Any("error", err))
		return c.engine.HasPermission(ctx, userID, resource, action)
	}
	return c.engine.decide("permission", Decision{Allowed: snap.Allows(PermissionKey(resource, action)), Source: SourceCache}).Allowed
}

func (c *CachedEngine) HasRole(ctx context.Context, userID int64, roleName string) bool {
	return c.hasAnyRole(ctx, "role", userID, []string{roleName})
}

func (c *CachedEngine) HasAnyRole(ctx context.Context, userID int64, roleNames ...string) bool {
	return c.hasAnyRole(ctx, "any_role", userID, roleNames)
}

func (c *CachedEngine) hasAnyRole(ctx context.Context, check string, userID int64, names []string) bool {
	snap, err := c.Snapshot(ctx, userID)
	if err != nil {
		c.logger.Warn("rbac cached snapshot", slog.Int64("user_id", userID), slog.Any("error", err))
		return c.engine.hasAnyRole(ctx, check, userID, names)
	}
	return c.engine.decide(check, Decision{Allowed: snap.HasAnyRole(names...), Source: SourceCache}).Allowed
}

func (c *CachedEngine) EffectivePermissions(ctx context.Context, userID int64) []string {
	snap, err := c.Snapshot(ctx, userID)
	if err != nil {
		return c.engine.EffectivePermissions(ctx, userID)
	}
	return snap.Permissions
}

var (
	_ Authorizer    = (*CachedEngine)(nil)
	_ Invalidator   = (*CachedEngine)(nil)
	_ SnapshotCache = (*RedisCache)(nil)
	_ SnapshotCache = (*MemoryCache)(nil)
)
