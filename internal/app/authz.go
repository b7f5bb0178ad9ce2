package app

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/zerodna/cms-authz/internal/rbac"
)

// Authz bundles the decision side and the invalidation hook chosen by AUTHZ_CACHE.
type Authz struct {
	Engine      *rbac.Engine
	Authorizer  rbac.Authorizer
	Invalidator rbac.Invalidator
}

// RevokePolicy maps the configuration flag onto the engine policy.
func (c *Config) RevokePolicy() rbac.RevokePolicy {
	if c.AuthzRevokeOverridesRole {
		return rbac.RevokeOverridesRoles
	}
	return rbac.RevokeDirectOnly
}

// NewAuthz builds the engine and, when configured, wraps it in a snapshot cache.
// observer may be nil.
func NewAuthz(cfg *Config, store rbac.AuthzStore, client *redis.Client, observer rbac.DecisionObserver, logger *slog.Logger) (Authz, error) {
	opts := []rbac.EngineOption{rbac.WithRevokePolicy(cfg.RevokePolicy())}
	if observer != nil {
		opts = append(opts, rbac.WithObserver(observer))
	}
	engine := rbac.NewEngine(store, logger, opts...)
	out := Authz{Engine: engine, Authorizer: engine, Invalidator: rbac.NopInvalidator{}}

	var snapshots rbac.SnapshotCache
	switch cfg.AuthzCache {
	case CacheNone, "":
		return out, nil
	case CacheMemory:
		snapshots = rbac.NewMemoryCache(cfg.AuthzCacheTTL)
	case CacheRedis:
		if client == nil {
			return Authz{}, fmt.Errorf("app: AUTHZ_CACHE=redis requires a redis client")
		}
		snapshots = rbac.NewRedisCache(client)
	default:
		return Authz{}, fmt.Errorf("app: unknown AUTHZ_CACHE %q", cfg.AuthzCache)
	}
	cached := rbac.NewCachedEngine(engine, snapshots, cfg.AuthzCacheTTL, logger)
	out.Authorizer = cached
	out.Invalidator = cached
	return out, nil
}

// WorkerInvalidator returns the invalidation hook usable from a process that
// does not serve decisions. A memory cache lives inside the API process, so
// only the redis mode can be reached; memory snapshots still expire at the
// earliest assignment expiry they contain.
func WorkerInvalidator(cfg *Config, client *redis.Client) rbac.Invalidator {
	if cfg.AuthzCache == CacheRedis && client != nil {
		return rbac.NewRedisCache(client)
	}
	return rbac.NopInvalidator{}
}
