package app

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/internal/rbac/rbactest"
)

func TestNewAuthzModes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := rbactest.NewStore()

	none, err := NewAuthz(&Config{AuthzCache: CacheNone}, store, nil, nil, nil)
	require.NoError(t, err)
	assert.Same(t, none.Engine, none.Authorizer)
	assert.IsType(t, rbac.NopInvalidator{}, none.Invalidator)

	mem, err := NewAuthz(&Config{AuthzCache: CacheMemory, AuthzCacheTTL: time.Minute}, store, nil, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &rbac.CachedEngine{}, mem.Authorizer)

	red, err := NewAuthz(&Config{AuthzCache: CacheRedis, AuthzCacheTTL: time.Minute}, store, client, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &rbac.CachedEngine{}, red.Invalidator)

	_, err = NewAuthz(&Config{AuthzCache: CacheRedis}, store, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewAuthz(&Config{AuthzCache: "bogus"}, store, nil, nil, nil)
	assert.Error(t, err)
}

func TestNewAuthzAppliesRevokePolicy(t *testing.T) {
	store := rbactest.NewStore()
	a, err := NewAuthz(&Config{AuthzCache: CacheNone, AuthzRevokeOverridesRole: false}, store, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, rbac.RevokeDirectOnly, a.Engine.Policy())
}

func TestWorkerInvalidator(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	assert.IsType(t, &rbac.RedisCache{}, WorkerInvalidator(&Config{AuthzCache: CacheRedis}, client))
	assert.IsType(t, rbac.NopInvalidator{}, WorkerInvalidator(&Config{AuthzCache: CacheMemory}, client))
}
