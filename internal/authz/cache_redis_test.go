package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, time.Minute), mr
}

func TestRedisCacheDecisionRoundTrip(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	_, ok := cache.GetDecision(ctx, 1, "courses.view")
	require.False(t, ok)

	cache.SetDecision(ctx, 1, "courses.view", true)
	cache.SetDecision(ctx, 1, "courses.edit", false)

	allowed, ok := cache.GetDecision(ctx, 1, "courses.view")
	require.True(t, ok)
	assert.True(t, allowed)

	allowed, ok = cache.GetDecision(ctx, 1, "courses.edit")
	require.True(t, ok)
	assert.False(t, allowed)
}

func TestRedisCachePermissionSetRoundTrip(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	_, ok := cache.GetPermissionSet(ctx, 1)
	require.False(t, ok)

	cache.SetPermissionSet(ctx, 1, []string{"courses.view", "courses.edit"})

	set, ok := cache.GetPermissionSet(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, []string{"courses.view", "courses.edit"}, set)
}

func TestRedisCacheTTL(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	cache.SetDecision(ctx, 1, "courses.view", true)
	cache.SetPermissionSet(ctx, 1, []string{"courses.view"})

	mr.FastForward(2 * time.Minute)

	_, ok := cache.GetDecision(ctx, 1, "courses.view")
	assert.False(t, ok)
	_, ok = cache.GetPermissionSet(ctx, 1)
	assert.False(t, ok)
}

func TestRedisCacheInvalidateUser(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	cache.SetDecision(ctx, 1, "courses.view", true)
	cache.SetDecision(ctx, 1, "courses.edit", true)
	cache.SetPermissionSet(ctx, 1, []string{"courses.view", "courses.edit"})
	cache.SetDecision(ctx, 11, "courses.view", true)

	require.NoError(t, cache.InvalidateUser(ctx, 1))

	_, ok := cache.GetDecision(ctx, 1, "courses.view")
	assert.False(t, ok)
	_, ok = cache.GetDecision(ctx, 1, "courses.edit")
	assert.False(t, ok)
	_, ok = cache.GetPermissionSet(ctx, 1)
	assert.False(t, ok)

	_, ok = cache.GetDecision(ctx, 11, "courses.view")
	assert.True(t, ok, "invalidation must not spill onto other users")
}

func TestRedisCachePurge(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	cache.SetDecision(ctx, 1, "courses.view", true)
	cache.SetPermissionSet(ctx, 2, []string{"courses.view"})

	require.NoError(t, cache.Purge(ctx))

	_, ok := cache.GetDecision(ctx, 1, "courses.view")
	assert.False(t, ok)
	_, ok = cache.GetPermissionSet(ctx, 2)
	assert.False(t, ok)
}

func TestRedisCacheDownDegradesToMiss(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	cache.SetDecision(ctx, 1, "courses.view", true)
	mr.Close()

	_, ok := cache.GetDecision(ctx, 1, "courses.view")
	assert.False(t, ok, "an unreachable cache reads as a miss, never an error")

	err := cache.InvalidateUser(ctx, 1)
	assert.Error(t, err, "invalidation reports transport failures")
}
