package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewClientFromRedis(rdb)
}

func TestCacheHitRememberAndLookup(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, found, err := c.LookupCacheHit(ctx, "c1", "svc", "fn", "key1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.RememberCacheHit(ctx, "c1", "svc", "fn", "key1", "job-1", time.Minute))

	id, found, err := c.LookupCacheHit(ctx, "c1", "svc", "fn", "key1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "job-1", id)
}

func TestTryDebounce(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.TryDebounce(ctx, "c1", "svc", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	second, err := c.TryDebounce(ctx, "c1", "svc", time.Minute)
	require.NoError(t, err)
	require.False(t, second)
}

func TestAllowTokenBucket(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	cfg := BucketConfig{Capacity: 2, RefillRate: 0.001}

	allowed, _, err := c.Allow(ctx, "poller:c1", cfg, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = c.Allow(ctx, "poller:c1", cfg, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, retryAfter, err := c.Allow(ctx, "poller:c1", cfg, 1)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestAllowDisabledBucket(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	allowed, _, err := c.Allow(ctx, "poller:c2", BucketConfig{}, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}
