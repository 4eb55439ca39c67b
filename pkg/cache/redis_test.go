package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *RedisCache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis tests")
	}

	c, err := NewRedisCache(&Options{
		Backend:       BackendRedis,
		RedisAddr:     addr,
		RedisPassword: os.Getenv("REDIS_TEST_PASSWORD"),
		DefaultTTL:    time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_DistanceRoundTrip(t *testing.T) {
	c := newRedis(t)
	ctx := context.Background()
	dc := NewDistanceCache(c, "redis-test", time.Minute)

	require.NoError(t, dc.Set(ctx, 1, 2, 3, 4, 987.25))

	d, hit, err := dc.Get(ctx, 1, 2, 3, 4)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.InDelta(t, 987.25, d, 1e-12)

	n, err := dc.Invalidate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRedisCache_NotFound(t *testing.T) {
	c := newRedis(t)

	_, err := c.Get(context.Background(), "ridematch-test-nonexistent")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
