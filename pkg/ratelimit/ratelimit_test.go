package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridematch/pkg/config"
)

// clock ручные часы для MemoryLimiter
type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(strategy string, requests, burst int) (*MemoryLimiter, *clock) {
	l := NewMemoryLimiter(&Config{
		Requests:  requests,
		Window:    time.Second,
		Strategy:  strategy,
		BurstSize: burst,
	})
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l.now = c.now
	return l, c
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLimiter(StrategySlidingWindow, 3, 0)
	defer l.Close()

	for i := range 3 {
		ok, err := l.Allow(ctx, "google")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		c.advance(100 * time.Millisecond)
	}

	ok, err := l.Allow(ctx, "google")
	require.NoError(t, err)
	assert.False(t, ok)

	// другой ключ считается отдельно
	ok, err = l.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok)

	// первый запрос вышел из окна
	c.advance(750 * time.Millisecond)
	ok, err = l.Allow(ctx, "google")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "google")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiter_TokenBucket(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLimiter(StrategyTokenBucket, 10, 2)
	defer l.Close()

	for range 2 {
		ok, err := l.Allow(ctx, "google")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "google")
	require.NoError(t, err)
	assert.False(t, ok)

	// 10 в секунду: токен за 100 мс
	c.advance(100 * time.Millisecond)
	ok, err = l.Allow(ctx, "google")
	require.NoError(t, err)
	assert.True(t, ok)

	// ёмкость не превышает burst
	c.advance(10 * time.Second)
	ok, err = l.AllowN(ctx, "google", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = l.AllowN(ctx, "google", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLimiter_AllowN(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(StrategySlidingWindow, 5, 0)
	defer l.Close()

	ok, err := l.AllowN(ctx, "google", 4)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.AllowN(ctx, "google", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.AllowN(ctx, "google", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLimiter_Wait(t *testing.T) {
	t.Run("released_after_window", func(t *testing.T) {
		l := NewMemoryLimiter(&Config{Requests: 1, Window: 20 * time.Millisecond})
		defer l.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		start := time.Now()
		require.NoError(t, l.Wait(ctx, "google"))
		require.NoError(t, l.Wait(ctx, "google"))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("canceled", func(t *testing.T) {
		l := NewMemoryLimiter(&Config{Requests: 1, Window: time.Hour})
		defer l.Close()

		ok, err := l.Allow(context.Background(), "google")
		require.NoError(t, err)
		require.True(t, ok)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, l.Wait(ctx, "google"), context.DeadlineExceeded)
	})
}

func TestMemoryLimiter_Close(t *testing.T) {
	l := NewMemoryLimiter(DefaultConfig())
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err := l.Allow(context.Background(), "google")
	assert.ErrorIs(t, err, ErrLimiterClosed)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	l, c := newTestLimiter(StrategySlidingWindow, 1, 0)
	defer l.Close()

	_, err := l.Allow(context.Background(), "google")
	require.NoError(t, err)

	c.advance(3 * time.Second)
	l.cleanup()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.buckets)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
	}{
		{"default", nil, nil},
		{"memory", &Config{Requests: 1, Window: time.Second, Backend: "memory"}, nil},
		{"unknown_backend", &Config{Requests: 1, Window: time.Second, Backend: "etcd"}, ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &MemoryLimiter{}, l)
			assert.NoError(t, l.Close())
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(
		config.RateLimitConfig{
			Enabled:   true,
			Requests:  10,
			Window:    2 * time.Second,
			Strategy:  StrategyTokenBucket,
			Backend:   "redis",
			BurstSize: 4,
		},
		config.CacheConfig{Host: "redis", Port: 6380, Password: "secret", DB: 2},
	)

	assert.Equal(t, 10, cfg.Requests)
	assert.Equal(t, 2*time.Second, cfg.Window)
	assert.Equal(t, StrategyTokenBucket, cfg.Strategy)
	assert.Equal(t, 4, cfg.BurstSize)
	assert.Equal(t, "redis", cfg.Backend)
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, "secret", cfg.RedisPassword)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}

func TestConfig_RetryAfter(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, (&Config{Requests: 50, Window: time.Second}).retryAfter())
	assert.Equal(t, time.Millisecond, (&Config{Requests: 1_000_000, Window: time.Second}).retryAfter())
	assert.Equal(t, time.Second, (&Config{Window: time.Second}).retryAfter())
}
