// Package ratelimit keeps calls to paid external APIs (the Directions API of
// the distance oracle) inside their request quota. The memory backend limits
// one process; the redis backend shares the quota between replicas.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ridematch/pkg/config"
)

// Стандартные ошибки
var (
	ErrLimiterClosed  = errors.New("limiter is closed")
	ErrUnknownBackend = errors.New("unknown rate limit backend")
)

// Стратегии
const (
	StrategySlidingWindow = "sliding_window"
	StrategyTokenBucket   = "token_bucket"
)

// Limiter ограничитель запросов по ключу
type Limiter interface {
	// Allow проверяет, разрешён ли запрос
	Allow(ctx context.Context, key string) (bool, error)

	// AllowN проверяет, разрешены ли n запросов сразу
	AllowN(ctx context.Context, key string, n int) (bool, error)

	// Wait блокирует до получения разрешения или отмены ctx
	Wait(ctx context.Context, key string) error

	// Close освобождает ресурсы
	Close() error
}

// Config квота: Requests запросов за Window
type Config struct {
	Requests int
	Window   time.Duration
	Strategy string
	// BurstSize ёмкость token bucket; 0 означает Requests
	BurstSize int
	Backend   string

	// CleanupInterval очистка неактивных ключей в памяти
	CleanupInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultConfig 50 запросов в секунду, как у Directions API по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Requests:        50,
		Window:          time.Second,
		Strategy:        StrategySlidingWindow,
		Backend:         "memory",
		CleanupInterval: time.Minute,
	}
}

// FromConfig собирает Config из секции oracle.rate_limit; redis берётся из секции cache
func FromConfig(rl config.RateLimitConfig, c config.CacheConfig) *Config {
	cfg := DefaultConfig()
	cfg.Requests = rl.Requests
	cfg.Window = rl.Window
	cfg.Strategy = rl.Strategy
	cfg.BurstSize = rl.BurstSize
	cfg.Backend = rl.Backend
	cfg.RedisAddr = c.Address()
	cfg.RedisPassword = c.Password
	cfg.RedisDB = c.DB
	return cfg
}

// New создаёт лимитер выбранного backend
func New(cfg *Config) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "memory", "":
		return NewMemoryLimiter(cfg), nil
	case "redis":
		return NewRedisLimiter(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// retryAfter время до следующего токена, не меньше миллисекунды
func (c *Config) retryAfter() time.Duration {
	if c.Requests <= 0 {
		return c.Window
	}
	return max(c.Window/time.Duration(c.Requests), time.Millisecond)
}

// wait повторяет allow с паузой retry, пока запрос не разрешён
func wait(ctx context.Context, retry time.Duration, allow func() (bool, error)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		ok, err := allow()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer.Reset(retry)
	}
}
