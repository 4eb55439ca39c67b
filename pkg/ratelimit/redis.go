package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow атомарно чистит окно и добавляет n запросов, если квота позволяет.
// KEYS[1] ключ; ARGV: limit, window (мс), now (мс), n, уникальный префикс.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local n = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local current = redis.call('ZCARD', key)
if current + n > limit then
	return 0
end
for i = 1, n do
	redis.call('ZADD', key, now, ARGV[5] .. ':' .. i)
end
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter квота, общая для всех реплик. Поддерживает только
// скользящее окно: token bucket между процессами требует общих часов.
type RedisLimiter struct {
	client *redis.Client
	config *Config
	prefix string
}

// NewRedisLimiter подключается к Redis и проверяет соединение
func NewRedisLimiter(cfg *Config) (*RedisLimiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // соединение всё равно не установлено
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisLimiter{client: client, config: cfg, prefix: "ratelimit:"}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.AllowN(ctx, key, 1)
}

func (l *RedisLimiter) AllowN(ctx context.Context, key string, n int) (bool, error) {
	now := time.Now()
	member := fmt.Sprintf("%d", now.UnixNano())

	allowed, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + key},
		l.config.Requests, l.config.Window.Milliseconds(), now.UnixMilli(), n, member).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return allowed == 1, nil
}

func (l *RedisLimiter) Wait(ctx context.Context, key string) error {
	return wait(ctx, l.config.retryAfter(), func() (bool, error) {
		return l.Allow(ctx, key)
	})
}

// Reset сбрасывает окно ключа
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key).Err()
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
