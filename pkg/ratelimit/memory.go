package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter квота в памяти процесса
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  *Config
	now     func() time.Time
	stopCh  chan struct{}
	closed  bool
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
	// моменты разрешённых запросов в окне, по возрастанию
	requests []time.Time
}

// NewMemoryLimiter создаёт лимитер и запускает очистку неактивных ключей
func NewMemoryLimiter(cfg *Config) *MemoryLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		config:  cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go l.cleanupLoop(cfg.CleanupInterval)
	}
	return l
}

func (l *MemoryLimiter) capacity() float64 {
	if l.config.BurstSize > 0 {
		return float64(l.config.BurstSize)
	}
	return float64(l.config.Requests)
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.AllowN(ctx, key, 1)
}

func (l *MemoryLimiter) AllowN(_ context.Context, key string, n int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, ErrLimiterClosed
	}

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity(), lastSeen: now}
		l.buckets[key] = b
	}

	if l.config.Strategy == StrategyTokenBucket {
		return l.takeTokens(b, now, n), nil
	}
	return l.slide(b, now, n), nil
}

func (l *MemoryLimiter) takeTokens(b *bucket, now time.Time, n int) bool {
	rate := float64(l.config.Requests) / l.config.Window.Seconds()
	b.tokens = min(b.tokens+now.Sub(b.lastSeen).Seconds()*rate, l.capacity())
	b.lastSeen = now

	if b.tokens < float64(n) {
		return false
	}
	b.tokens -= float64(n)
	return true
}

func (l *MemoryLimiter) slide(b *bucket, now time.Time, n int) bool {
	b.lastSeen = now
	b.requests = evict(b.requests, now.Add(-l.config.Window))

	if len(b.requests)+n > l.config.Requests {
		return false
	}
	for range n {
		b.requests = append(b.requests, now)
	}
	return true
}

// evict отбрасывает запросы не позже start
func evict(requests []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(requests) && !requests[i].After(start) {
		i++
	}
	return requests[i:]
}

func (l *MemoryLimiter) Wait(ctx context.Context, key string) error {
	return wait(ctx, l.config.retryAfter(), func() (bool, error) {
		return l.Allow(ctx, key)
	})
}

func (l *MemoryLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.stopCh)
	l.buckets = nil
	return nil
}

func (l *MemoryLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup удаляет ключи, не встречавшиеся два окна
func (l *MemoryLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	idle := l.now().Add(-2 * l.config.Window)
	for key, b := range l.buckets {
		if b.lastSeen.Before(idle) {
			delete(l.buckets, key)
		}
	}
}
