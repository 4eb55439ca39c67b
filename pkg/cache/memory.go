package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// evictionSample - сколько записей просматривается при вытеснении
const evictionSample = 16

// MemoryCache - in-memory кэш поверх xsync.MapOf с приближённым LRU:
// при переполнении вытесняется самая старая по доступу запись из выборки.
type MemoryCache struct {
	items      *xsync.MapOf[string, *cacheItem]
	defaultTTL time.Duration
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type cacheItem struct {
	value      []byte
	expiresAt  time.Time
	accessedAt atomic.Int64 // unix nano
}

func (i *cacheItem) isExpired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// NewMemoryCache создаёт новый in-memory кэш и запускает фоновую очистку
func NewMemoryCache(opts *Options) *MemoryCache {
	if opts == nil {
		opts = DefaultOptions()
	}

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	cleanupInterval := opts.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	c := &MemoryCache{
		items:      xsync.NewMapOf[string, *cacheItem](),
		defaultTTL: opts.DefaultTTL,
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanupLoop(cleanupInterval)

	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}

	now := time.Now()
	item, ok := c.items.Load(key)
	if !ok || item.isExpired(now) {
		c.misses.Add(1)
		return nil, ErrKeyNotFound
	}

	c.hits.Add(1)
	item.accessedAt.Store(now.UnixNano())
	return append([]byte(nil), item.value...), nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	c.store(key, value, c.expiry(ttl))
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	c.items.Delete(key)
	return nil
}

func (c *MemoryCache) DeleteByPattern(_ context.Context, pattern string) (int64, error) {
	if c.closed.Load() {
		return 0, ErrCacheClosed
	}

	var count int64
	c.items.Range(func(key string, _ *cacheItem) bool {
		if matchPattern(pattern, key) {
			c.items.Delete(key)
			count++
		}
		return true
	})
	return count, nil
}

func (c *MemoryCache) Stats(_ context.Context) (*Stats, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}

	stats := &Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		KeysByPrefix: make(map[string]int64),
		Backend:      BackendMemory,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	now := time.Now()
	c.items.Range(func(key string, item *cacheItem) bool {
		if !item.isExpired(now) {
			stats.TotalKeys++
			stats.MemoryBytes += int64(len(item.value))
			stats.KeysByPrefix[extractPrefix(key)]++
		}
		return true
	})

	return stats, nil
}

func (c *MemoryCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.stopCh)
	c.wg.Wait()
	c.items.Clear()
	return nil
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (c *MemoryCache) store(key string, value []byte, expiresAt time.Time) {
	if _, exists := c.items.Load(key); !exists {
		for c.items.Size() >= c.maxEntries {
			if !c.evictOne() {
				break
			}
		}
	}

	item := &cacheItem{value: append([]byte(nil), value...), expiresAt: expiresAt}
	item.accessedAt.Store(time.Now().UnixNano())
	c.items.Store(key, item)
}

// evictOne удаляет просроченную запись или самую старую по доступу из выборки
func (c *MemoryCache) evictOne() bool {
	var (
		victim string
		oldest int64
		seen   int
		now    = time.Now()
	)

	c.items.Range(func(key string, item *cacheItem) bool {
		if item.isExpired(now) {
			victim = key
			return false
		}
		if at := item.accessedAt.Load(); victim == "" || at < oldest {
			victim, oldest = key, at
		}
		seen++
		return seen < evictionSample
	})

	if victim == "" {
		return false
	}
	c.items.Delete(victim)
	return true
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *MemoryCache) cleanup() {
	now := time.Now()
	c.items.Range(func(key string, item *cacheItem) bool {
		if item.isExpired(now) {
			c.items.Delete(key)
		}
		return true
	})
}

// matchPattern поддерживает один '*': "*", "prefix*", "*suffix", "prefix*suffix"
func matchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}

	prefix, suffix, found := strings.Cut(pattern, "*")
	if !found {
		return pattern == key
	}
	if len(key) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix)
}

// extractPrefix извлекает префикс ключа до первого ':'
func extractPrefix(key string) string {
	if idx := strings.Index(key, ":"); idx > 0 {
		return key[:idx]
	}
	return "other"
}
