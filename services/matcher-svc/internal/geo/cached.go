package geo

import (
	"context"

	"ridematch/pkg/cache"
	"ridematch/pkg/domain"
	"ridematch/pkg/logger"
)

// Cached remembers oracle answers in a shared cache (memory or Redis).
// Cache failures are logged and never fail the lookup.
type Cached struct {
	next  Oracle
	cache *cache.DistanceCache
}

func NewCached(next Oracle, dc *cache.DistanceCache) *Cached {
	return &Cached{next: next, cache: dc}
}

func (c *Cached) Distance(ctx context.Context, from, to domain.Coordinate) (float64, error) {
	d, ok, err := c.cache.Get(ctx, from.Lat, from.Lng, to.Lat, to.Lng)
	if err != nil {
		logger.Log.Warn("distance cache read failed", "from", from, "to", to, "error", err)
	}
	if ok {
		return d, nil
	}

	d, err = c.next.Distance(ctx, from, to)
	if err != nil {
		return 0, err
	}

	if err := c.cache.Set(ctx, from.Lat, from.Lng, to.Lat, to.Lng, d); err != nil {
		logger.Log.Warn("distance cache write failed", "from", from, "to", to, "error", err)
	}
	return d, nil
}
