package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// DistanceCache хранит дорожные расстояния (метры) поверх любого Cache
type DistanceCache struct {
	cache      Cache
	method     string
	defaultTTL time.Duration
}

// NewDistanceCache создаёт кэш расстояний для метода оракула method
func NewDistanceCache(c Cache, method string, defaultTTL time.Duration) *DistanceCache {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &DistanceCache{cache: c, method: method, defaultTTL: defaultTTL}
}

// Get возвращает расстояние и признак попадания
func (dc *DistanceCache) Get(ctx context.Context, fromLat, fromLng, toLat, toLng float64) (float64, bool, error) {
	data, err := dc.cache.Get(ctx, DistanceKey(dc.method, fromLat, fromLng, toLat, toLng))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("corrupted distance entry: %d bytes", len(data))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), true, nil
}

// Set сохраняет расстояние
func (dc *DistanceCache) Set(ctx context.Context, fromLat, fromLng, toLat, toLng, meters float64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(meters))
	return dc.cache.Set(ctx, DistanceKey(dc.method, fromLat, fromLng, toLat, toLng), buf[:], dc.defaultTTL)
}

// Invalidate удаляет все расстояния метода
func (dc *DistanceCache) Invalidate(ctx context.Context) (int64, error) {
	return dc.cache.DeleteByPattern(ctx, DistancePattern(dc.method))
}
