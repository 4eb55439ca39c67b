package geo

import (
	"context"
	"fmt"

	"ridematch/pkg/domain"
)

// Waiter блокирует до разрешения на запрос; реализуется ratelimit.Limiter.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// RateLimited держит обращения к next в пределах квоты ключа key.
type RateLimited struct {
	next    Oracle
	limiter Waiter
	key     string
}

func NewRateLimited(next Oracle, l Waiter, key string) *RateLimited {
	return &RateLimited{next: next, limiter: l, key: key}
}

func (r *RateLimited) Distance(ctx context.Context, from, to domain.Coordinate) (float64, error) {
	if err := r.limiter.Wait(ctx, r.key); err != nil {
		return 0, fmt.Errorf("oracle quota %s: %w", r.key, err)
	}
	return r.next.Distance(ctx, from, to)
}
