package lattice

import (
	"context"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
)

// DPBuilder keeps every feasible ordering of each match and grows a set by
// inserting the new passenger's pickup and drop-off into those orderings
// instead of permuting the whole set again.
type DPBuilder struct {
	*Builder
}

// NewDPBuilder wraps b; Base is shared with it.
func NewDPBuilder(b *Builder) *DPBuilder {
	return &DPBuilder{Builder: b}
}

// Grow extends the base matches by insertion into cached orderings.
func (b *DPBuilder) Grow(ctx context.Context, d *domain.Driver) error {
	log := driverLog(d)

	// допустимые порядки остановок по индексу совпадения у водителя
	cache := make(map[int][][]domain.StopVisit, len(d.Matches))
	for i, m := range d.Matches {
		cache[i] = [][]domain.StopVisit{domain.CanonicalStops(m.Passengers())}
	}

	try := func(i int, p int, union []int) (*domain.SFP, error) {
		best, orderings, err := b.insert(ctx, d, union, p, cache[i])
		if err != nil {
			if apperror.Is(err, apperror.CodeOracleFailure) {
				log.Warn("candidate set skipped", "passengers", domain.SetKey(union), "error", err)
				return nil, nil
			}
			return nil, err
		}
		if best != nil {
			cache[len(d.Matches)] = orderings
		}
		return best, nil
	}
	return grow(ctx, d, b.maxMatches, try, func(i int) { delete(cache, i) })
}

// insert tries every (pickup, drop-off) position pair of p in every cached
// ordering. It returns the fastest feasible route and all feasible orderings.
func (b *DPBuilder) insert(ctx context.Context, d *domain.Driver, union []int, p int, orderings [][]domain.StopVisit) (*domain.SFP, [][]domain.StopVisit, error) {
	var (
		best  *domain.SFP
		found [][]domain.StopVisit
	)
	for _, base := range orderings {
		n := len(base) + 2
		for s := 0; s < n-1; s++ {
			for e := s + 1; e < n; e++ {
				stops := make([]domain.StopVisit, 0, n)
				stops = append(stops, base[:s]...)
				stops = append(stops, domain.Pickup(p))
				stops = append(stops, base[s:e-1]...)
				stops = append(stops, domain.Dropoff(p))
				stops = append(stops, base[e-1:]...)

				sfp, ok, err := b.checker.Check(ctx, d, union, stops)
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					continue
				}
				found = append(found, sfp.Stops)
				if best == nil || sfp.Duration < best.Duration {
					best = sfp
				}
			}
		}
	}
	return best, found, nil
}
