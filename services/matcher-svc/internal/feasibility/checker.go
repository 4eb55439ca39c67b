// Package feasibility walks candidate routes of one driver through a set of
// passenger stops and keeps the fastest ordering that honors every time
// window.
package feasibility

import (
	"context"
	"slices"
	"sync/atomic"

	"ridematch/pkg/domain"
	"ridematch/services/matcher-svc/internal/tables"
)

// Distancer returns the road distance in whole meters between two matrix
// slots. *geo.Matrix implements it.
type Distancer interface {
	Distance(ctx context.Context, from, to int) (float64, error)
}

// Stats counts route walks. Safe for concurrent use.
type Stats struct {
	Walks      atomic.Int64
	Feasible   atomic.Int64
	Infeasible atomic.Int64
	Pruned     atomic.Int64
}

// Checker tests orderings of pickups and drop-offs for one interval.
// It only reads shared state and may be used from many goroutines.
type Checker struct {
	snap   *domain.Snapshot
	slots  domain.Slots
	dist   Distancer
	tables *tables.Tables
	// hour bucket of the interval; the leg from the driver origin uses it
	hour int

	Stats Stats
}

// NewChecker creates a checker for the snapshot. hour is the table row of
// the current interval.
func NewChecker(snap *domain.Snapshot, dist Distancer, tb *tables.Tables, hour int) *Checker {
	return &Checker{
		snap:   snap,
		slots:  snap.Slots(),
		dist:   dist,
		tables: tb,
		hour:   hour,
	}
}

// Snapshot returns the snapshot the checker walks over.
func (c *Checker) Snapshot() *domain.Snapshot {
	return c.snap
}

// Tables returns the speed tables in use.
func (c *Checker) Tables() *tables.Tables {
	return c.tables
}

// Hour is the table row used for the first leg.
func (c *Checker) Hour() int {
	return c.hour
}

// Check walks stops in the given order. A feasible walk returns the route;
// an infeasible one returns (nil, false, nil). Errors come only from the
// distance oracle. stops must hold the pickup and the drop-off of every
// passenger in passengers.
func (c *Checker) Check(ctx context.Context, d *domain.Driver, passengers []int, stops []domain.StopVisit) (*domain.SFP, bool, error) {
	c.Stats.Walks.Add(1)

	n := len(stops)
	idx := make([]int, n)
	for j, s := range stops {
		idx[j] = c.slots.Stop(s)
	}
	// dur[0] ведёт от старта водителя к первой остановке, dur[j] - от j-1 к j
	dur := make([]int64, n)
	hours := make([]int, n)

	first := c.snap.Passengers[stops[0].Passenger]
	meters, err := c.dist.Distance(ctx, c.slots.DriverOrigin(d.Index), idx[0])
	if err != nil {
		return nil, false, err
	}
	dur[0] = int64(meters / c.tables.SpeedAt(c.hour, d.OriginRegion(), c.snap.Region(stops[0])))

	dep := max(d.Departure(), first.Departure()-dur[0])
	arrived := dep + dur[0]
	hours[0] = c.tables.Bucket(arrived)
	acc := dur[0]

	for j := 0; j < n-1; j++ {
		meters, err = c.dist.Distance(ctx, idx[j], idx[j+1])
		if err != nil {
			return nil, false, err
		}
		dur[j+1] = int64(meters / c.tables.SpeedAt(hours[j], c.snap.Region(stops[j]), c.snap.Region(stops[j+1])))
		acc += dur[j+1]
		arrived = dep + acc

		// ожидание на посадке сдвигает отправление водителя, длительность не меняется.
		// Уже посчитанные hours[0..j] остаются от прежнего отправления, поэтому
		// HourIndex может отставать от часа по DriverDeparture.
		if next := stops[j+1]; !next.Destination {
			if p := c.snap.Passengers[next.Passenger]; p.Departure() > arrived {
				dep = p.Departure() - acc
				arrived = p.Departure()
			}
		}
		hours[j+1] = c.tables.Bucket(arrived)
	}

	meters, err = c.dist.Distance(ctx, idx[n-1], c.slots.DriverDestination(d.Index))
	if err != nil {
		return nil, false, err
	}
	total := acc + int64(meters/c.tables.SpeedAt(hours[n-1], c.snap.Region(stops[n-1]), d.DestinationRegion()))

	if total > d.MaxDuration() || dep+total > d.Arrival() {
		c.Stats.Infeasible.Add(1)
		return nil, false, nil
	}

	// prefix[j] - время от старта водителя до остановки j
	prefix := make([]int64, n)
	prefix[0] = dur[0]
	for j := 1; j < n; j++ {
		prefix[j] = prefix[j-1] + dur[j]
	}
	for j, s := range stops {
		if !s.Destination {
			continue
		}
		pickup := slices.Index(stops[:j], domain.Pickup(s.Passenger))
		p := c.snap.Passengers[s.Passenger]
		if prefix[j]-prefix[pickup] > p.MaxDuration() || dep+prefix[j] > p.Arrival() {
			c.Stats.Infeasible.Add(1)
			return nil, false, nil
		}
	}

	c.Stats.Feasible.Add(1)
	sorted := slices.Clone(passengers)
	slices.Sort(sorted)
	return &domain.SFP{
		Passengers:      sorted,
		Stops:           slices.Clone(stops),
		MatrixIndex:     idx,
		HourIndex:       hours,
		DriverDeparture: dep,
		Duration:        total,
	}, true, nil
}

// Best returns the feasible ordering with the shortest driver duration, or
// nil when no ordering is feasible. The canonical order is tried first and
// ties keep the earlier ordering. Orderings that drop a passenger off before
// picking them up are skipped without a walk.
func (c *Checker) Best(ctx context.Context, d *domain.Driver, passengers []int) (*domain.SFP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var best *domain.SFP
	for stops := range Permutations(domain.CanonicalStops(passengers)) {
		if !domain.ValidOrder(stops) {
			c.Stats.Pruned.Add(1)
			continue
		}
		sfp, ok, err := c.Check(ctx, d, passengers, stops)
		if err != nil {
			return nil, err
		}
		if ok && (best == nil || sfp.Duration < best.Duration) {
			best = sfp
		}
	}
	return best, nil
}
