// Package profit prices matches: fare revenue of every passenger on the
// route minus the driver's distance cost, rounded to cents.
package profit

import (
	"context"
	"math"
	"math/rand"

	"ridematch/pkg/domain"
	"ridematch/services/matcher-svc/internal/feasibility"
	"ridematch/services/matcher-svc/internal/tables"
)

// Тарифы в долларах
const (
	BaseFare      = 1.8
	PerMinuteCost = 0.27
	PerMeterCost  = 0.8 / domain.MetersPerMile
)

// Скидка за попутчиков и границы комиссии оператора
const (
	discountStep = 0.2
	minDiscount  = 0.2
	takeScale    = 1e8
)

// Model computes revenue, cost and profit of matches of one snapshot.
// It draws take rates from its own generator and is not safe for
// concurrent use: price matches single-threaded after the lattice join.
type Model struct {
	snap   *domain.Snapshot
	slots  domain.Slots
	dist   feasibility.Distancer
	tables *tables.Tables
	rng    *rand.Rand
}

// NewModel creates a model with a generator seeded by seed.
func NewModel(snap *domain.Snapshot, dist feasibility.Distancer, tb *tables.Tables, seed int64) *Model {
	return &Model{
		snap:   snap,
		slots:  snap.Slots(),
		dist:   dist,
		tables: tb,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Reseed restarts the take-rate sequence. Pricing the same matches after
// the same seed gives the same results.
func (m *Model) Reseed(seed int64) {
	m.rng.Seed(seed)
}

// Rand exposes the generator shared with the cost adjuster.
func (m *Model) Rand() *rand.Rand {
	return m.rng
}

// route расстояния и длительности перегонов маршрута
type route struct {
	// lead от старта водителя до первой остановки
	leadMeters float64
	leadDur    int64
	// meters[i], dur[i] перегон i -> i+1
	meters []float64
	dur    []int64
	// tail от последней остановки до финиша водителя
	tailMeters float64
}

func (m *Model) walk(ctx context.Context, d *domain.Driver, s *domain.SFP) (*route, error) {
	n := len(s.Stops)
	r := &route{meters: make([]float64, n-1), dur: make([]int64, n-1)}

	var err error
	r.leadMeters, err = m.dist.Distance(ctx, m.slots.DriverOrigin(d.Index), s.MatrixIndex[0])
	if err != nil {
		return nil, err
	}
	speed := m.tables.SpeedAt(m.tables.Bucket(s.DriverDeparture), d.OriginRegion(), m.snap.Region(s.Stops[0]))
	r.leadDur = int64(r.leadMeters / speed)

	for i := 0; i < n-1; i++ {
		r.meters[i], err = m.dist.Distance(ctx, s.MatrixIndex[i], s.MatrixIndex[i+1])
		if err != nil {
			return nil, err
		}
		speed = m.tables.SpeedAt(s.HourIndex[i], m.snap.Region(s.Stops[i]), m.snap.Region(s.Stops[i+1]))
		r.dur[i] = int64(r.meters[i] / speed)
	}

	r.tailMeters, err = m.dist.Distance(ctx, s.MatrixIndex[n-1], m.slots.DriverDestination(d.Index))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *route) total() float64 {
	sum := r.leadMeters + r.tailMeters
	for _, x := range r.meters {
		sum += x
	}
	return sum
}

// Revenue sums the fares of every passenger of the match.
//
// A passenger's fare is the per-minute and per-meter price of each hop it
// rides, split between everybody on board during that hop, plus the base
// fare. It is discounted by 20% per co-rider (down to 20% of the price),
// multiplied by the surge factor at the pickup hour, reduced by a random
// operator take rate and topped up by the average tip for the ride length.
func (m *Model) Revenue(ctx context.Context, d *domain.Driver, match *domain.Match) (float64, error) {
	s := match.SFP
	r, err := m.walk(ctx, d, s)
	if err != nil {
		return 0, err
	}

	// acc[i] - время от первой остановки до остановки i
	acc := make([]int64, len(s.Stops))
	for i, dur := range r.dur {
		acc[i+1] = acc[i] + dur
	}

	var revenue float64
	for _, p := range s.Passengers {
		pickup, dropoff := s.PickupIndex(p), s.DropoffIndex(p)

		onBoard := 0
		for _, v := range s.Stops[:pickup] {
			if v.Destination {
				onBoard--
			} else {
				onBoard++
			}
		}
		coRiders := onBoard
		for _, v := range s.Stops[pickup+1 : dropoff] {
			if !v.Destination {
				coRiders++
			}
		}

		discount := math.Max(1-discountStep*float64(coRiders), minDiscount)
		take := m.takeRate(discount)

		var fare, distance float64
		riders := onBoard
		for i := pickup; i < dropoff; i++ {
			if s.Stops[i].Destination {
				riders--
			} else {
				riders++
			}
			distance += r.meters[i]
			fare += (PerMinuteCost/60*float64(r.dur[i]) + PerMeterCost*r.meters[i]) / float64(riders)
		}
		fare += BaseFare

		pass := m.snap.Passengers[p]
		hour := m.tables.Bucket(s.DriverDeparture + r.leadDur + acc[pickup])
		surge := m.tables.SurgeAt(hour, pass.OriginRegion(), pass.DestinationRegion())

		revenue += (1-take)*surge*discount*fare + m.tables.Tip(tables.TipMiles(distance))
	}
	return revenue, nil
}

// takeRate draws the operator's share uniformly from
// [max(0.2·discount, 0.05), max(0.25·discount, 0.1)].
func (m *Model) takeRate(discount float64) float64 {
	lo := int(math.Max(0.2*discount, 0.05) * takeScale)
	hi := int(math.Max(0.25*discount, 0.1) * takeScale)
	return float64(m.rng.Intn(hi-lo+1)+lo) / takeScale
}

// Cost is the driver's per-meter cost over the whole route, origin to
// destination.
func (m *Model) Cost(ctx context.Context, d *domain.Driver, match *domain.Match) (float64, error) {
	meters, err := m.TravelDistance(ctx, d, match)
	if err != nil {
		return 0, err
	}
	return d.CostPerMeter * meters, nil
}

// TravelDistance is the driver's route length in meters.
func (m *Model) TravelDistance(ctx context.Context, d *domain.Driver, match *domain.Match) (float64, error) {
	r, err := m.walk(ctx, d, match.SFP)
	if err != nil {
		return 0, err
	}
	return r.total(), nil
}

// Profit sets Revenue, Cost and Profit of the match.
func (m *Model) Profit(ctx context.Context, d *domain.Driver, match *domain.Match) error {
	revenue, err := m.Revenue(ctx, d, match)
	if err != nil {
		return err
	}
	cost, err := m.Cost(ctx, d, match)
	if err != nil {
		return err
	}
	match.Revenue, match.Cost = revenue, cost
	ProfitOnly(match)
	return nil
}

// PriceAll prices every match of every driver in driver order.
func (m *Model) PriceAll(ctx context.Context, drivers []*domain.Driver) error {
	for _, d := range drivers {
		for _, match := range d.Matches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.Profit(ctx, d, match); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProfitOnly recomputes Profit from the current Revenue and Cost.
func ProfitOnly(match *domain.Match) {
	match.Profit = Cents(match.Revenue - match.Cost)
}

// Cents rounds dollars to whole cents.
func Cents(dollars float64) int64 {
	return int64(math.Round(dollars * domain.CentsPerDollar))
}
