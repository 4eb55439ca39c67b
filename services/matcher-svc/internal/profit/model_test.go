package profit

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridematch/pkg/config"
	"ridematch/pkg/domain"
	"ridematch/services/matcher-svc/internal/feasibility"
	"ridematch/services/matcher-svc/internal/geo"
	"ridematch/services/matcher-svc/internal/tables"
)

// Все точки на экваторе: градус долготы = 1000 м, скорость 10 м/с.
func lineOracle() geo.Oracle {
	return geo.OracleFunc(func(_ context.Context, from, to domain.Coordinate) (float64, error) {
		return math.Abs(from.Lng-to.Lng) * 1000, nil
	})
}

func trip(id int64, from, to float64) domain.TripInfo {
	return domain.TripInfo{
		TripID:            id,
		From:              domain.Coordinate{Lng: from},
		To:                domain.Coordinate{Lng: to},
		EarliestDeparture: 0,
		LatestArrival:     3600,
		MaxTravel:         3600,
	}
}

type fixture struct {
	snap   *domain.Snapshot
	matrix *geo.Matrix
	tables *tables.Tables
	driver *domain.Driver
	match  *domain.Match
}

// newFixture builds one driver 0→10 and a match with the given passengers
// in canonical order.
func newFixture(t *testing.T, tb *tables.Tables, stops func(ps []int) []domain.StopVisit, legs ...[2]float64) *fixture {
	t.Helper()
	d := &domain.Driver{TripInfo: trip(1, 0, 10), Capacity: 3, CostPerMeter: 0.0001}
	snap := &domain.Snapshot{Drivers: []*domain.Driver{d}}
	ps := make([]int, len(legs))
	for i, l := range legs {
		snap.Passengers = append(snap.Passengers, &domain.Passenger{TripInfo: trip(int64(10+i), l[0], l[1])})
		ps[i] = i
	}
	snap.Reindex()

	m := geo.NewMatrix(lineOracle(), "line", snap, snap.Slots().Size())
	c := feasibility.NewChecker(snap, m, tb, 0)
	sfp, ok, err := c.Check(context.Background(), d, ps, stops(ps))
	require.NoError(t, err)
	require.True(t, ok)

	return &fixture{snap: snap, matrix: m, tables: tb, driver: d, match: &domain.Match{SFP: sfp}}
}

func (f *fixture) model(seed int64) *Model {
	return NewModel(f.snap, f.matrix, f.tables, seed)
}

// hop цена перегона без скидок и комиссии
func hop(meters float64) float64 {
	return PerMinuteCost/60*float64(int64(meters/10)) + PerMeterCost*meters
}

func TestRevenue_SinglePassenger(t *testing.T) {
	f := newFixture(t, tables.Uniform(0, 24, 1, 10), domain.CanonicalStops, [2]float64{2, 4})

	rev, err := f.model(1).Revenue(context.Background(), f.driver, f.match)
	require.NoError(t, err)

	// без попутчиков скидки нет, комиссия в [0.20, 0.25]
	fare := hop(2000) + BaseFare
	assert.GreaterOrEqual(t, rev, 0.75*fare-1e-9)
	assert.LessOrEqual(t, rev, 0.80*fare+1e-9)
}

func TestRevenue_SharedRide(t *testing.T) {
	nested := func(ps []int) []domain.StopVisit {
		return []domain.StopVisit{
			domain.Pickup(ps[0]), domain.Pickup(ps[1]), domain.Dropoff(ps[1]), domain.Dropoff(ps[0]),
		}
	}
	f := newFixture(t, tables.Uniform(0, 24, 1, 10), nested, [2]float64{2, 6}, [2]float64{3, 5})

	rev, err := f.model(1).Revenue(context.Background(), f.driver, f.match)
	require.NoError(t, err)

	// средний перегон делят двое; у каждого один попутчик: скидка 0.8,
	// комиссия в [0.16, 0.20]
	outer := hop(1000) + hop(2000)/2 + hop(1000) + BaseFare
	inner := hop(2000)/2 + BaseFare
	base := 0.8 * (outer + inner)
	assert.GreaterOrEqual(t, rev, 0.80*base-1e-9)
	assert.LessOrEqual(t, rev, 0.84*base+1e-9)
}

func TestRevenue_SurgeAndTips(t *testing.T) {
	ctx := context.Background()
	plain := newFixture(t, tables.Uniform(0, 24, 1, 10), domain.CanonicalStops, [2]float64{2, 6})
	base, err := plain.model(5).Revenue(ctx, plain.driver, plain.match)
	require.NoError(t, err)

	t.Run("surge_doubles_fare", func(t *testing.T) {
		tb := tables.Uniform(0, 24, 1, 10)
		tb.Surge[0][0][0] = 2
		f := newFixture(t, tb, domain.CanonicalStops, [2]float64{2, 6})

		rev, err := f.model(5).Revenue(ctx, f.driver, f.match)
		require.NoError(t, err)
		assert.InDelta(t, 2*base, rev, 1e-9)
	})

	t.Run("tip_by_rounded_miles", func(t *testing.T) {
		// 4000 м = 2.49 мили, округляется до 2
		tb := tables.Uniform(0, 24, 1, 10).WithTips(tables.TipEntry{Miles: 2, Amount: 1.5})
		f := newFixture(t, tb, domain.CanonicalStops, [2]float64{2, 6})

		rev, err := f.model(5).Revenue(ctx, f.driver, f.match)
		require.NoError(t, err)
		assert.InDelta(t, base+1.5, rev, 1e-9)
	})
}

func TestCost(t *testing.T) {
	f := newFixture(t, tables.Uniform(0, 24, 1, 10), domain.CanonicalStops, [2]float64{2, 4})
	m := f.model(1)

	meters, err := m.TravelDistance(context.Background(), f.driver, f.match)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, meters)

	cost, err := m.Cost(context.Background(), f.driver, f.match)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cost, 1e-9)
}

func TestProfit_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tables.Uniform(0, 24, 1, 10), domain.CanonicalStops, [2]float64{2, 6}, [2]float64{3, 8})

	m := f.model(42)
	require.NoError(t, m.Profit(ctx, f.driver, f.match))
	first := *f.match

	again := &domain.Match{SFP: f.match.SFP}
	require.NoError(t, f.model(42).Profit(ctx, f.driver, again))
	assert.Equal(t, first.Revenue, again.Revenue)
	assert.Equal(t, first.Cost, again.Cost)
	assert.Equal(t, first.Profit, again.Profit)

	m.Reseed(42)
	require.NoError(t, m.Profit(ctx, f.driver, again))
	assert.Equal(t, first.Profit, again.Profit)
	assert.Equal(t, Cents(first.Revenue-first.Cost), first.Profit)
}

func TestPriceAll_OracleFailure(t *testing.T) {
	f := newFixture(t, tables.Uniform(0, 24, 1, 10), domain.CanonicalStops, [2]float64{2, 4})
	f.driver.Matches = []*domain.Match{f.match}

	broken := geo.NewMatrix(geo.OracleFunc(func(context.Context, domain.Coordinate, domain.Coordinate) (float64, error) {
		return 0, errors.New("backend down")
	}), "broken", f.snap, f.snap.Slots().Size())
	m := NewModel(f.snap, broken, f.tables, 1)

	assert.Error(t, m.PriceAll(context.Background(), f.snap.Drivers))
}

func TestCents(t *testing.T) {
	tests := []struct {
		name     string
		dollars  float64
		expected int64
	}{
		{"whole", 3, 300},
		{"rounds_half_up", 0.125, 13},
		{"float_noise", 0.29, 29},
		{"negative", -1.234, -123},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Cents(tt.dollars))
		})
	}
}

func TestAdjuster(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		cfg          config.CostsConfig
		costPerMeter float64
		cost         func(base float64) float64
		revenue      func(base float64) float64
	}{
		{
			name:         "multiplier",
			cfg:          config.CostsConfig{Multiplier: 2, RevenueReduction: 1},
			costPerMeter: 0.0001,
			cost:         func(c float64) float64 { return 2 * c },
			revenue:      func(r float64) float64 { return r },
		},
		{
			name:         "extra_cost_always",
			cfg:          config.CostsConfig{Multiplier: 1, ExtraCost: 0.5, ExtraCostChance: 1, RevenueReduction: 1},
			costPerMeter: 0.0001,
			cost:         func(c float64) float64 { return c + 0.5 },
			revenue:      func(r float64) float64 { return r },
		},
		{
			name:         "medium_sedan_15k",
			cfg:          config.CostsConfig{Multiplier: 1, OperatingCostType: OperatingCost15k, RevenueReduction: 1},
			costPerMeter: MediumSedanCostPerMeter,
			cost: func(c float64) float64 {
				return c + 10000*(MediumSedanMaintenance+MediumSedanDepreciation15)
			},
			revenue: func(r float64) float64 { return r },
		},
		{
			name:         "small_sedan_20k",
			cfg:          config.CostsConfig{Multiplier: 1, OperatingCostType: OperatingCost20k, RevenueReduction: 1},
			costPerMeter: SmallSedanCostPerMeter,
			cost: func(c float64) float64 {
				return c + 10000*(SmallSedanMaintenance+SmallSedanDepreciation20)
			},
			revenue: func(r float64) float64 { return r },
		},
		{
			name:         "unknown_vehicle_class",
			cfg:          config.CostsConfig{Multiplier: 1, OperatingCostType: OperatingCost15k, RevenueReduction: 1},
			costPerMeter: 0.00001,
			cost:         func(c float64) float64 { return c },
			revenue:      func(r float64) float64 { return r },
		},
		{
			name:         "revenue_reduction",
			cfg:          config.CostsConfig{Multiplier: 1, RevenueReduction: 0.5},
			costPerMeter: 0.0001,
			cost:         func(c float64) float64 { return c },
			revenue:      func(r float64) float64 { return r / 2 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tables.Uniform(0, 24, 1, 10), domain.CanonicalStops, [2]float64{2, 4})
			f.driver.CostPerMeter = tt.costPerMeter
			f.driver.Matches = []*domain.Match{f.match}

			m := f.model(3)
			require.NoError(t, m.PriceAll(ctx, f.snap.Drivers))
			rev, cost := f.match.Revenue, f.match.Cost

			a := NewAdjuster(tt.cfg, m)
			assert.True(t, a.Enabled())
			negative, err := a.Apply(ctx, f.snap.Drivers)
			require.NoError(t, err)

			assert.InDelta(t, tt.cost(cost), f.match.Cost, 1e-9)
			assert.InDelta(t, tt.revenue(rev), f.match.Revenue, 1e-9)
			assert.Equal(t, Cents(f.match.Revenue-f.match.Cost), f.match.Profit)
			if f.match.Profit < 0 {
				assert.Equal(t, 1, negative)
			} else {
				assert.Equal(t, 0, negative)
			}
		})
	}
}

func TestAdjuster_Disabled(t *testing.T) {
	a := NewAdjuster(config.CostsConfig{Multiplier: 1, RevenueReduction: 1}, nil)
	assert.False(t, a.Enabled())
}
