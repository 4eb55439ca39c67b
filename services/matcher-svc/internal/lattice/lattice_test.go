package lattice

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
	"ridematch/services/matcher-svc/internal/feasibility"
	"ridematch/services/matcher-svc/internal/geo"
	"ridematch/services/matcher-svc/internal/tables"
)

// градус долготы = 1000 м, скорость 10 м/с: километр за 100 с
func lineOracle() geo.Oracle {
	return geo.OracleFunc(func(_ context.Context, from, to domain.Coordinate) (float64, error) {
		return math.Abs(from.Lng-to.Lng) * 1000, nil
	})
}

func trip(id int64, from, to float64, dep, arr, maxDur int64) domain.TripInfo {
	return domain.TripInfo{
		TripID:            id,
		From:              domain.Coordinate{Lng: from},
		To:                domain.Coordinate{Lng: to},
		EarliestDeparture: dep,
		LatestArrival:     arr,
		MaxTravel:         maxDur,
	}
}

func newDriver(id int64, capacity int) *domain.Driver {
	return &domain.Driver{TripInfo: trip(id, 0, 10, 0, 3600, 3600), Capacity: capacity}
}

func newPassenger(id int64, from, to float64, dep, arr int64) *domain.Passenger {
	return &domain.Passenger{TripInfo: trip(id, from, to, dep, arr, 1800)}
}

func setup(t *testing.T, drivers []*domain.Driver, passengers ...*domain.Passenger) *feasibility.Checker {
	t.Helper()
	snap := &domain.Snapshot{Drivers: drivers, Passengers: passengers}
	snap.Reindex()
	m := geo.NewMatrix(lineOracle(), "line", snap, snap.Slots().Size())
	return feasibility.NewChecker(snap, m, tables.Uniform(0, 24, 1, 10), 0)
}

func build(t *testing.T, g Grower, d *domain.Driver) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, g.Base(ctx, d))
	require.NoError(t, g.Grow(ctx, d))
}

func keys(d *domain.Driver) []string {
	out := make([]string, len(d.Matches))
	for i, m := range d.Matches {
		out[i] = m.SFP.Key()
	}
	return out
}

func TestGrow_PairScenario(t *testing.T) {
	tests := []struct {
		name     string
		second   *domain.Passenger
		expected []string
		levels   []int
	}{
		{
			name:     "pair_feasible",
			second:   newPassenger(2, 5, 8, 0, 1800),
			expected: []string{"0", "1", "0,1"},
			levels:   []int{2, 3},
		},
		{
			name: "pair_infeasible",
			// вторую посадку нельзя раньше 2000, а первый пассажир должен выйти к 500
			second:   newPassenger(2, 6, 8, 2000, 3000),
			expected: []string{"0", "1"},
			levels:   []int{2, 2},
		},
	}

	for _, method := range []string{MethodLattice, MethodDP} {
		for _, tt := range tests {
			t.Run(method+"_"+tt.name, func(t *testing.T) {
				c := setup(t, []*domain.Driver{newDriver(1, 2)},
					newPassenger(1, 2, 4, 0, 500),
					tt.second,
				)
				g, err := New(method, c, 0, nil)
				require.NoError(t, err)

				d := c.Snapshot().Drivers[0]
				build(t, g, d)

				assert.Equal(t, tt.expected, keys(d))
				assert.Equal(t, tt.levels, d.Levels)
				for _, p := range c.Snapshot().Passengers {
					assert.Equal(t, int32(1), p.Assignments())
				}
			})
		}
	}
}

func TestGrow_DownwardClosure(t *testing.T) {
	c := setup(t, []*domain.Driver{newDriver(1, 3)},
		newPassenger(1, 2, 4, 0, 500),     // A
		newPassenger(2, 5, 6, 0, 3600),    // B
		newPassenger(3, 6, 8, 2000, 3000), // C, несовместим с A
	)
	b := NewBuilder(c, 0, nil)
	d := c.Snapshot().Drivers[0]
	build(t, b, d)

	assert.Equal(t, []string{"0", "1", "2", "0,1", "1,2"}, keys(d))

	// {A,B,C} не проверялся: 3 базовых прохода + 3 пары по 6 порядков
	assert.Equal(t, int64(21), c.Stats.Walks.Load())

	known := make(map[string]bool)
	for _, k := range keys(d) {
		known[k] = true
	}
	for _, m := range d.Matches {
		if m.Size() < 2 {
			continue
		}
		for _, q := range m.Passengers() {
			var sub []int
			for _, x := range m.Passengers() {
				if x != q {
					sub = append(sub, x)
				}
			}
			assert.True(t, known[domain.SetKey(sub)], "subset %v of %s missing", sub, m.SFP.Key())
		}
	}
}

func TestGrow_DPMatchesBuilder(t *testing.T) {
	passengers := func() []*domain.Passenger {
		short := newPassenger(2, 3, 5, 0, 3600)
		// половина порядков пары {0,1} возит второго пассажира слишком долго
		short.MaxTravel = 300
		return []*domain.Passenger{
			newPassenger(1, 1, 9, 0, 3600),
			short,
			newPassenger(3, 4, 7, 0, 3600),
		}
	}

	c1 := setup(t, []*domain.Driver{newDriver(1, 3)}, passengers()...)
	d1 := c1.Snapshot().Drivers[0]
	build(t, NewBuilder(c1, 0, nil), d1)

	c2 := setup(t, []*domain.Driver{newDriver(1, 3)}, passengers()...)
	d2 := c2.Snapshot().Drivers[0]
	build(t, NewDPBuilder(NewBuilder(c2, 0, nil)), d2)

	require.Equal(t, keys(d1), keys(d2))
	assert.Equal(t, "0,1,2", d1.Matches[len(d1.Matches)-1].SFP.Key())
	for i := range d1.Matches {
		assert.Equal(t, d1.Matches[i].SFP.Duration, d2.Matches[i].SFP.Duration, d1.Matches[i].SFP.Key())
	}
	// полный перебор тройки: 90 порядков, вставка в 3 допустимых порядка пары: 45
	assert.Equal(t, int64(111), c1.Stats.Walks.Load())
	assert.Equal(t, int64(66), c2.Stats.Walks.Load())
}

func TestGrow_Skips(t *testing.T) {
	tests := []struct {
		name       string
		capacity   int
		maxMatches int
		expected   int
	}{
		{"capacity_one", 1, 0, 3},
		{"cap_reached_in_base", 3, 3, 3},
		{"cap_reached_while_growing", 3, 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setup(t, []*domain.Driver{newDriver(1, tt.capacity)},
				newPassenger(1, 1, 9, 0, 3600),
				newPassenger(2, 3, 5, 0, 3600),
				newPassenger(3, 4, 7, 0, 3600),
			)
			d := c.Snapshot().Drivers[0]
			build(t, NewBuilder(c, tt.maxMatches, nil), d)
			assert.Len(t, d.Matches, tt.expected)
		})
	}
}

func TestBase_Candidate(t *testing.T) {
	c := setup(t, []*domain.Driver{newDriver(1, 2)},
		newPassenger(1, 2, 4, 0, 1800),
		newPassenger(2, 5, 8, 0, 1800),
	)
	onlyFirst := func(_ *domain.Driver, p *domain.Passenger) bool { return p.TripID == 1 }
	d := c.Snapshot().Drivers[0]

	require.NoError(t, NewBuilder(c, 0, onlyFirst).Base(context.Background(), d))
	assert.Equal(t, []string{"0"}, keys(d))
	assert.Equal(t, int64(1), c.Stats.Walks.Load())
}

func TestNew_UnknownMethod(t *testing.T) {
	_, err := New("ilp", nil, 0, nil)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidConfig))
}

func TestRunner_BuildAndAssignIDs(t *testing.T) {
	drivers := []*domain.Driver{newDriver(1, 2), newDriver(2, 2), newDriver(3, 1)}
	c := setup(t, drivers,
		newPassenger(1, 2, 4, 0, 1800),
		newPassenger(2, 5, 8, 0, 1800),
	)
	r := NewRunner(NewBuilder(c, 0, nil), 2, time.Minute)

	ctx := context.Background()
	require.NoError(t, r.BuildBase(ctx, drivers))
	require.NoError(t, r.BuildAll(ctx, drivers))

	arena := domain.NewMatchArena(100)
	next, withMatches := AssignIDs(arena, drivers)

	// по три совпадения у водителей вместимости 2, два у третьего
	assert.Equal(t, 108, next)
	assert.Equal(t, 3, withMatches)
	assert.Equal(t, 8, arena.Len())

	id := 100
	for _, d := range drivers {
		for _, m := range d.Matches {
			assert.Equal(t, id, m.ID)
			assert.Same(t, m, arena.Get(domain.MatchHandle(id)))
			id++
		}
	}
	for _, p := range c.Snapshot().Passengers {
		assert.Equal(t, int32(3), p.Assignments())
	}
}

type blockingGrower struct{}

func (blockingGrower) Base(ctx context.Context, _ *domain.Driver) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingGrower) Grow(context.Context, *domain.Driver) error {
	panic("lattice exploded")
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(blockingGrower{}, 2, 20*time.Millisecond)

	err := r.BuildBase(context.Background(), []*domain.Driver{newDriver(1, 2), newDriver(2, 2)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrMatchingTimeout))
	assert.True(t, apperror.IsCritical(err))
}

func TestRunner_ParentCanceled(t *testing.T) {
	r := NewRunner(blockingGrower{}, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.BuildBase(ctx, []*domain.Driver{newDriver(1, 2)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Panic(t *testing.T) {
	r := NewRunner(blockingGrower{}, 1, time.Minute)

	err := r.BuildAll(context.Background(), []*domain.Driver{newDriver(7, 2)})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInternal))
	assert.Contains(t, err.Error(), "driver 7")
}

func TestReduce(t *testing.T) {
	withCounts := func(counts ...int) (*domain.Driver, []*domain.Passenger) {
		d := newDriver(1, 2)
		passengers := make([]*domain.Passenger, len(counts))
		for i, n := range counts {
			passengers[i] = newPassenger(int64(i+1), 2, 4, 0, 1800)
			passengers[i].Index = i
			for range n {
				passengers[i].AddAssignment()
			}
			d.Matches = append(d.Matches, &domain.Match{SFP: &domain.SFP{Passengers: []int{i}}})
		}
		d.AddIndexLevel()
		return d, passengers
	}
	remaining := func(d *domain.Driver) []int {
		out := make([]int, len(d.Matches))
		for i, m := range d.Matches {
			out[i] = m.Passengers()[0]
		}
		return out
	}

	t.Run("first_pass_stops_at_min", func(t *testing.T) {
		counts := make([]int, 30)
		for i := range counts {
			counts[i] = 1
			if i >= 24 {
				counts[i] = 13
			}
		}
		d, passengers := withCounts(counts...)

		removed := Reduce([]*domain.Driver{d}, passengers, DefaultReduceParams())

		assert.Equal(t, 5, removed)
		assert.Len(t, d.Matches, 25)
		assert.Equal(t, []int{25}, d.Levels)
		assert.Equal(t, int32(13), passengers[24].Assignments(), "kept once the driver is at the minimum")
		assert.Equal(t, int32(12), passengers[29].Assignments())
	})

	t.Run("second_pass_sorts_by_assignments", func(t *testing.T) {
		d, passengers := withCounts(1, 5, 3, 1, 1, 3)

		removed := Reduce([]*domain.Driver{d}, passengers, ReduceParams{Min: 2, Max: 3, MaxAssignments: 4})

		assert.Equal(t, 3, removed)
		assert.Equal(t, []int{0, 3, 4}, remaining(d))
		assert.Equal(t, []int{3}, d.Levels)
	})

	t.Run("below_min_untouched", func(t *testing.T) {
		d, passengers := withCounts(20, 20)

		assert.Zero(t, Reduce([]*domain.Driver{d}, passengers, DefaultReduceParams()))
		assert.Len(t, d.Matches, 2)
	})
}
