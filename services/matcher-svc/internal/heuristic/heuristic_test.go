package heuristic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridematch/pkg/domain"
)

type offer struct {
	passengers []int
	profit     int64
}

// snapshot builds drivers from offers[i] and numbers matches in order.
func snapshot(passengers int, offers ...[]offer) *domain.Snapshot {
	snap := &domain.Snapshot{}
	id := 0
	for i, os := range offers {
		d := &domain.Driver{Index: i, Capacity: 2}
		for _, o := range os {
			d.Matches = append(d.Matches, &domain.Match{
				ID:     id,
				Driver: i,
				SFP:    &domain.SFP{Passengers: o.passengers},
				Profit: o.profit,
			})
			id++
		}
		snap.Drivers = append(snap.Drivers, d)
	}
	for p := range passengers {
		snap.Passengers = append(snap.Passengers, &domain.Passenger{Index: p})
	}
	return snap
}

// (D1,{P1},5), (D1,{P2},8), (D2,{P1},3)
func threeOffers() *domain.Snapshot {
	return snapshot(2,
		[]offer{{[]int{0}, 5}, {[]int{1}, 8}},
		[]offer{{[]int{0}, 3}},
	)
}

// Жадное решение {A}; пара B (тот же водитель) + C (другой водитель) покрывает четверых.
//
//	D0: A{P0}=10, B{P2,P3}=9
//	D1: C{P0,P1}=9
func pairSwap(b, c int64) *domain.Snapshot {
	return snapshot(4,
		[]offer{{[]int{0}, 10}, {[]int{2, 3}, b}},
		[]offer{{[]int{0, 1}, c}},
	)
}

// Жадное решение {A}; одиночная замена C покрывает двоих, но дешевле.
//
//	D0: A{P0}=10
//	D1: C{P0,P1}=9
func singleSwap() *domain.Snapshot {
	return snapshot(2,
		[]offer{{[]int{0}, 10}},
		[]offer{{[]int{0, 1}, 9}},
	)
}

func TestGreedy(t *testing.T) {
	tests := []struct {
		name   string
		method int
	}{
		{"auto", MethodAuto},
		{"sorted", MethodSorted},
		{"simple_removal", MethodSimpleRemoval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := Greedy(threeOffers(), tt.method)
			assert.Equal(t, int64(11), sol.Profit)
			assert.Equal(t, domain.Assignment{0: 1, 1: 2}, sol.Assignment)
			assert.Equal(t, 2, sol.Covered)
		})
	}
}

func TestGreedy_SkipsNegativeMatches(t *testing.T) {
	snap := snapshot(2,
		[]offer{{[]int{0}, -4}},
		[]offer{{[]int{1}, 0}},
	)

	for _, sol := range []*Solution{GreedySorted(snap), GreedySimpleRemoval(snap)} {
		assert.Equal(t, domain.Assignment{1: 1}, sol.Assignment)
		assert.Equal(t, int64(0), sol.Profit)
	}
}

func TestGreedy_Empty(t *testing.T) {
	snap := snapshot(1, []offer{})
	assert.Empty(t, GreedySorted(snap).Assignment)
	assert.Empty(t, GreedySimpleRemoval(snap).Assignment)
}

func TestGreedySimpleRemoval_TiePicksLast(t *testing.T) {
	snap := snapshot(1,
		[]offer{{[]int{0}, 7}},
		[]offer{{[]int{0}, 7}},
	)
	assert.Equal(t, domain.Assignment{1: 1}, GreedySimpleRemoval(snap).Assignment)
	assert.Equal(t, domain.Assignment{0: 0}, GreedySorted(snap).Assignment)
}

// При равной прибыли сортировка берёт первое совпадение, простое удаление
// последнее, поэтому по назначению видно, какой проход выбрал MethodAuto.
func TestGreedy_AutoThreshold(t *testing.T) {
	ties := func(n int) *domain.Snapshot {
		offers := make([]offer, n)
		for i := range offers {
			offers[i] = offer{[]int{i}, 1}
		}
		return snapshot(n, offers)
	}

	tests := []struct {
		name       string
		candidates int
		want       domain.MatchHandle
	}{
		{"at_threshold_simple_removal", SortedThreshold, domain.MatchHandle(SortedThreshold - 1)},
		{"above_threshold_sorted", SortedThreshold + 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := Greedy(ties(tt.candidates), MethodAuto)
			assert.Equal(t, domain.Assignment{0: tt.want}, sol.Assignment)
			assert.Equal(t, int64(1), sol.Profit)
		})
	}
}

func TestChangeProfitTarget(t *testing.T) {
	singles := []*domain.Match{{Profit: 10}, {Profit: 20}}

	tests := []struct {
		name       string
		multiplier float64
		lowerBound float64
		want       float64
	}{
		{"unchanged", 1, 0.6, 100},
		{"halfway", 0.5, 0.6, 80},
		{"lower_bound", 0, 0.6, 60},
		// 100 - 30 + 60/3 = 90 < 95
		{"singles_bound", 0, 0.95, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChangeProfitTarget(100, singles, 2, tt.multiplier, tt.lowerBound)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestHypergraph(t *testing.T) {
	snap := pairSwap(9, 9)
	snap.Drivers[1].Matches = append(snap.Drivers[1].Matches, &domain.Match{
		ID: 3, Driver: 1, SFP: &domain.SFP{Passengers: []int{2}}, Profit: -1,
	})
	a, b := snap.Drivers[0].Matches[0], snap.Drivers[0].Matches[1]
	c, neg := snap.Drivers[1].Matches[0], snap.Drivers[1].Matches[1]

	h := NewHypergraph(snap.Drivers)

	assert.Equal(t, 2, h.Edges())
	assert.Equal(t, []*domain.Match{b}, h.Neighborhood(a).SameDriver)
	assert.Equal(t, []*domain.Match{c}, h.Neighborhood(a).Adjacent)
	assert.Empty(t, h.Neighborhood(c).SameDriver)
	assert.True(t, h.Adjacent(a, c))
	assert.True(t, h.Adjacent(c, a))
	assert.False(t, h.Adjacent(b, c))
	assert.Nil(t, h.Neighborhood(neg))
}

func TestLocalSearch(t *testing.T) {
	type search func(*LocalSearch, context.Context) (*Solution, error)
	methods := map[string]search{
		"ls2":        (*LocalSearch).LS2,
		"ls2plus":    (*LocalSearch).LS2Plus,
		"ls2indexed": (*LocalSearch).LS2Indexed,
	}

	tests := []struct {
		name       string
		snap       func() *domain.Snapshot
		opts       Options
		assignment map[string]domain.Assignment
		profit     map[string]int64
	}{
		{
			name: "pair_covers_four",
			snap: func() *domain.Snapshot { return pairSwap(9, 9) },
			opts: Options{Multiplier: 1, LowerBound: 0.6},
			assignment: map[string]domain.Assignment{
				"ls2":        {0: 1, 1: 2},
				"ls2plus":    {0: 1, 1: 2},
				"ls2indexed": {0: 1, 1: 2},
			},
			profit: map[string]int64{"ls2": 18, "ls2plus": 18, "ls2indexed": 18},
		},
		{
			name: "keeps_single_below_target",
			snap: func() *domain.Snapshot { return pairSwap(0, 1) },
			opts: Options{Multiplier: 0, LowerBound: 0.6},
			assignment: map[string]domain.Assignment{
				"ls2":        {0: 0},
				"ls2plus":    {0: 0},
				"ls2indexed": {0: 0},
			},
			profit: map[string]int64{"ls2": 10, "ls2plus": 10, "ls2indexed": 10},
		},
		{
			name: "single_replacement_needs_plus",
			snap: singleSwap,
			opts: Options{Multiplier: 0, LowerBound: 0.6},
			assignment: map[string]domain.Assignment{
				"ls2":        {0: 0},
				"ls2plus":    {1: 1},
				"ls2indexed": {1: 1},
			},
			profit: map[string]int64{"ls2": 10, "ls2plus": 9, "ls2indexed": 9},
		},
	}

	for _, tt := range tests {
		for name, run := range methods {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				sol, err := run(NewLocalSearch(tt.snap(), tt.opts), context.Background())
				require.NoError(t, err)
				assert.Equal(t, tt.assignment[name], sol.Assignment)
				assert.Equal(t, tt.profit[name], sol.Profit)
			})
		}
	}
}

func TestLocalSearch_LowersTarget(t *testing.T) {
	sol, err := NewLocalSearch(singleSwap(), Options{Multiplier: 0, LowerBound: 0.6}).LS2Plus(context.Background())
	require.NoError(t, err)
	// min(10 - 10 + 20/3, 0.6·10) = 6
	assert.InDelta(t, 6.0, sol.Target, 1e-9)
	assert.Equal(t, 1, sol.Improvements)
	assert.Equal(t, 2, sol.Covered)
}

func TestLocalSearch_NoSingles(t *testing.T) {
	snap := snapshot(2, []offer{{[]int{0, 1}, 12}})
	sol, err := NewLocalSearch(snap, Options{Multiplier: 1, LowerBound: 0.6}).LS2(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Assignment{0: 0}, sol.Assignment)
	assert.Zero(t, sol.Improvements)
}

func TestLocalSearch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalSearch(pairSwap(9, 9), Options{Multiplier: 1}).LS2Plus(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
