package engine

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"ridematch/pkg/config"
	"ridematch/pkg/domain"
)

// =============================================================================
// SNAPSHOT GENERATORS
// =============================================================================

// generateMatches создаёт drivers водителей с perDriver случайными
// совпадениями на одного или (при pairs) двух пассажиров из passengers.
func generateMatches(drivers, passengers, perDriver int, pairs bool, seed int64) *domain.Snapshot {
	rng := rand.New(rand.NewSource(seed))

	snap := &domain.Snapshot{
		Drivers:    make([]*domain.Driver, drivers),
		Passengers: make([]*domain.Passenger, passengers),
	}
	for p := range snap.Passengers {
		snap.Passengers[p] = &domain.Passenger{}
	}

	id := 0
	for d := range snap.Drivers {
		drv := &domain.Driver{Capacity: 2}
		for range perDriver {
			ps := []int{rng.Intn(passengers)}
			if q := rng.Intn(passengers); pairs && rng.Intn(2) == 0 && q != ps[0] {
				ps = append(ps, q)
				slices.Sort(ps)
			}
			drv.Matches = append(drv.Matches, &domain.Match{
				ID:     id,
				Driver: d,
				SFP:    &domain.SFP{Passengers: ps},
				Profit: int64(100 + rng.Intn(900)*len(ps)),
			})
			id++
		}
		snap.Drivers[d] = drv
	}
	snap.Reindex()
	return snap
}

// =============================================================================
// SOLVER BENCHMARKS
// =============================================================================

func BenchmarkSolve(b *testing.B) {
	sizes := []struct{ drivers, passengers, perDriver int }{
		{10, 20, 10},
		{50, 100, 20},
		{200, 400, 20},
	}
	solvers := []string{SolverSSP, SolverGreedy, SolverLS2, SolverLS2Plus}

	for _, size := range sizes {
		grown := generateMatches(size.drivers, size.passengers, size.perDriver, true, 42)
		singles := generateMatches(size.drivers, size.passengers, size.perDriver, false, 42)
		for _, solver := range solvers {
			snap := grown
			if solver == SolverSSP {
				snap = singles
			}
			name := fmt.Sprintf("%s/drivers=%d", solver, size.drivers)
			b.Run(name, func(b *testing.B) {
				cfg := config.MatchingConfig{Solver: solver, ProfitTargetMultiplier: 1, LowerBoundProfitTarget: 0.5}
				ctx := context.Background()

				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := Solve(ctx, cfg, snap); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkRunInterval(b *testing.B) {
	for _, solver := range []string{SolverSSP, SolverGreedy} {
		b.Run(solver, func(b *testing.B) {
			cfg := testConfig(solver)
			cfg.Matching.Validate = false
			r, err := New(cfg, &memSource{build: corridor}, lineOracle())
			if err != nil {
				b.Fatal(err)
			}
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := r.RunInterval(ctx, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
