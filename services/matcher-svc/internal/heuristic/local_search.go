package heuristic

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/samber/lo"

	"ridematch/pkg/domain"
	"ridematch/pkg/logger"
)

// Options of the local searches.
type Options struct {
	GreedyMethod int
	// Multiplier сдвигает порог между нижней границей (0) и прибылью жадного решения (1)
	Multiplier float64
	// LowerBound доля прибыли жадного решения, ниже которой порог не опускается
	LowerBound float64
}

// ChangeProfitTarget lowers target towards a lower bound computed from the
// single passenger matches of the current solution:
//
//	LB = min(target - Σsingles + 2·Σsingles/(largest+1), lowerBound·target)
//	target' = (target - LB)·multiplier + LB
func ChangeProfitTarget(target float64, singles []*domain.Match, largest int, multiplier, lowerBound float64) float64 {
	profit := float64(lo.SumBy(singles, func(m *domain.Match) int64 { return m.Profit }))
	lb := target - profit + 2*profit/float64(largest+1)
	lb = math.Min(lb, lowerBound*target)
	return (target-lb)*multiplier + lb
}

// improvement ищет замену для удалённого одиночного совпадения
type improvement func(st *state, removed *domain.Match, target float64) []*domain.Match

// LocalSearch improves a greedy solution by replacing single passenger
// matches, cheapest first.
type LocalSearch struct {
	snap  *domain.Snapshot
	opts  Options
	graph *Hypergraph
	log   *slog.Logger
}

func NewLocalSearch(snap *domain.Snapshot, opts Options) *LocalSearch {
	return &LocalSearch{
		snap: snap,
		opts: opts,
		log:  logger.Log.With("component", "local_search"),
	}
}

// Graph builds the hypergraph on first use.
func (ls *LocalSearch) Graph() *Hypergraph {
	if ls.graph == nil {
		ls.graph = NewHypergraph(ls.snap.Drivers)
		ls.log.Debug("hypergraph built", "edges", ls.graph.Edges())
	}
	return ls.graph
}

// LS2 accepts the first pair of matches, one from another driver and one
// from the removed match's driver, that covers four passengers and keeps
// the profit above the target.
func (ls *LocalSearch) LS2(ctx context.Context) (*Solution, error) {
	g := ls.Graph()
	return ls.run(ctx, "ls2", func(st *state, removed *domain.Match, target float64) []*domain.Match {
		nb := g.Neighborhood(removed)
		for _, m1 := range nb.Adjacent {
			if !st.compatible(m1) {
				continue
			}
			for _, m2 := range nb.SameDriver {
				if !st.free(m2) || g.Adjacent(m1, m2) {
					continue
				}
				if m1.Size()+m2.Size() == 4 && float64(st.profit+m1.Profit+m2.Profit) >= target {
					return []*domain.Match{m1, m2}
				}
			}
		}
		return nil
	})
}

// LS2Plus also accepts a single multi-passenger replacement and keeps the
// candidate that covers the most passengers.
func (ls *LocalSearch) LS2Plus(ctx context.Context) (*Solution, error) {
	g := ls.Graph()
	return ls.run(ctx, "ls2plus", func(st *state, removed *domain.Match, target float64) []*domain.Match {
		var best []*domain.Match
		covered := 0
		nb := g.Neighborhood(removed)
		for _, m1 := range nb.Adjacent {
			if !st.compatible(m1) {
				continue
			}
			if m1.Size() > 1 && float64(st.profit+m1.Profit) >= target && m1.Size() > covered {
				covered = m1.Size()
				best = []*domain.Match{m1}
			}
			for _, m2 := range nb.SameDriver {
				if !st.free(m2) || g.Adjacent(m1, m2) {
					continue
				}
				n := m1.Size() + m2.Size()
				if float64(st.profit+m1.Profit+m2.Profit) >= target && n > covered {
					covered = n
					best = []*domain.Match{m1, m2}
				}
			}
		}
		return best
	})
}

// LS2Indexed searches the same moves as LS2Plus without the hypergraph,
// using an index of non-negative matches by passenger.
func (ls *LocalSearch) LS2Indexed(ctx context.Context) (*Solution, error) {
	index := make(map[int][]*domain.Match)
	for _, m := range candidates(ls.snap.Drivers) {
		if m.Size() == 1 {
			index[m.Passengers()[0]] = nil
		}
	}
	for _, m := range candidates(ls.snap.Drivers) {
		for _, p := range m.Passengers() {
			if ms, ok := index[p]; ok {
				index[p] = append(ms, m)
			}
		}
	}

	return ls.run(ctx, "ls2indexed", func(st *state, removed *domain.Match, target float64) []*domain.Match {
		var best []*domain.Match
		covered := 0
		diff := int64(math.MinInt64)
		others := lo.Filter(index[removed.Passengers()[0]], func(m *domain.Match, _ int) bool {
			return m.Driver != removed.Driver && st.compatible(m)
		})

		for _, m1 := range others {
			if m1.Size() > 1 && float64(st.profit+m1.Profit) >= target &&
				m1.Size() >= covered && m1.Profit-removed.Profit > diff {
				covered = m1.Size()
				diff = m1.Profit - removed.Profit
				best = []*domain.Match{m1}
			}
		}

		for _, m := range ls.snap.Drivers[removed.Driver].Matches {
			if m.Profit < 0 || !st.free(m) {
				continue
			}
			if m.Size() > 1 && float64(st.profit+m.Profit) >= target && m.Size() > covered {
				covered = m.Size()
				best = []*domain.Match{m}
			}
			for _, m1 := range others {
				if lo.Some(m.Passengers(), m1.Passengers()) {
					continue
				}
				n := m.Size() + m1.Size()
				if float64(st.profit+m.Profit+m1.Profit) >= target && n > covered {
					covered = n
					best = []*domain.Match{m, m1}
				}
			}
		}
		return best
	})
}

func (ls *LocalSearch) run(ctx context.Context, name string, find improvement) (*Solution, error) {
	log := ls.log.With("method", name)
	st := greedy(ls.snap, ls.opts.GreedyMethod)

	singles := st.singles(ls.snap.Drivers)
	if len(singles) == 0 {
		log.Debug("no single passenger matches in the greedy solution", "matches", len(st.chosen))
		sol := st.solution()
		sol.Target = float64(sol.Profit)
		return sol, nil
	}

	target := ChangeProfitTarget(float64(st.profit), singles, largestMatch(ls.snap.Drivers),
		ls.opts.Multiplier, ls.opts.LowerBound)
	log.Debug("profit target lowered", "greedy_profit", st.profit, "target", target, "singles", len(singles))

	slices.SortStableFunc(singles, func(a, b *domain.Match) int {
		return cmp.Compare(a.Profit, b.Profit)
	})

	improved := 0
	for _, removed := range singles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		st.remove(removed)
		repl := find(st, removed, target)
		if len(repl) == 0 {
			st.add(removed)
			continue
		}
		for _, m := range repl {
			st.add(m)
		}
		improved++
		log.Debug("single match replaced",
			"driver", removed.Driver,
			"removed", removed.ID,
			"replacement", lo.Map(repl, func(m *domain.Match, _ int) int { return m.ID }),
			"profit", st.profit,
		)
	}

	sol := st.solution()
	sol.Target = target
	sol.Improvements = improved
	return sol, nil
}

func largestMatch(drivers []*domain.Driver) int {
	largest := 0
	for _, d := range drivers {
		for _, m := range d.Matches {
			largest = max(largest, m.Size())
		}
	}
	return largest
}
