package flow

import (
	"context"
	"log/slog"
	"math"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
	"ridematch/pkg/logger"
)

// Result of one solver run.
type Result struct {
	Assignment domain.Assignment
	// Profit в центах
	Profit     int64
	Iterations int
	// Suspect is set when a negative reduced cost showed up after a
	// potential update; the assignment may not be optimal.
	Suspect  bool
	Warnings []*apperror.Error
}

// Solver runs successive shortest paths on one graph. A solver is used for
// a single Solve or MaxWeight call.
type Solver struct {
	g   *Graph
	log *slog.Logger

	pot []int64
	// рёбра с потоком водитель -> пассажир
	chosen map[int]*Edge
	total  int64
	res    *Result
}

// NewSolver reweights g to non-negative costs and prepares a solver.
func NewSolver(g *Graph) *Solver {
	Reweight(g)
	return &Solver{
		g:      g,
		log:    logger.Log.With("component", "ssp"),
		pot:    make([]int64, g.Vertices()),
		chosen: make(map[int]*Edge),
		res:    &Result{},
	}
}

// Graph returns the network in its current state.
func (s *Solver) Graph() *Graph {
	return s.g
}

// Solve augments along shortest paths while the accumulated profit keeps
// meeting target. It returns the last assignment whose profit met the
// target, or apperror.ErrTargetMissed when no assignment met it.
func (s *Solver) Solve(ctx context.Context, target int64) (*Result, error) {
	previous := int64(math.MinInt64)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.res.Iterations++

		sp := Dijkstra(s.g)
		if sp.Path == nil {
			if s.total >= target {
				return s.result(s.total), nil
			}
			return nil, apperror.ErrTargetMissed
		}

		s.total += pathProfit(sp.Path)
		if s.total >= target {
			previous = s.total
		} else if previous >= target {
			// прибыль упала ниже цели: решение прошлой итерации окончательное
			return s.result(previous), nil
		}

		s.updatePotentials(sp)
		s.augment(sp.Path)
	}
}

// MaxWeight augments while the next shortest path still adds profit and
// returns the most profitable assignment.
func (s *Solver) MaxWeight(ctx context.Context) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.res.Iterations++

		sp := Dijkstra(s.g)
		if sp.Path == nil {
			break
		}
		delta := pathProfit(sp.Path)
		if delta <= 0 {
			break
		}
		s.total += delta

		s.updatePotentials(sp)
		s.augment(sp.Path)
	}
	return s.result(s.total), nil
}

// pathProfit is the change of total profit when augmenting along path:
// forward match edges add their profit, reversed ones give it back.
func pathProfit(path []*Edge) int64 {
	var delta int64
	for _, e := range path {
		if e.Reversed {
			delta -= e.Profit
		} else {
			delta += e.Profit
		}
	}
	return delta
}

// updatePotentials shifts the potentials of settled vertices by their
// distance to the sink and recomputes every reduced cost.
func (s *Solver) updatePotentials(sp *ShortestPath) {
	sink := sp.Dist[Sink]
	for u, settled := range sp.Permanent {
		if settled {
			s.pot[u] += sink - sp.Dist[u]
		}
	}

	for _, e := range s.g.edges {
		cost := e.Cost
		if e.Reversed {
			cost = -cost
		}
		e.Reduced = cost - s.pot[e.Tail] + s.pot[e.Head]
		if e.Reduced < 0 {
			s.negativeReducedCost(e)
		}
	}
}

func (s *Solver) negativeReducedCost(e *Edge) {
	s.res.Suspect = true
	s.log.Warn("negative reduced cost after potential update",
		"edge", e.ID,
		"tail", e.Tail,
		"head", e.Head,
		"reduced", e.Reduced,
		"cost", e.Cost,
		"pot_tail", s.pot[e.Tail],
		"pot_head", s.pot[e.Head],
		"iteration", s.res.Iterations,
		"total_profit", s.total,
		"chosen", len(s.chosen),
	)
	s.res.Warnings = append(s.res.Warnings,
		apperror.NewWarning(apperror.CodeReducedCost, "negative reduced cost after potential update").
			WithDetails("edge", e.ID).
			WithDetails("reduced", e.Reduced).
			WithDetails("iteration", s.res.Iterations))
}

// augment pushes one unit along path: every edge is reversed, forward
// match edges enter the assignment and reversed ones leave it.
func (s *Solver) augment(path []*Edge) {
	for _, e := range path {
		if e.HasMatch {
			if e.Reversed {
				delete(s.chosen, e.ID)
			} else {
				s.chosen[e.ID] = e
			}
		}
		s.g.reverse(e)
	}
}

func (s *Solver) result(profit int64) *Result {
	as := make(domain.Assignment, len(s.chosen))
	for _, e := range s.chosen {
		// ребро с потоком развёрнуто: пассажир -> водитель
		d, _ := s.g.Driver(e.From())
		as[d] = e.Match
	}
	s.res.Assignment = as
	s.res.Profit = profit
	return s.res
}
