package engine

import (
	"context"
	"errors"
	"math"

	"ridematch/pkg/apperror"
	"ridematch/pkg/config"
	"ridematch/pkg/domain"
	"ridematch/pkg/logger"
	"ridematch/services/matcher-svc/internal/flow"
	"ridematch/services/matcher-svc/internal/heuristic"
)

// Solvers.
const (
	SolverSSP        = "ssp"
	SolverGreedy     = "greedy"
	SolverLS2        = "ls2"
	SolverLS2Plus    = "ls2plus"
	SolverLS2Indexed = "ls2indexed"
)

// Solution выбранное назначение и сведения о решателе
type Solution struct {
	Assignment domain.Assignment
	Profit     int64
	// Target цель по прибыли в центах, которой добивался решатель
	Target     float64
	Iterations int
	Suspect    bool
	Warnings   []*apperror.Error
	// Graph сеть после SSP; nil для эвристик
	Graph *flow.Graph
}

// Solve выбирает назначение по уже пронумерованным и оценённым совпадениям.
//
// SSP принимает только одиночные совпадения и сначала находит назначение
// наибольшей прибыли; при множителе цели меньше 1 решает заново на новом
// графе и останавливается у цели. Эвристики работают от собственного жадного
// решения.
func Solve(ctx context.Context, cfg config.MatchingConfig, snap *domain.Snapshot) (*Solution, error) {
	switch cfg.Solver {
	case SolverSSP, "":
		return solveSSP(ctx, cfg, snap)
	case SolverGreedy:
		sol := heuristic.Greedy(snap, cfg.GreedyMethod)
		return &Solution{Assignment: sol.Assignment, Profit: sol.Profit, Target: float64(sol.Profit)}, nil
	case SolverLS2, SolverLS2Plus, SolverLS2Indexed:
		return solveLocal(ctx, cfg, snap)
	default:
		return nil, apperror.Newf(apperror.CodeUnknownSolver, "unknown solver %q", cfg.Solver).
			WithField("matching.solver")
	}
}

// baseOnly сообщает, что решатель работает только с одиночными совпадениями
func baseOnly(solver string) bool {
	return solver == SolverSSP || solver == ""
}

// grownMatches число совпадений больше чем на одного пассажира
func grownMatches(drivers []*domain.Driver) int {
	n := 0
	for _, d := range drivers {
		for _, m := range d.Matches {
			if m.Size() > 1 {
				n++
			}
		}
	}
	return n
}

func solveSSP(ctx context.Context, cfg config.MatchingConfig, snap *domain.Snapshot) (*Solution, error) {
	// сеть покрывает только одиночные совпадения; пары молча терялись бы
	if n := grownMatches(snap.Drivers); n > 0 {
		return nil, apperror.Newf(apperror.CodeInvalidConfig,
			"ssp solver takes single-passenger matches only, got %d larger ones", n).
			WithField("matching.solver")
	}

	best := flow.NewSolver(flow.NewGraph(snap.Drivers))
	maxRes, err := best.MaxWeight(ctx)
	if err != nil {
		return nil, err
	}

	target := float64(maxRes.Profit) * cfg.ProfitTargetMultiplier
	if cfg.ProfitTargetMultiplier >= 1 || maxRes.Profit <= 0 {
		return fromFlow(maxRes, target, best.Graph()), nil
	}

	cents, warn := integralTarget(target)

	s := flow.NewSolver(flow.NewGraph(snap.Drivers))
	res, err := s.Solve(ctx, cents)
	if errors.Is(err, apperror.ErrTargetMissed) {
		// цель ниже максимума, но путь к ней прошёл мимо: берём максимум
		return fromFlow(maxRes, target, best.Graph()), nil
	}
	if err != nil {
		return nil, err
	}
	sol := fromFlow(res, target, s.Graph())
	sol.Iterations += maxRes.Iterations
	if warn != nil {
		sol.Warnings = append(sol.Warnings, warn)
	}
	return sol, nil
}

// integralTarget отбрасывает доли цента у цели и предупреждает об этом
func integralTarget(target float64) (int64, *apperror.Error) {
	cents := math.Trunc(target)
	if cents == target {
		return int64(cents), nil
	}
	logger.Log.Warn("non-integral profit target truncated", "target", target, "cents", int64(cents))
	return int64(cents), apperror.NewWarning(apperror.CodeNonIntegral, "profit target is not integral").
		WithDetails("target", target)
}

func fromFlow(res *flow.Result, target float64, g *flow.Graph) *Solution {
	return &Solution{
		Assignment: res.Assignment,
		Profit:     res.Profit,
		Target:     target,
		Iterations: res.Iterations,
		Suspect:    res.Suspect,
		Warnings:   res.Warnings,
		Graph:      g,
	}
}

func solveLocal(ctx context.Context, cfg config.MatchingConfig, snap *domain.Snapshot) (*Solution, error) {
	ls := heuristic.NewLocalSearch(snap, heuristic.Options{
		GreedyMethod: cfg.GreedyMethod,
		Multiplier:   cfg.ProfitTargetMultiplier,
		LowerBound:   cfg.LowerBoundProfitTarget,
	})

	var (
		sol *heuristic.Solution
		err error
	)
	switch cfg.Solver {
	case SolverLS2:
		sol, err = ls.LS2(ctx)
	case SolverLS2Plus:
		sol, err = ls.LS2Plus(ctx)
	default:
		sol, err = ls.LS2Indexed(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &Solution{
		Assignment: sol.Assignment,
		Profit:     sol.Profit,
		Target:     sol.Target,
		Iterations: sol.Improvements,
	}, nil
}
