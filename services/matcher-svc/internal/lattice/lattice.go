// Package lattice enumerates, per driver, every passenger subset that one
// vehicle can serve together with the fastest stop ordering for it.
//
// # Levels
//
// Subsets are built level by level: level 0 holds single-passenger matches
// (base matches), level k holds sets of k+1 passengers. A set of size k+1 is
// tried only when each k-subset left after dropping one member of the match
// it grows from is already a match of the previous level (downward closure).
// Driver.Levels records where each level ends in Driver.Matches.
//
// # Concurrency
//
// Growers only touch the state of the driver they are given, so one driver
// per goroutine is safe. The distance matrix and the feasibility checker are
// shared and safe for concurrent use. See Runner.
package lattice

import (
	"context"
	"log/slog"
	"strconv"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
	"ridematch/pkg/logger"
	"ridematch/services/matcher-svc/internal/feasibility"
)

// Growth methods.
const (
	MethodLattice = "lattice"
	MethodDP      = "dp"
)

// Candidate reports whether a passenger is worth a feasibility walk for the
// driver at all.
type Candidate func(d *domain.Driver, p *domain.Passenger) bool

// AllPairs accepts every driver/passenger pair.
func AllPairs(*domain.Driver, *domain.Passenger) bool { return true }

// Grower builds the lattice of a single driver.
type Grower interface {
	// Base seeds level 0 with single-passenger matches.
	Base(ctx context.Context, d *domain.Driver) error
	// Grow adds levels 1.. on top of the base matches.
	Grow(ctx context.Context, d *domain.Driver) error
}

// New returns the grower for method.
func New(method string, c *feasibility.Checker, maxMatches int, candidate Candidate) (Grower, error) {
	b := NewBuilder(c, maxMatches, candidate)
	switch method {
	case MethodLattice, "":
		return b, nil
	case MethodDP:
		return NewDPBuilder(b), nil
	default:
		return nil, apperror.Newf(apperror.CodeInvalidConfig, "unknown match building method %q", method).
			WithField("matching.method")
	}
}

// Builder grows the lattice by testing every valid ordering of each new set.
type Builder struct {
	checker    *feasibility.Checker
	maxMatches int
	candidate  Candidate
}

// NewBuilder creates a Builder. maxMatches caps the matches of one driver;
// values below 1 fall back to domain.DefaultMaxMatchesPerDriver.
func NewBuilder(c *feasibility.Checker, maxMatches int, candidate Candidate) *Builder {
	if maxMatches < 1 {
		maxMatches = domain.DefaultMaxMatchesPerDriver
	}
	if candidate == nil {
		candidate = AllPairs
	}
	return &Builder{checker: c, maxMatches: maxMatches, candidate: candidate}
}

// Base walks driver → pickup → drop-off → driver destination for every
// candidate passenger and keeps the feasible ones. Each kept match bumps the
// passenger's assignment counter.
func (b *Builder) Base(ctx context.Context, d *domain.Driver) error {
	log := driverLog(d)
	for _, p := range b.checker.Snapshot().Passengers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !b.candidate(d, p) {
			continue
		}
		set := []int{p.Index}
		sfp, ok, err := b.checker.Check(ctx, d, set, domain.CanonicalStops(set))
		if err != nil {
			if !apperror.Is(err, apperror.CodeOracleFailure) {
				return err
			}
			log.Warn("base match skipped", "passenger", p.TripID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		d.Matches = append(d.Matches, &domain.Match{Driver: d.Index, SFP: sfp})
		p.AddAssignment()
	}
	d.AddIndexLevel()
	return nil
}

// Grow extends the base matches using full permutation search per set.
func (b *Builder) Grow(ctx context.Context, d *domain.Driver) error {
	log := driverLog(d)
	return grow(ctx, d, b.maxMatches, func(_ int, _ int, union []int) (*domain.SFP, error) {
		sfp, err := b.checker.Best(ctx, d, union)
		if err != nil && apperror.Is(err, apperror.CodeOracleFailure) {
			log.Warn("candidate set skipped", "passengers", domain.SetKey(union), "error", err)
			return nil, nil
		}
		return sfp, err
	}, nil)
}

// tryFunc tests base match i extended with passenger p. A non-nil route is
// appended to the driver's matches at index len(d.Matches).
type tryFunc func(i int, p int, union []int) (*domain.SFP, error)

// grow runs the level-wise apriori loop for one driver. release, when set,
// is called once match i will never be extended again.
func grow(ctx context.Context, d *domain.Driver, maxMatches int, try tryFunc, release func(i int)) error {
	base := len(d.Matches)
	if base == 0 || d.Capacity < 2 || base >= maxMatches {
		return nil
	}

	// пассажиры базовых совпадений в порядке их появления
	pool := make([]int, base)
	skip := make([]int, base, 2*base)
	for i, m := range d.Matches {
		pool[i] = m.Passengers()[0]
		skip[i] = i
	}

	start := 0
	for size := 2; size <= d.Capacity; size++ {
		end := len(d.Matches)
		prev := make(map[string]struct{}, end-start)
		for _, m := range d.Matches[start:end] {
			prev[m.SFP.Key()] = struct{}{}
		}

		for i := start; i < end; i++ {
			current := d.Matches[i].Passengers()
			for idx := skip[i] + 1; idx < len(pool); idx++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				p := pool[idx]
				union := domain.Union(current, p)
				if len(union) == len(current) || !closed(union, current, prev) {
					continue
				}

				sfp, err := try(i, p, union)
				if err != nil {
					return err
				}
				if sfp == nil {
					continue
				}
				d.Matches = append(d.Matches, &domain.Match{Driver: d.Index, SFP: sfp})
				if len(d.Matches) >= maxMatches {
					d.AddIndexLevel()
					return nil
				}
				skip = append(skip, idx)
			}
			if release != nil {
				release(i)
			}
		}

		d.AddIndexLevel()
		if end == len(d.Matches) {
			return nil
		}
		start = end
	}
	return nil
}

// closed checks that removing any member of current from union leaves a
// set present in prev.
func closed(union, current []int, prev map[string]struct{}) bool {
	sub := make([]int, 0, len(union)-1)
	for _, q := range current {
		sub = sub[:0]
		for _, x := range union {
			if x != q {
				sub = append(sub, x)
			}
		}
		if _, ok := prev[domain.SetKey(sub)]; !ok {
			return false
		}
	}
	return true
}

func driverLog(d *domain.Driver) *slog.Logger {
	return logger.WithDriver(logger.Log, d.Index, strconv.FormatInt(d.TripID, 10))
}
