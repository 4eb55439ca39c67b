package lattice

import (
	"slices"

	"ridematch/pkg/domain"
)

// ReduceParams bounds the number of base matches.
type ReduceParams struct {
	// Min driver's base matches are never trimmed below this
	Min int
	// Max base matches kept after the second pass
	Max int
	// MaxAssignments passengers in more base matches than this are trimmed first
	MaxAssignments int
}

// DefaultReduceParams returns the standard limits.
func DefaultReduceParams() ReduceParams {
	return ReduceParams{
		Min:            domain.DefaultMinBaseMatchesPerDriver,
		Max:            domain.DefaultMaxBaseMatchesPerDriver,
		MaxAssignments: domain.DefaultMaxAssignmentsPerPassenger,
	}
}

// Reduce trims base matches of drivers with too many of them, dropping
// matches of passengers that many other drivers can serve. It runs between
// BuildBase and BuildAll, single-threaded, and resets level 0 of every
// trimmed driver. Returns the number of matches removed.
func Reduce(drivers []*domain.Driver, passengers []*domain.Passenger, params ReduceParams) int {
	removed := 0
	for _, d := range drivers {
		// с конца, пока у водителя больше минимума
		for j := len(d.Matches) - 1; j >= 0 && len(d.Matches) > params.Min; j-- {
			p := passengers[d.Matches[j].Passengers()[0]]
			if p.Assignments() > int32(params.MaxAssignments) {
				p.RemoveAssignment()
				d.Matches = slices.Delete(d.Matches, j, j+1)
				removed++
			}
		}

		if len(d.Matches) > params.Max {
			slices.SortStableFunc(d.Matches, func(a, b *domain.Match) int {
				return int(passengers[a.Passengers()[0]].Assignments() - passengers[b.Passengers()[0]].Assignments())
			})
			for j := len(d.Matches) - 1; j >= 0; j-- {
				p := passengers[d.Matches[j].Passengers()[0]]
				if p.Assignments() > int32(params.MaxAssignments/2) {
					p.RemoveAssignment()
					d.Matches = slices.Delete(d.Matches, j, j+1)
					removed++
				}
				if len(d.Matches) <= params.Max {
					break
				}
			}
		}

		if len(d.Matches) > 0 {
			d.Levels = []int{len(d.Matches)}
		}
	}
	return removed
}
