// Package heuristic builds assignments without the flow network: a greedy
// pass over non-negative matches and local searches that swap a single
// passenger match for one or two matches covering more passengers.
package heuristic

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"ridematch/pkg/domain"
)

// Методы жадного алгоритма
const (
	MethodAuto          = 0
	MethodSorted        = 1
	MethodSimpleRemoval = 2
)

// SortedThreshold число кандидатов, начиная с которого MethodAuto сортирует
const SortedThreshold = 2000

// Solution assignment produced by a heuristic.
type Solution struct {
	Assignment domain.Assignment
	// Profit в центах
	Profit  int64
	Covered int
	// Target порог прибыли, с которым работал локальный поиск
	Target       float64
	Improvements int
}

// state текущее решение: водитель -> совпадение и занятые пассажиры
type state struct {
	chosen map[int]*domain.Match
	riders map[int]struct{}
	profit int64
}

func newState(drivers int) *state {
	return &state{
		chosen: make(map[int]*domain.Match, drivers),
		riders: make(map[int]struct{}, drivers*2),
	}
}

func (s *state) add(m *domain.Match) {
	s.chosen[m.Driver] = m
	for _, p := range m.Passengers() {
		s.riders[p] = struct{}{}
	}
	s.profit += m.Profit
}

func (s *state) remove(m *domain.Match) {
	delete(s.chosen, m.Driver)
	for _, p := range m.Passengers() {
		delete(s.riders, p)
	}
	s.profit -= m.Profit
}

func (s *state) hasDriver(d int) bool {
	_, ok := s.chosen[d]
	return ok
}

// free: ни один пассажир совпадения ещё не занят
func (s *state) free(m *domain.Match) bool {
	return !lo.SomeBy(m.Passengers(), func(p int) bool {
		_, taken := s.riders[p]
		return taken
	})
}

func (s *state) compatible(m *domain.Match) bool {
	return !s.hasDriver(m.Driver) && s.free(m)
}

func (s *state) full(snap *domain.Snapshot) bool {
	return len(s.chosen) == len(snap.Drivers) || len(s.riders) == len(snap.Passengers)
}

// singles совпадения решения с одним пассажиром в порядке водителей
func (s *state) singles(drivers []*domain.Driver) []*domain.Match {
	var out []*domain.Match
	for _, d := range drivers {
		if m, ok := s.chosen[d.Index]; ok && m.Size() == 1 {
			out = append(out, m)
		}
	}
	return out
}

func (s *state) solution() *Solution {
	as := make(domain.Assignment, len(s.chosen))
	for d, m := range s.chosen {
		as[d] = domain.MatchHandle(m.ID)
	}
	return &Solution{Assignment: as, Profit: s.profit, Covered: len(s.riders)}
}

// candidates все совпадения с неотрицательной прибылью в порядке водителей
func candidates(drivers []*domain.Driver) []*domain.Match {
	var out []*domain.Match
	for _, d := range drivers {
		out = append(out, lo.Filter(d.Matches, func(m *domain.Match, _ int) bool {
			return m.Profit >= 0
		})...)
	}
	return out
}

// Greedy runs the greedy pass selected by method. MethodAuto sorts when
// there are more than SortedThreshold candidates.
func Greedy(snap *domain.Snapshot, method int) *Solution {
	st := greedy(snap, method)
	return st.solution()
}

func greedy(snap *domain.Snapshot, method int) *state {
	ms := candidates(snap.Drivers)
	switch method {
	case MethodAuto:
		if len(ms) > SortedThreshold {
			return greedySorted(snap, ms)
		}
		return greedySimpleRemoval(snap, ms)
	case MethodSorted:
		return greedySorted(snap, ms)
	default:
		return greedySimpleRemoval(snap, ms)
	}
}

// GreedySorted scans non-negative matches once in descending profit order
// and takes every match whose driver and passengers are still free.
func GreedySorted(snap *domain.Snapshot) *Solution {
	return greedySorted(snap, candidates(snap.Drivers)).solution()
}

func greedySorted(snap *domain.Snapshot, ms []*domain.Match) *state {
	st := newState(len(snap.Drivers))
	slices.SortStableFunc(ms, func(a, b *domain.Match) int {
		return cmp.Compare(b.Profit, a.Profit)
	})

	for _, m := range ms {
		if !st.compatible(m) {
			continue
		}
		st.add(m)
		if st.full(snap) {
			break
		}
	}
	return st
}

// GreedySimpleRemoval repeatedly commits the most profitable remaining
// match and drops every match sharing its driver or a passenger.
func GreedySimpleRemoval(snap *domain.Snapshot) *Solution {
	return greedySimpleRemoval(snap, candidates(snap.Drivers)).solution()
}

func greedySimpleRemoval(snap *domain.Snapshot, ms []*domain.Match) *state {
	st := newState(len(snap.Drivers))
	for len(ms) > 0 {
		// при равной прибыли побеждает последнее
		var best *domain.Match
		for _, m := range ms {
			if best == nil || m.Profit >= best.Profit {
				best = m
			}
		}
		st.add(best)
		if st.full(snap) {
			break
		}

		ms = lo.Reject(ms, func(m *domain.Match, _ int) bool {
			return !st.compatible(m)
		})
	}
	return st
}
