package heuristic

import (
	"slices"

	"github.com/samber/lo"

	"ridematch/pkg/domain"
)

// Neighborhood of a match in the simplified hypergraph.
type Neighborhood struct {
	// SameDriver другие совпадения того же водителя
	SameDriver []*domain.Match
	// Adjacent совпадения других водителей с общим пассажиром
	Adjacent []*domain.Match

	adjacent map[*domain.Match]struct{}
}

// Hypergraph links every non-negative match to its neighbors. Built once
// per interval and shared by the local searches.
type Hypergraph struct {
	nodes map[*domain.Match]*Neighborhood
	edges int
}

// NewHypergraph builds neighborhoods over the non-negative matches of drivers.
func NewHypergraph(drivers []*domain.Driver) *Hypergraph {
	h := &Hypergraph{nodes: make(map[*domain.Match]*Neighborhood)}

	byPassenger := make(map[int][]*domain.Match)
	for _, d := range drivers {
		own := lo.Filter(d.Matches, func(m *domain.Match, _ int) bool { return m.Profit >= 0 })
		for _, m := range own {
			h.nodes[m] = &Neighborhood{adjacent: make(map[*domain.Match]struct{})}
			for _, p := range m.Passengers() {
				byPassenger[p] = append(byPassenger[p], m)
			}
		}
		for i, a := range own {
			for _, b := range own[i+1:] {
				h.nodes[a].SameDriver = append(h.nodes[a].SameDriver, b)
				h.nodes[b].SameDriver = append(h.nodes[b].SameDriver, a)
				h.edges++
			}
		}
	}

	passengers := lo.Keys(byPassenger)
	slices.Sort(passengers)
	for _, p := range passengers {
		ms := byPassenger[p]
		for i, a := range ms {
			for _, b := range ms[i+1:] {
				if a.Driver == b.Driver || h.Adjacent(a, b) {
					continue
				}
				h.link(a, b)
			}
		}
	}
	return h
}

func (h *Hypergraph) link(a, b *domain.Match) {
	na, nb := h.nodes[a], h.nodes[b]
	na.Adjacent = append(na.Adjacent, b)
	na.adjacent[b] = struct{}{}
	nb.Adjacent = append(nb.Adjacent, a)
	nb.adjacent[a] = struct{}{}
	h.edges++
}

// Neighborhood returns the neighborhood of m, nil for matches outside the graph.
func (h *Hypergraph) Neighborhood(m *domain.Match) *Neighborhood {
	return h.nodes[m]
}

// Adjacent reports whether matches of different drivers share a passenger.
func (h *Hypergraph) Adjacent(a, b *domain.Match) bool {
	n, ok := h.nodes[a]
	if !ok {
		return false
	}
	_, linked := n.adjacent[b]
	return linked
}

// Edges returns the number of links in both neighborhoods.
func (h *Hypergraph) Edges() int {
	return h.edges
}
