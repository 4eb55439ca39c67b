// Package flow picks the most profitable one-to-one assignment of drivers
// to single-passenger matches by successive shortest paths on a unit
// capacity network.
//
// The network has a source, a sink, one vertex per driver with matches and
// one per passenger that appears in them:
//
//	source -> driver (cost 0) -> passenger (cost -profit) -> sink (cost 0)
//
// Every edge carries one unit. Augmenting along an edge reverses it in
// place; an edge that is reversed holds flow.
package flow

import (
	"slices"

	"ridematch/pkg/domain"
)

// Fixed vertices.
const (
	Source = 0
	Sink   = 1
)

// Edge of the network. Tail and Head follow the current orientation.
type Edge struct {
	ID         int
	Tail, Head int
	// Match set only on driver -> passenger edges
	Match    domain.MatchHandle
	HasMatch bool
	Profit   int64
	// Cost после перевзвешивания Беллманом-Фордом, неотрицательна
	Cost     int64
	Reduced  int64
	Reversed bool
}

// From is the tail of the edge in the original network.
func (e *Edge) From() int {
	if e.Reversed {
		return e.Head
	}
	return e.Tail
}

// To is the head of the edge in the original network.
func (e *Edge) To() int {
	if e.Reversed {
		return e.Tail
	}
	return e.Head
}

// Flow is 1 on saturated edges.
func (e *Edge) Flow() int {
	if e.Reversed {
		return 1
	}
	return 0
}

// Graph is the matching network. It is mutated in place by the solver and
// must not be reused for another target.
type Graph struct {
	out   [][]*Edge
	edges []*Edge

	// вершина -> индекс водителя или пассажира
	drivers    map[int]int
	passengers map[int]int
}

// NewGraph builds the network from the single-passenger matches of drivers.
// Match ids must be assigned. Drivers without such matches get no vertex.
func NewGraph(drivers []*domain.Driver) *Graph {
	g := &Graph{
		out:        make([][]*Edge, 2),
		drivers:    make(map[int]int),
		passengers: make(map[int]int),
	}

	passengerVertex := make(map[int]int)
	for _, d := range drivers {
		var dv int
		added := false
		for _, m := range d.Matches {
			if m.Size() != 1 {
				continue
			}
			if !added {
				dv = g.addVertex()
				g.drivers[dv] = d.Index
				g.addEdge(&Edge{Tail: Source, Head: dv})
				added = true
			}

			p := m.Passengers()[0]
			pv, ok := passengerVertex[p]
			if !ok {
				pv = g.addVertex()
				passengerVertex[p] = pv
				g.passengers[pv] = p
				g.addEdge(&Edge{Tail: pv, Head: Sink})
			}
			g.addEdge(&Edge{
				Tail:     dv,
				Head:     pv,
				Match:    domain.MatchHandle(m.ID),
				HasMatch: true,
				Profit:   m.Profit,
				Cost:     -m.Profit,
			})
		}
	}
	return g
}

func (g *Graph) addVertex() int {
	g.out = append(g.out, nil)
	return len(g.out) - 1
}

func (g *Graph) addEdge(e *Edge) {
	e.ID = len(g.edges)
	g.edges = append(g.edges, e)
	g.out[e.Tail] = append(g.out[e.Tail], e)
}

// Vertices returns the number of vertices including source and sink.
func (g *Graph) Vertices() int {
	return len(g.out)
}

// Edges returns every edge in creation order.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// Out returns the edges leaving v in the current orientation.
func (g *Graph) Out(v int) []*Edge {
	return g.out[v]
}

// Driver returns the driver index of vertex v.
func (g *Graph) Driver(v int) (int, bool) {
	d, ok := g.drivers[v]
	return d, ok
}

// Passenger returns the passenger index of vertex v.
func (g *Graph) Passenger(v int) (int, bool) {
	p, ok := g.passengers[v]
	return p, ok
}

// reverse flips e and moves it to the adjacency list of its new tail.
func (g *Graph) reverse(e *Edge) {
	g.out[e.Tail] = slices.DeleteFunc(g.out[e.Tail], func(x *Edge) bool { return x == e })
	e.Tail, e.Head = e.Head, e.Tail
	e.Reversed = !e.Reversed
	g.out[e.Tail] = append(g.out[e.Tail], e)
}
