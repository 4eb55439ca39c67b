package flow

import "math"

// Infinity marks unreachable vertices.
const Infinity = math.MaxInt64

// bellmanFordPasses is enough for the network: every source-to-vertex path
// has at most three edges and there are no cycles before augmenting.
const bellmanFordPasses = 3

// BellmanFord3 returns shortest distances from the source using the raw
// edge costs, relaxing every edge exactly three times. Negative cycles
// are not checked.
func BellmanFord3(g *Graph) []int64 {
	dist := make([]int64, g.Vertices())
	for v := range dist {
		dist[v] = Infinity
	}
	dist[Source] = 0

	for range bellmanFordPasses {
		for _, e := range g.edges {
			if dist[e.Tail] == Infinity {
				continue
			}
			if alt := dist[e.Tail] + e.Cost; alt < dist[e.Head] {
				dist[e.Head] = alt
			}
		}
	}
	return dist
}

// Reweight replaces edge costs by their reduced costs under the
// Bellman-Ford distances, making every cost non-negative.
func Reweight(g *Graph) {
	dist := BellmanFord3(g)
	for _, e := range g.edges {
		if dist[e.Tail] == Infinity || dist[e.Head] == Infinity {
			continue
		}
		e.Cost += dist[e.Tail] - dist[e.Head]
		e.Reduced = e.Cost
	}
}
