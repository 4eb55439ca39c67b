package flow

import "container/heap"

// ShortestPath is the result of one Dijkstra run over reduced costs.
type ShortestPath struct {
	// Dist distance from the source; Infinity when not reached
	Dist []int64
	// Path edges from source to sink, nil when the sink is unreachable
	Path []*Edge
	// Permanent vertices settled before the search stopped
	Permanent []bool
}

type queueItem struct {
	vertex   int
	distance int64
}

// vertexQueue min-heap по расстоянию, при равенстве по номеру вершины
type vertexQueue []queueItem

func (q vertexQueue) Len() int { return len(q) }

func (q vertexQueue) Less(i, j int) bool {
	if q[i].distance != q[j].distance {
		return q[i].distance < q[j].distance
	}
	return q[i].vertex < q[j].vertex
}

func (q vertexQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *vertexQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *vertexQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Dijkstra finds the shortest source-to-sink path over Edge.Reduced and
// stops as soon as the sink is settled. Vertices are pushed again on every
// improvement; entries of settled vertices are skipped when popped.
func Dijkstra(g *Graph) *ShortestPath {
	n := g.Vertices()
	dist := make([]int64, n)
	pred := make([]*Edge, n)
	permanent := make([]bool, n)
	for v := range dist {
		dist[v] = Infinity
	}
	dist[Source] = 0

	q := vertexQueue{{vertex: Source}}
	for q.Len() > 0 {
		cur := heap.Pop(&q).(queueItem)
		u := cur.vertex
		if permanent[u] {
			continue
		}
		permanent[u] = true
		if u == Sink {
			break
		}

		for _, e := range g.out[u] {
			// settled vertices keep their predecessor even if a negative
			// reduced cost slipped through
			if permanent[e.Head] {
				continue
			}
			if alt := dist[u] + e.Reduced; alt < dist[e.Head] {
				dist[e.Head] = alt
				pred[e.Head] = e
				heap.Push(&q, queueItem{vertex: e.Head, distance: alt})
			}
		}
	}

	sp := &ShortestPath{Dist: dist, Permanent: permanent}
	if pred[Sink] == nil {
		return sp
	}
	for e := pred[Sink]; e != nil; e = pred[e.Tail] {
		sp.Path = append(sp.Path, e)
	}
	for i, j := 0, len(sp.Path)-1; i < j; i, j = i+1, j-1 {
		sp.Path[i], sp.Path[j] = sp.Path[j], sp.Path[i]
	}
	return sp
}
