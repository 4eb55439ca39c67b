package feasibility

import (
	"iter"
	"slices"
)

// Permutations yields every ordering of items using Heap's algorithm,
// starting with items itself. The yielded slice is reused between steps and
// must be cloned if kept. Each range over the result restarts from the
// original order.
func Permutations[T any](items []T) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		a := slices.Clone(items)
		if !yield(a) {
			return
		}
		c := make([]int, len(a))
		for i := 1; i < len(a); {
			if c[i] < i {
				if i%2 == 0 {
					a[0], a[i] = a[i], a[0]
				} else {
					a[c[i]], a[i] = a[i], a[c[i]]
				}
				if !yield(a) {
					return
				}
				c[i]++
				i = 1
				continue
			}
			c[i] = 0
			i++
		}
	}
}
