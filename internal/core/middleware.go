// Package core holds small building blocks shared by the public packages.
package core

import (
	"cmp"
	"slices"
)

// entry is a single middleware with a deterministic execution order. Lower
// Order values run first (outermost).
type entry[M any] struct {
	M     M
	Order int
}

// Builder collects middleware entries and produces them sorted by order.
// Entries with equal order keep their registration order.
type Builder[M any] struct {
	entries []entry[M]
}

// Add registers m with the given order.
func (b *Builder[M]) Add(order int, m M) {
	b.entries = append(b.entries, entry[M]{M: m, Order: order})
}

// Len returns the number of registered entries.
func (b *Builder[M]) Len() int {
	return len(b.entries)
}

// Build returns the registered middleware sorted by order (stable).
func (b *Builder[M]) Build() []M {
	sorted := slices.Clone(b.entries)
	slices.SortStableFunc(sorted, func(a, c entry[M]) int {
		return cmp.Compare(a.Order, c.Order)
	})
	out := make([]M, len(sorted))
	for i, e := range sorted {
		out[i] = e.M
	}
	return out
}
