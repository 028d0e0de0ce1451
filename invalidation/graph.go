// Package invalidation holds the static table that says which cached views
// go stale when a resource is mutated.
//
// Call sites never invalidate by hand: the mutation pipeline consults the
// graph once per settled mutation, so adding a view only means adding a row
// here.
package invalidation

import (
	"fmt"
	"slices"

	"github.com/Keksclan/dishsync/cachekey"
)

// Dishlist tabs shown in the app.
const (
	TabAll            = "all"
	TabMy             = "my"
	TabCollaborations = "collaborations"
	TabFollowing      = "following"
)

// Tabs lists every dishlist tab in display order.
var Tabs = []string{TabAll, TabMy, TabCollaborations, TabFollowing}

// Table maps a mutated resource to the key prefixes that depend on it. A
// prefix whose ID is cachekey.SelfID is bound to the mutated entity.
type Table map[cachekey.Resource][]cachekey.Key

// Graph answers dependency lookups over a Table.
type Graph struct {
	table Table
}

// New builds a Graph over a copy of t.
func New(t Table) *Graph {
	cp := make(Table, len(t))
	for r, deps := range t {
		cp[r] = slices.Clone(deps)
	}
	return &Graph{table: cp}
}

// Default returns the graph for the app's views.
func Default() *Graph {
	dishlistDeps := []cachekey.Key{cachekey.Entity(cachekey.DishList, cachekey.SelfID)}
	for _, tab := range Tabs {
		dishlistDeps = append(dishlistDeps, cachekey.Tagged(cachekey.DishList, tab))
	}
	dishlistDeps = append(dishlistDeps, cachekey.Of(cachekey.Search))

	return New(Table{
		// Recipes are embedded in dishlist details and counted in every tab.
		cachekey.Recipe: {
			cachekey.Entity(cachekey.Recipe, cachekey.SelfID),
			cachekey.Of(cachekey.DishList),
			cachekey.Of(cachekey.Search),
		},
		cachekey.DishList:     dishlistDeps,
		cachekey.Notification: {cachekey.Of(cachekey.Notification)},
		cachekey.Grocery:      {cachekey.Of(cachekey.Grocery)},
		cachekey.Progress:     {cachekey.Entity(cachekey.Progress, cachekey.SelfID)},
	})
}

// DependentsOf returns the raw dependent prefixes of r, placeholders
// included. The result is a copy.
func (g *Graph) DependentsOf(r cachekey.Resource) []cachekey.Key {
	return slices.Clone(g.table[r])
}

// Resolve returns the dependents of r with cachekey.SelfID bound to id. When
// id is empty a self placeholder widens to the whole resource.
func (g *Graph) Resolve(r cachekey.Resource, id string) []cachekey.Key {
	deps := g.table[r]
	out := make([]cachekey.Key, 0, len(deps))
	for _, k := range deps {
		if k.ID == cachekey.SelfID && id == "" {
			k.ID = ""
		}
		k = k.WithID(id)
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// Resources returns the resources that have a table row.
func (g *Graph) Resources() []cachekey.Resource {
	out := make([]cachekey.Resource, 0, len(g.table))
	for r := range g.table {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Validate checks that every row and every dependent names a resource that
// has its own row.
func (g *Graph) Validate() error {
	for r, deps := range g.table {
		if r == "" {
			return fmt.Errorf("invalidation: empty resource in table")
		}
		for _, k := range deps {
			if k.IsZero() {
				return fmt.Errorf("invalidation: %s: empty dependent", r)
			}
			if _, ok := g.table[k.Resource]; !ok && k.Resource != cachekey.Search {
				return fmt.Errorf("invalidation: %s: dependent %s names unknown resource", r, k)
			}
		}
	}
	return nil
}
