package model

import (
	"encoding/json"
	"slices"
	"time"
)

// IndexSet is a set of ingredient or step indices. It is stored as a sorted
// JSON array and rehydrated as a set.
type IndexSet map[int]struct{}

// NewIndexSet returns a set containing idx.
func NewIndexSet(idx ...int) IndexSet {
	s := make(IndexSet, len(idx))
	for _, i := range idx {
		s[i] = struct{}{}
	}
	return s
}

// Has reports whether i is in the set.
func (s IndexSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Toggle returns a copy of s with i flipped.
func (s IndexSet) Toggle(i int) IndexSet {
	out := make(IndexSet, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	if out.Has(i) {
		delete(out, i)
	} else {
		out[i] = struct{}{}
	}
	return out
}

// Sorted returns the members in ascending order.
func (s IndexSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (s IndexSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IndexSet) UnmarshalJSON(b []byte) error {
	var idx []int
	if err := json.Unmarshal(b, &idx); err != nil {
		return err
	}
	*s = NewIndexSet(idx...)
	return nil
}

// RecipeProgress tracks which ingredients are gathered and which steps are
// done while cooking a recipe.
type RecipeProgress struct {
	RecipeID             string    `json:"recipeId"`
	CompletedIngredients IndexSet  `json:"completedIngredients"`
	CompletedSteps       IndexSet  `json:"completedSteps"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Normalize replaces nil sets with empty ones so callers never need nil
// checks.
func (p RecipeProgress) Normalize() RecipeProgress {
	if p.CompletedIngredients == nil {
		p.CompletedIngredients = IndexSet{}
	}
	if p.CompletedSteps == nil {
		p.CompletedSteps = IndexSet{}
	}
	return p
}
