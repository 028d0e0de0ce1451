// Package grocery manages the device-local grocery list.
//
// The list lives in the durable store under a single key and every change is
// a serialized read-modify-write of the whole list, so concurrent edits never
// lose each other's effects.
package grocery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/local"
	"github.com/Keksclan/dishsync/metrics"
	"github.com/Keksclan/dishsync/model"
	"github.com/Keksclan/dishsync/store"
)

// StoreKey is the durable key holding the list.
const StoreKey = "grocery:items"

// CacheKey mirrors the list in the resource cache.
var CacheKey = cachekey.Tagged(cachekey.Grocery, "items")

// Service is safe for concurrent use.
type Service struct {
	items *local.Mutator[[]model.GroceryItem]
	cache *cache.Cache
	now   func() time.Time
	local []local.Option
}

// Option configures a Service.
type Option func(*Service)

// WithCache mirrors every change into c under CacheKey.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
		s.local = append(s.local, local.WithCache(c, func(string) cachekey.Key { return CacheKey }))
	}
}

// WithLogger sets the logger for unreadable payloads.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.local = append(s.local, local.WithLogger(l)) }
}

// WithMetrics records every change on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.local = append(s.local, local.WithMetrics(m)) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.items = local.New[[]model.GroceryItem](st, s.local...)
	return s
}

// Items returns the list, newest first.
func (s *Service) Items(ctx context.Context) ([]model.GroceryItem, error) {
	return s.items.Load(ctx, StoreKey)
}

// Watch subscribes fn to list changes. Requires WithCache.
func (s *Service) Watch(fn func([]model.GroceryItem)) (unsubscribe func()) {
	if s.cache == nil {
		return func() {}
	}
	load := func(ctx context.Context, _ cachekey.Key) ([]byte, error) {
		items, err := s.Items(ctx)
		if err != nil {
			return nil, err
		}
		return cache.Encode(items)
	}
	return s.cache.Subscribe(CacheKey, load, func(e cache.Entry) {
		var items []model.GroceryItem
		if e.Data != nil {
			items, _ = cache.Decode[[]model.GroceryItem](e.Data)
		}
		fn(items)
	})
}

func (s *Service) newItems(names []string, recipeID string) []model.GroceryItem {
	now := s.now()
	out := make([]model.GroceryItem, 0, len(names))
	for _, n := range names {
		out = append(out, model.GroceryItem{
			ID:        model.NewLocalID(),
			Name:      n,
			RecipeID:  recipeID,
			CreatedAt: now,
		})
	}
	return out
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Add puts names at the top of the list as unchecked items, keeping the
// batch in the given order. Blank names are ignored.
func (s *Service) Add(ctx context.Context, names ...string) ([]model.GroceryItem, error) {
	names = cleanNames(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("grocery: no item names: %w", errs.ErrInvalidInput)
	}
	batch := s.newItems(names, "")
	_, err := s.items.Mutate(ctx, StoreKey, func(cur []model.GroceryItem) ([]model.GroceryItem, error) {
		return model.Prepend(cur, batch...), nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// AddFromRecipe adds the ingredients of r. Ingredients already on the list
// unchecked, compared case-insensitively, are skipped. It returns the items
// actually added.
func (s *Service) AddFromRecipe(ctx context.Context, r model.Recipe) ([]model.GroceryItem, error) {
	names := cleanNames(r.Ingredients)
	if len(names) == 0 {
		return nil, fmt.Errorf("grocery: recipe %s has no ingredients: %w", r.ID, errs.ErrInvalidInput)
	}
	var added []model.GroceryItem
	_, err := s.items.Mutate(ctx, StoreKey, func(cur []model.GroceryItem) ([]model.GroceryItem, error) {
		seen := make(map[string]bool, len(cur))
		for _, it := range cur {
			if !it.Checked {
				seen[strings.ToLower(it.Name)] = true
			}
		}
		var fresh []string
		for _, n := range names {
			k := strings.ToLower(n)
			if seen[k] {
				continue
			}
			seen[k] = true
			fresh = append(fresh, n)
		}
		added = s.newItems(fresh, r.ID)
		return model.Prepend(cur, added...), nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// ToggleCheck flips the checked state of item id.
func (s *Service) ToggleCheck(ctx context.Context, id string) (model.GroceryItem, error) {
	var item model.GroceryItem
	_, err := s.items.Mutate(ctx, StoreKey, func(cur []model.GroceryItem) ([]model.GroceryItem, error) {
		next, ok := model.UpdateByID(cur, id, func(it model.GroceryItem) model.GroceryItem {
			it.Checked = !it.Checked
			item = it
			return it
		})
		if !ok {
			return nil, fmt.Errorf("grocery: item %s: %w", id, errs.ErrNotFound)
		}
		return next, nil
	})
	return item, err
}

// Delete removes item id. Deleting a missing item is not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.items.Mutate(ctx, StoreKey, func(cur []model.GroceryItem) ([]model.GroceryItem, error) {
		return model.RemoveByID(cur, id), nil
	})
	return err
}

// CheckAll checks every item.
func (s *Service) CheckAll(ctx context.Context) error {
	return s.setAll(ctx, true)
}

// UncheckAll unchecks every item.
func (s *Service) UncheckAll(ctx context.Context) error {
	return s.setAll(ctx, false)
}

func (s *Service) setAll(ctx context.Context, checked bool) error {
	_, err := s.items.Mutate(ctx, StoreKey, func(cur []model.GroceryItem) ([]model.GroceryItem, error) {
		out := make([]model.GroceryItem, len(cur))
		for i, it := range cur {
			it.Checked = checked
			out[i] = it
		}
		return out, nil
	})
	return err
}

// ClearChecked removes every checked item and returns how many went.
func (s *Service) ClearChecked(ctx context.Context) (int, error) {
	removed := 0
	_, err := s.items.Mutate(ctx, StoreKey, func(cur []model.GroceryItem) ([]model.GroceryItem, error) {
		out := make([]model.GroceryItem, 0, len(cur))
		for _, it := range cur {
			if it.Checked {
				continue
			}
			out = append(out, it)
		}
		removed = len(cur) - len(out)
		return out, nil
	})
	return removed, err
}

// Clear empties the list.
func (s *Service) Clear(ctx context.Context) error {
	return s.items.Clear(ctx, StoreKey)
}
