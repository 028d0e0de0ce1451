// Package recipe manages recipes: detail views, search results and the
// recipes embedded in dishlist details.
package recipe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/dishlist"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/invalidation"
	"github.com/Keksclan/dishsync/model"
	"github.com/Keksclan/dishsync/mutation"
	"github.com/Keksclan/dishsync/transport"
)

// Service is safe for concurrent use.
type Service struct {
	api      transport.Requester
	cache    *cache.Cache
	pipeline *mutation.Pipeline
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(api transport.Requester, c *cache.Cache, p *mutation.Pipeline, opts ...Option) *Service {
	s := &Service{api: api, cache: c, pipeline: p, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DetailKey is the cache key of a recipe.
func DetailKey(id string) cachekey.Key {
	return cachekey.Entity(cachekey.Recipe, id)
}

// SearchKey is the cache key of the results for query.
func SearchKey(query string) cachekey.Key {
	return cachekey.Tagged(cachekey.Search, normalizeQuery(query))
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func recipePath(id string) string {
	return "/recipes/" + url.PathEscape(id)
}

func dishListRecipesPath(dishListID string) string {
	return "/dishlists/" + url.PathEscape(dishListID) + "/recipes"
}

func (s *Service) fetch(ctx context.Context, k cachekey.Key) ([]byte, error) {
	if k.Resource == cachekey.Search {
		return s.api.Request(ctx, http.MethodGet, "/recipes/search?"+url.Values{"q": {k.Tag}}.Encode(), nil)
	}
	return s.api.Request(ctx, http.MethodGet, recipePath(k.ID), nil)
}

// Get returns recipe id, from cache when fresh.
func (s *Service) Get(ctx context.Context, id string) (model.Recipe, error) {
	return cache.GetAs[model.Recipe](ctx, s.cache, DetailKey(id), s.fetch)
}

// Search returns the recipes matching query. Queries differing only in case
// or whitespace share one cache entry.
func (s *Service) Search(ctx context.Context, query string) ([]model.Recipe, error) {
	if normalizeQuery(query) == "" {
		return nil, fmt.Errorf("recipe: empty query: %w", errs.ErrInvalidInput)
	}
	return cache.GetAs[[]model.Recipe](ctx, s.cache, SearchKey(query), s.fetch)
}

// Input is the editable part of a recipe.
type Input struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Ingredients     []string `json:"ingredients"`
	Steps           []string `json:"steps"`
	Servings        int      `json:"servings,omitempty"`
	CookTimeMinutes int      `json:"cookTimeMinutes,omitempty"`
}

func (in Input) normalize() (Input, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return in, fmt.Errorf("recipe: empty title: %w", errs.ErrInvalidInput)
	}
	if in.Servings < 0 || in.CookTimeMinutes < 0 {
		return in, fmt.Errorf("recipe: negative servings or cook time: %w", errs.ErrInvalidInput)
	}
	return in, nil
}

func (in Input) apply(r model.Recipe, now time.Time) model.Recipe {
	r.Title = in.Title
	r.Description = in.Description
	r.Ingredients = in.Ingredients
	r.Steps = in.Steps
	r.Servings = in.Servings
	r.CookTimeMinutes = in.CookTimeMinutes
	r.UpdatedAt = now
	return r
}

// cachedDetails returns the keys of every cached dishlist detail.
func (s *Service) cachedDetails() []cachekey.Key {
	var out []cachekey.Key
	for _, k := range s.cache.Keys(cachekey.Of(cachekey.DishList)) {
		if k.ID != "" {
			out = append(out, k)
		}
	}
	return out
}

// inDishList applies fn to the recipes embedded in a cached dishlist detail.
func inDishList(fn func(model.DishList) model.DishList) mutation.Transform {
	return mutation.UpdateEntity(fn)
}

// adjustCount returns fn that changes the recipe count of dishlist id in a
// tab by delta.
func adjustCount(id string, delta int) mutation.Transform {
	return mutation.UpdateInList(id, func(d model.DishList) model.DishList {
		d.RecipeCount = max(d.RecipeCount+delta, 0)
		return d
	})
}

func tabKeys() []cachekey.Key {
	keys := make([]cachekey.Key, len(invalidation.Tabs))
	for i, tab := range invalidation.Tabs {
		keys[i] = dishlist.ListKey(tab)
	}
	return keys
}

// Create adds a recipe to dishlist dishListID. The recipe appears in the
// dishlist detail under a temp id until the server assigns the real one.
func (s *Service) Create(ctx context.Context, dishListID string, in Input) (model.Recipe, error) {
	in, err := in.normalize()
	if err != nil {
		return model.Recipe{}, err
	}
	now := s.now()
	tempID := model.NewTempID(now)
	draft := in.apply(model.Recipe{ID: tempID, CreatedAt: now}, now)
	detail := dishlist.DetailKey(dishListID)

	byKey := map[cachekey.Key]mutation.Transform{
		detail: inDishList(func(d model.DishList) model.DishList {
			d.Recipes = model.Prepend(d.Recipes, draft)
			d.RecipeCount++
			return d
		}),
		DetailKey(tempID): mutation.ReplaceWith(draft),
	}
	keys := []cachekey.Key{detail, DetailKey(tempID)}
	for _, k := range tabKeys() {
		byKey[k] = adjustCount(dishListID, 1)
		keys = append(keys, k)
	}

	res, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     "recipe.create",
		Resource: cachekey.Recipe,
		ID:       tempID,
		SettledID: func(b []byte) string {
			r, _ := cache.Decode[model.Recipe](b)
			return r.ID
		},
		Keys:       keys,
		Optimistic: mutation.Keyed(byKey),
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, http.MethodPost, dishListRecipesPath(dishListID), in)
		},
		Reconcile: mutation.ReconcileKeyed(map[cachekey.Key]mutation.Reconcile{
			detail:            replaceEmbedded(tempID),
			DetailKey(tempID): mutation.ClearOnSettle(),
		}, mutation.KeepCurrent()),
	})
	if err != nil {
		return model.Recipe{}, err
	}
	created, err := cache.Decode[model.Recipe](res)
	if err != nil {
		return model.Recipe{}, err
	}
	s.cache.Write(DetailKey(created.ID), res)
	return created, nil
}

// replaceEmbedded puts the authoritative recipe into a cached dishlist
// detail where oldID sits.
func replaceEmbedded(oldID string) mutation.Reconcile {
	return func(_ cachekey.Key, cur, auth []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		d, err := cache.Decode[model.DishList](cur)
		if err != nil {
			return nil, err
		}
		r, err := cache.Decode[model.Recipe](auth)
		if err != nil {
			return nil, err
		}
		if model.IndexOf(d.Recipes, oldID) < 0 && model.IndexOf(d.Recipes, r.ID) < 0 {
			return cur, nil
		}
		d.Recipes = model.ReplaceByID(d.Recipes, oldID, r)
		return cache.Encode(d)
	}
}

// Update replaces the editable fields of recipe id, including copies
// embedded in cached dishlist details and search results.
func (s *Service) Update(ctx context.Context, id string, in Input) (model.Recipe, error) {
	in, err := in.normalize()
	if err != nil {
		return model.Recipe{}, err
	}
	now := s.now()
	apply := func(r model.Recipe) model.Recipe { return in.apply(r, now) }

	keys := []cachekey.Key{DetailKey(id)}
	keys = append(keys, s.cachedDetails()...)
	keys = append(keys, s.cache.Keys(cachekey.Of(cachekey.Search))...)

	res, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     "recipe.update",
		Resource: cachekey.Recipe,
		ID:       id,
		Keys:     keys,
		Optimistic: func(k cachekey.Key, cur []byte) ([]byte, error) {
			switch k.Resource {
			case cachekey.Recipe:
				return mutation.UpdateEntity(apply)(k, cur)
			case cachekey.Search:
				return mutation.UpdateInList(id, apply)(k, cur)
			default:
				return inDishList(func(d model.DishList) model.DishList {
					d.Recipes, _ = model.UpdateByID(d.Recipes, id, apply)
					return d
				})(k, cur)
			}
		},
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, http.MethodPatch, recipePath(id), in)
		},
		Reconcile: func(k cachekey.Key, cur, auth []byte) ([]byte, error) {
			switch k.Resource {
			case cachekey.Recipe:
				return auth, nil
			case cachekey.Search:
				return mutation.UpdateListed[model.Recipe]()(k, cur, auth)
			default:
				return replaceEmbedded(id)(k, cur, auth)
			}
		},
	})
	if err != nil {
		return model.Recipe{}, err
	}
	return cache.Decode[model.Recipe](res)
}

// Delete removes recipe id from its detail view, every cached dishlist
// detail and every cached search result.
func (s *Service) Delete(ctx context.Context, id string) error {
	keys := []cachekey.Key{DetailKey(id)}
	keys = append(keys, s.cachedDetails()...)
	keys = append(keys, s.cache.Keys(cachekey.Of(cachekey.Search))...)

	_, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     "recipe.delete",
		Resource: cachekey.Recipe,
		ID:       id,
		Keys:     keys,
		Optimistic: func(k cachekey.Key, cur []byte) ([]byte, error) {
			switch k.Resource {
			case cachekey.Recipe:
				return nil, nil
			case cachekey.Search:
				return mutation.RemoveFromList[model.Recipe](id)(k, cur)
			default:
				return inDishList(func(d model.DishList) model.DishList {
					if model.IndexOf(d.Recipes, id) >= 0 {
						d.Recipes = model.RemoveByID(d.Recipes, id)
						d.RecipeCount = max(d.RecipeCount-1, 0)
					}
					return d
				})(k, cur)
			}
		},
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, http.MethodDelete, recipePath(id), nil)
		},
		Reconcile: mutation.ReconcileKeyed(map[cachekey.Key]mutation.Reconcile{
			DetailKey(id): mutation.ClearOnSettle(),
		}, mutation.KeepCurrent()),
	})
	return err
}

// AddToDishList adds an existing recipe to dishlist dishListID.
func (s *Service) AddToDishList(ctx context.Context, dishListID string, r model.Recipe) (model.DishList, error) {
	return s.membership(ctx, "recipe.add_to_dishlist", http.MethodPost, dishListID, r.ID,
		func(d model.DishList) model.DishList {
			if model.IndexOf(d.Recipes, r.ID) >= 0 {
				return d
			}
			d.Recipes = model.Prepend(d.Recipes, r)
			d.RecipeCount++
			return d
		}, 1)
}

// RemoveFromDishList removes recipe recipeID from dishlist dishListID.
func (s *Service) RemoveFromDishList(ctx context.Context, dishListID, recipeID string) (model.DishList, error) {
	return s.membership(ctx, "recipe.remove_from_dishlist", http.MethodDelete, dishListID, recipeID,
		func(d model.DishList) model.DishList {
			if model.IndexOf(d.Recipes, recipeID) < 0 {
				return d
			}
			d.Recipes = model.RemoveByID(d.Recipes, recipeID)
			d.RecipeCount = max(d.RecipeCount-1, 0)
			return d
		}, -1)
}

// membership changes which recipes dishlist dishListID holds. It is a
// dishlist mutation: the server answers with the updated dishlist.
func (s *Service) membership(ctx context.Context, name, method, dishListID, recipeID string, apply func(model.DishList) model.DishList, delta int) (model.DishList, error) {
	detail := dishlist.DetailKey(dishListID)
	res, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     name,
		Resource: cachekey.DishList,
		ID:       dishListID,
		Keys:     append([]cachekey.Key{detail}, tabKeys()...),
		Optimistic: mutation.EntityOrList(
			inDishList(apply),
			adjustCount(dishListID, delta),
		),
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, method, dishListRecipesPath(dishListID)+"/"+url.PathEscape(recipeID), nil)
		},
		Reconcile: mutation.ReconcileEntityOrList(
			mutation.Verbatim(),
			mutation.UpdateListed[model.DishList](),
		),
	})
	if err != nil {
		return model.DishList{}, err
	}
	return cache.Decode[model.DishList](res)
}
