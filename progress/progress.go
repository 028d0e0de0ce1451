// Package progress tracks cooking progress per recipe on the device.
package progress

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

const storePrefix = "recipe-progress:"

// StoreKey is the durable key holding the progress of recipeID.
func StoreKey(recipeID string) string {
	return storePrefix + recipeID
}

// CacheKey mirrors the progress of recipeID in the resource cache.
func CacheKey(recipeID string) cachekey.Key {
	return cachekey.Entity(cachekey.Progress, recipeID)
}

func cacheKeyOf(storeKey string) cachekey.Key {
	id, ok := strings.CutPrefix(storeKey, storePrefix)
	if !ok || id == "" {
		return cachekey.Key{}
	}
	return CacheKey(id)
}

// Service is safe for concurrent use.
type Service struct {
	progress *local.Mutator[model.RecipeProgress]
	cache    *cache.Cache
	now      func() time.Time
	local    []local.Option
}

// Option configures a Service.
type Option func(*Service)

// WithCache mirrors every change into c.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
		s.local = append(s.local, local.WithCache(c, cacheKeyOf))
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
	s.progress = local.New[model.RecipeProgress](st, s.local...)
	return s
}

func checkRecipe(recipeID string) error {
	if strings.TrimSpace(recipeID) == "" {
		return fmt.Errorf("progress: empty recipe id: %w", errs.ErrInvalidInput)
	}
	return nil
}

// Get returns the progress of recipeID. A recipe never started has empty
// sets.
func (s *Service) Get(ctx context.Context, recipeID string) (model.RecipeProgress, error) {
	if err := checkRecipe(recipeID); err != nil {
		return model.RecipeProgress{}, err
	}
	p, err := s.progress.Load(ctx, StoreKey(recipeID))
	if err != nil {
		return model.RecipeProgress{}, err
	}
	p.RecipeID = recipeID
	return p.Normalize(), nil
}

// ToggleIngredient flips whether ingredient idx of recipeID is gathered.
func (s *Service) ToggleIngredient(ctx context.Context, recipeID string, idx int) (model.RecipeProgress, error) {
	return s.toggle(ctx, recipeID, idx, func(p *model.RecipeProgress) {
		p.CompletedIngredients = p.CompletedIngredients.Toggle(idx)
	})
}

// ToggleStep flips whether step idx of recipeID is done.
func (s *Service) ToggleStep(ctx context.Context, recipeID string, idx int) (model.RecipeProgress, error) {
	return s.toggle(ctx, recipeID, idx, func(p *model.RecipeProgress) {
		p.CompletedSteps = p.CompletedSteps.Toggle(idx)
	})
}

func (s *Service) toggle(ctx context.Context, recipeID string, idx int, fn func(*model.RecipeProgress)) (model.RecipeProgress, error) {
	if err := checkRecipe(recipeID); err != nil {
		return model.RecipeProgress{}, err
	}
	if idx < 0 {
		return model.RecipeProgress{}, fmt.Errorf("progress: index %d: %w", idx, errs.ErrInvalidInput)
	}
	return s.progress.Mutate(ctx, StoreKey(recipeID), func(p model.RecipeProgress) (model.RecipeProgress, error) {
		p = p.Normalize()
		p.RecipeID = recipeID
		fn(&p)
		p.UpdatedAt = s.now()
		return p, nil
	})
}

// Reset forgets all progress on recipeID.
func (s *Service) Reset(ctx context.Context, recipeID string) error {
	if err := checkRecipe(recipeID); err != nil {
		return err
	}
	return s.progress.Clear(ctx, StoreKey(recipeID))
}

// Watch subscribes fn to progress changes of recipeID. Requires WithCache.
func (s *Service) Watch(recipeID string, fn func(model.RecipeProgress)) (unsubscribe func()) {
	if s.cache == nil {
		return func() {}
	}
	load := func(ctx context.Context, _ cachekey.Key) ([]byte, error) {
		p, err := s.Get(ctx, recipeID)
		if err != nil {
			return nil, err
		}
		return cache.Encode(p)
	}
	return s.cache.Subscribe(CacheKey(recipeID), load, func(e cache.Entry) {
		var p model.RecipeProgress
		if e.Data != nil {
			p, _ = cache.Decode[model.RecipeProgress](e.Data)
		}
		p.RecipeID = recipeID
		fn(p.Normalize())
	})
}
