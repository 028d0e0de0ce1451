// Package dishlist manages dishlists: the tabbed list views, the detail view
// and the optimistic pin, follow and edit actions on them.
package dishlist

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/contextx"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/internal/logfield"
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
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service.
func New(api transport.Requester, c *cache.Cache, p *mutation.Pipeline, opts ...Option) *Service {
	s := &Service{
		api:      api,
		cache:    c,
		pipeline: p,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListKey is the cache key of a tab.
func ListKey(tab string) cachekey.Key {
	return cachekey.Tagged(cachekey.DishList, tab)
}

// DetailKey is the cache key of a dishlist detail view.
func DetailKey(id string) cachekey.Key {
	return cachekey.Entity(cachekey.DishList, id)
}

func tabKeys() []cachekey.Key {
	keys := make([]cachekey.Key, len(invalidation.Tabs))
	for i, tab := range invalidation.Tabs {
		keys[i] = ListKey(tab)
	}
	return keys
}

// fetch loads a tab or a detail from the API.
func (s *Service) fetch(ctx context.Context, k cachekey.Key) ([]byte, error) {
	if k.ID != "" {
		return s.api.Request(ctx, http.MethodGet, "/dishlists/"+url.PathEscape(k.ID), nil)
	}
	return s.api.Request(ctx, http.MethodGet, "/dishlists?"+url.Values{"tab": {k.Tag}}.Encode(), nil)
}

func validTab(tab string) error {
	if !slices.Contains(invalidation.Tabs, tab) {
		return fmt.Errorf("dishlist: unknown tab %q: %w", tab, errs.ErrInvalidInput)
	}
	return nil
}

// List returns the dishlists of tab, from cache when fresh.
func (s *Service) List(ctx context.Context, tab string) ([]model.DishList, error) {
	if err := validTab(tab); err != nil {
		return nil, err
	}
	return cache.GetAs[[]model.DishList](ctx, s.cache, ListKey(tab), s.fetch)
}

// Get returns a dishlist with its recipes, from cache when fresh.
func (s *Service) Get(ctx context.Context, id string) (model.DishList, error) {
	return cache.GetAs[model.DishList](ctx, s.cache, DetailKey(id), s.fetch)
}

// Preload fetches every tab concurrently.
func (s *Service) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, tab := range invalidation.Tabs {
		g.Go(func() error {
			_, err := s.cache.Get(ctx, ListKey(tab), s.fetch)
			return err
		})
	}
	return g.Wait()
}

// WatchList subscribes to tab. notify receives the decoded list after every
// change; invalidations trigger a background refetch while subscribed.
func (s *Service) WatchList(tab string, notify func([]model.DishList)) (unsubscribe func()) {
	return s.cache.Subscribe(ListKey(tab), s.fetch, func(e cache.Entry) {
		if e.Data == nil {
			return
		}
		v, err := cache.Decode[[]model.DishList](e.Data)
		if err != nil {
			s.logger.Warn("undecodable dishlist tab", logfield.Key, ListKey(tab).String(), logfield.Error, err)
			return
		}
		notify(v)
	})
}

// WatchDetail subscribes to a dishlist detail view.
func (s *Service) WatchDetail(id string, notify func(model.DishList)) (unsubscribe func()) {
	return s.cache.Subscribe(DetailKey(id), s.fetch, func(e cache.Entry) {
		if e.Data == nil {
			return
		}
		v, err := cache.Decode[model.DishList](e.Data)
		if err != nil {
			s.logger.Warn("undecodable dishlist", logfield.Key, DetailKey(id).String(), logfield.Error, err)
			return
		}
		notify(v)
	})
}

// lookup finds the cached state of dishlist id, preferring the detail view.
func (s *Service) lookup(id string) (model.DishList, error) {
	if d, ok, err := cache.ReadAs[model.DishList](s.cache, DetailKey(id)); err == nil && ok {
		return d, nil
	}
	for _, k := range tabKeys() {
		list, ok, err := cache.ReadAs[[]model.DishList](s.cache, k)
		if err != nil || !ok {
			continue
		}
		if d, found := model.Find(list, id); found {
			return d, nil
		}
	}
	return model.DishList{}, fmt.Errorf("dishlist %s: %w", id, errs.ErrNotFound)
}

// Input is the editable part of a dishlist.
type Input struct {
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Visibility  model.Visibility `json:"visibility,omitempty"`
}

func (in Input) normalize() (Input, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return in, fmt.Errorf("dishlist: empty title: %w", errs.ErrInvalidInput)
	}
	if in.Visibility == "" {
		in.Visibility = model.Private
	}
	return in, nil
}

func decodeID(b []byte) string {
	d, err := cache.Decode[model.DishList](b)
	if err != nil {
		return ""
	}
	return d.ID
}

// Create adds a dishlist. It shows up at the top of the all and my tabs
// under a temp id until the server assigns the real one.
func (s *Service) Create(ctx context.Context, in Input) (model.DishList, error) {
	in, err := in.normalize()
	if err != nil {
		return model.DishList{}, err
	}
	now := s.now()
	tempID := model.NewTempID(now)
	var owner string
	if a, ok := contextx.ActorFromContext(ctx); ok {
		owner = a.Subject
	}
	draft := model.DishList{
		ID:          tempID,
		Title:       in.Title,
		Description: in.Description,
		Visibility:  in.Visibility,
		OwnerID:     owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:       "dishlist.create",
		Resource:   cachekey.DishList,
		ID:         tempID,
		SettledID:  decodeID,
		Keys:       []cachekey.Key{ListKey(invalidation.TabAll), ListKey(invalidation.TabMy)},
		Optimistic: mutation.PrependToList(draft),
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, http.MethodPost, "/dishlists", in)
		},
		Reconcile: mutation.UpsertInList[model.DishList](tempID),
	})
	if err != nil {
		return model.DishList{}, err
	}
	return cache.Decode[model.DishList](res)
}

// edit runs a mutation that changes dishlist id in place everywhere it is
// cached: its detail view and every tab.
func (s *Service) edit(ctx context.Context, name, id string, apply func(model.DishList) model.DishList, remote func(context.Context) ([]byte, error)) (model.DishList, error) {
	res, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     name,
		Resource: cachekey.DishList,
		ID:       id,
		Keys:     append([]cachekey.Key{DetailKey(id)}, tabKeys()...),
		Optimistic: mutation.EntityOrList(
			mutation.UpdateEntity(apply),
			mutation.UpdateInList(id, apply),
		),
		Remote: remote,
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

// Update replaces the editable fields of dishlist id.
func (s *Service) Update(ctx context.Context, id string, in Input) (model.DishList, error) {
	in, err := in.normalize()
	if err != nil {
		return model.DishList{}, err
	}
	now := s.now()
	return s.edit(ctx, "dishlist.update", id, func(d model.DishList) model.DishList {
		d.Title = in.Title
		d.Description = in.Description
		d.Visibility = in.Visibility
		d.UpdatedAt = now
		return d
	}, func(ctx context.Context) ([]byte, error) {
		return s.api.Request(ctx, http.MethodPatch, "/dishlists/"+url.PathEscape(id), in)
	})
}

// Delete removes dishlist id from every cached view.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     "dishlist.delete",
		Resource: cachekey.DishList,
		ID:       id,
		Keys:     append([]cachekey.Key{DetailKey(id)}, tabKeys()...),
		Optimistic: mutation.EntityOrList(
			mutation.ClearData(),
			mutation.RemoveFromList[model.DishList](id),
		),
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, http.MethodDelete, "/dishlists/"+url.PathEscape(id), nil)
		},
		Reconcile: mutation.ReconcileEntityOrList(mutation.ClearOnSettle(), mutation.KeepCurrent()),
	})
	return err
}

// TogglePin flips the pinned flag of dishlist id.
func (s *Service) TogglePin(ctx context.Context, id string) (model.DishList, error) {
	cur, err := s.lookup(id)
	if err != nil {
		return model.DishList{}, err
	}
	pinned := !cur.IsPinned
	method := http.MethodPost
	if !pinned {
		method = http.MethodDelete
	}
	return s.edit(ctx, "dishlist.pin", id, func(d model.DishList) model.DishList {
		d.IsPinned = pinned
		return d
	}, func(ctx context.Context) ([]byte, error) {
		return s.api.Request(ctx, method, "/dishlists/"+url.PathEscape(id)+"/pin", nil)
	})
}

// ToggleFollow follows or unfollows dishlist id. The following tab gains or
// loses the dishlist immediately.
func (s *Service) ToggleFollow(ctx context.Context, id string) (model.DishList, error) {
	cur, err := s.lookup(id)
	if err != nil {
		return model.DishList{}, err
	}
	following := !cur.IsFollowing
	method := http.MethodPost
	if !following {
		method = http.MethodDelete
	}
	apply := func(d model.DishList) model.DishList {
		d.IsFollowing = following
		if following {
			d.FollowerCount++
		} else {
			d.FollowerCount = max(d.FollowerCount-1, 0)
		}
		return d
	}

	followingTab := ListKey(invalidation.TabFollowing)
	var followingTransform mutation.Transform
	var followingReconcile mutation.Reconcile
	if following {
		followingTransform = mutation.PrependToList(apply(cur))
		followingReconcile = mutation.UpsertInList[model.DishList](id)
	} else {
		followingTransform = mutation.RemoveFromList[model.DishList](id)
		followingReconcile = mutation.KeepCurrent()
	}

	res, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     "dishlist.follow",
		Resource: cachekey.DishList,
		ID:       id,
		Keys:     append([]cachekey.Key{DetailKey(id)}, tabKeys()...),
		Optimistic: mutation.Keyed(map[cachekey.Key]mutation.Transform{
			DetailKey(id):                           mutation.UpdateEntity(apply),
			ListKey(invalidation.TabAll):            mutation.UpdateInList(id, apply),
			ListKey(invalidation.TabMy):             mutation.UpdateInList(id, apply),
			ListKey(invalidation.TabCollaborations): mutation.UpdateInList(id, apply),
			followingTab:                            followingTransform,
		}),
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, method, "/dishlists/"+url.PathEscape(id)+"/follow", nil)
		},
		Reconcile: mutation.ReconcileKeyed(map[cachekey.Key]mutation.Reconcile{
			followingTab: followingReconcile,
		}, mutation.ReconcileEntityOrList(mutation.Verbatim(), mutation.UpdateListed[model.DishList]())),
	})
	if err != nil {
		return model.DishList{}, err
	}
	return cache.Decode[model.DishList](res)
}
