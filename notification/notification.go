// Package notification manages the notification inbox and its unread badge.
package notification

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/model"
	"github.com/Keksclan/dishsync/mutation"
	"github.com/Keksclan/dishsync/transport"
)

var (
	// ListKey caches the inbox.
	ListKey = cachekey.Tagged(cachekey.Notification, "all")
	// UnreadKey caches the unread badge counter.
	UnreadKey = cachekey.Tagged(cachekey.Notification, "unread")
)

// Service is safe for concurrent use.
type Service struct {
	api      transport.Requester
	cache    *cache.Cache
	pipeline *mutation.Pipeline
}

// New creates a Service.
func New(api transport.Requester, c *cache.Cache, p *mutation.Pipeline) *Service {
	return &Service{api: api, cache: c, pipeline: p}
}

func (s *Service) fetch(ctx context.Context, k cachekey.Key) ([]byte, error) {
	if k == UnreadKey {
		return s.api.Request(ctx, http.MethodGet, "/notifications/unread-count", nil)
	}
	return s.api.Request(ctx, http.MethodGet, "/notifications", nil)
}

// List returns the inbox, newest first.
func (s *Service) List(ctx context.Context) ([]model.Notification, error) {
	return cache.GetAs[[]model.Notification](ctx, s.cache, ListKey, s.fetch)
}

// UnreadCount returns the badge counter.
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	c, err := cache.GetAs[model.UnreadCount](ctx, s.cache, UnreadKey, s.fetch)
	return c.Count, err
}

// Watch subscribes to the inbox and the badge. fn is called with the keys'
// current entries after every change.
func (s *Service) Watch(fn func(cachekey.Key, cache.Entry)) (unsubscribe func()) {
	unsubList := s.cache.Subscribe(ListKey, s.fetch, func(e cache.Entry) { fn(ListKey, e) })
	unsubUnread := s.cache.Subscribe(UnreadKey, s.fetch, func(e cache.Entry) { fn(UnreadKey, e) })
	return func() {
		unsubList()
		unsubUnread()
	}
}

// unread reports whether notification id is cached as unread.
func (s *Service) unread(id string) bool {
	list, ok, err := cache.ReadAs[[]model.Notification](s.cache, ListKey)
	if err != nil || !ok {
		return false
	}
	n, found := model.Find(list, id)
	return found && !n.IsRead
}

func adjustUnread(delta int) mutation.Transform {
	return mutation.UpdateEntity(func(c model.UnreadCount) model.UnreadCount {
		c.Count = max(c.Count+delta, 0)
		return c
	})
}

func setUnread(n int) mutation.Transform {
	return mutation.UpdateEntity(func(c model.UnreadCount) model.UnreadCount {
		c.Count = n
		return c
	})
}

func notificationPath(id string) string {
	return "/notifications/" + url.PathEscape(id)
}

// MarkRead marks notification id as read and decrements the badge when it
// was unread.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	delta := 0
	if s.unread(id) {
		delta = -1
	}
	_, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     "notification.mark_read",
		Resource: cachekey.Notification,
		ID:       id,
		Keys:     []cachekey.Key{ListKey, UnreadKey},
		Optimistic: mutation.Keyed(map[cachekey.Key]mutation.Transform{
			ListKey: mutation.UpdateInList(id, func(n model.Notification) model.Notification {
				n.IsRead = true
				return n
			}),
			UnreadKey: adjustUnread(delta),
		}),
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, http.MethodPost, notificationPath(id)+"/read", nil)
		},
		Reconcile: mutation.ReconcileKeyed(map[cachekey.Key]mutation.Reconcile{
			ListKey: listedIfReturned(),
		}, mutation.KeepCurrent()),
	})
	return err
}

// listedIfReturned places a returned notification into the inbox. An empty
// response keeps the optimistic value.
func listedIfReturned() mutation.Reconcile {
	update := mutation.UpdateListed[model.Notification]()
	return func(k cachekey.Key, cur, auth []byte) ([]byte, error) {
		if len(auth) == 0 {
			return cur, nil
		}
		return update(k, cur, auth)
	}
}

// MarkAllRead marks the whole inbox read and zeroes the badge.
func (s *Service) MarkAllRead(ctx context.Context) error {
	_, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     "notification.mark_all_read",
		Resource: cachekey.Notification,
		Keys:     []cachekey.Key{ListKey, UnreadKey},
		Optimistic: mutation.Keyed(map[cachekey.Key]mutation.Transform{
			ListKey: mutation.Typed(func(_ cachekey.Key, list []model.Notification) ([]model.Notification, error) {
				out := make([]model.Notification, len(list))
				for i, n := range list {
					n.IsRead = true
					out[i] = n
				}
				return out, nil
			}),
			UnreadKey: setUnread(0),
		}),
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, http.MethodPost, "/notifications/read-all", nil)
		},
		Reconcile: mutation.KeepCurrent(),
	})
	return err
}

// Delete removes notification id from the inbox.
func (s *Service) Delete(ctx context.Context, id string) error {
	delta := 0
	if s.unread(id) {
		delta = -1
	}
	_, err := s.pipeline.Do(ctx, mutation.Mutation{
		Name:     "notification.delete",
		Resource: cachekey.Notification,
		ID:       id,
		Keys:     []cachekey.Key{ListKey, UnreadKey},
		Optimistic: mutation.Keyed(map[cachekey.Key]mutation.Transform{
			ListKey:   mutation.RemoveFromList[model.Notification](id),
			UnreadKey: adjustUnread(delta),
		}),
		Remote: func(ctx context.Context) ([]byte, error) {
			return s.api.Request(ctx, http.MethodDelete, notificationPath(id), nil)
		},
		Reconcile: mutation.KeepCurrent(),
	})
	return err
}
