package notification

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/internal/apitest"
	"github.com/Keksclan/dishsync/invalidation"
	"github.com/Keksclan/dishsync/model"
	"github.com/Keksclan/dishsync/mutation"
)

var inbox = []model.Notification{
	{ID: "n1", Message: "Ana followed Soups"},
	{ID: "n2", Message: "Ben liked Ramen", IsRead: true},
	{ID: "n3", Message: "Cy joined Brunch"},
}

func newTestService(t *testing.T) (*Service, *apitest.API, *cache.Cache) {
	t.Helper()
	api := apitest.New()
	api.Respond("GET /notifications", inbox)
	api.Respond("GET /notifications/unread-count", model.UnreadCount{Count: 2})

	c := cache.New()
	p := mutation.New(c, invalidation.Default(), mutation.WithRefetchDelay(time.Millisecond))
	t.Cleanup(p.Close)
	s := New(api, c, p)

	_, err := s.List(t.Context())
	require.NoError(t, err)
	_, err = s.UnreadCount(t.Context())
	require.NoError(t, err)
	return s, api, c
}

func unread(t *testing.T, c *cache.Cache) int {
	t.Helper()
	v, ok, err := cache.ReadAs[model.UnreadCount](c, UnreadKey)
	require.NoError(t, err)
	require.True(t, ok)
	return v.Count
}

func inboxOf(t *testing.T, c *cache.Cache) []model.Notification {
	t.Helper()
	v, ok, err := cache.ReadAs[[]model.Notification](c, ListKey)
	require.NoError(t, err)
	require.True(t, ok)
	return v
}

func TestMarkRead_DecrementsBadgeOnce(t *testing.T) {
	s, api, c := newTestService(t)
	api.Handle("POST /notifications/n1/read", func(any) ([]byte, error) {
		assert.True(t, inboxOf(t, c)[0].IsRead)
		assert.Equal(t, 1, unread(t, c))
		return nil, nil
	})
	api.Respond("POST /notifications/n2/read", model.Notification{ID: "n2", Message: "Ben liked Ramen", IsRead: true})

	require.NoError(t, s.MarkRead(t.Context(), "n1"))
	assert.Equal(t, 1, unread(t, c))

	// Already read: the badge does not move.
	require.NoError(t, s.MarkRead(t.Context(), "n2"))
	assert.Equal(t, 1, unread(t, c))
}

func TestMarkRead_RollsBack(t *testing.T) {
	s, api, c := newTestService(t)
	api.Fail("POST /notifications/n3/read", http.StatusBadGateway)

	err := s.MarkRead(t.Context(), "n3")
	require.True(t, errs.IsStatus(err, http.StatusBadGateway))
	assert.Equal(t, inbox, inboxOf(t, c))
	assert.Equal(t, 2, unread(t, c))
}

func TestMarkAllRead(t *testing.T) {
	s, api, c := newTestService(t)
	api.Handle("POST /notifications/read-all", func(any) ([]byte, error) { return nil, nil })

	require.NoError(t, s.MarkAllRead(t.Context()))
	for _, n := range inboxOf(t, c) {
		assert.True(t, n.IsRead, n.ID)
	}
	assert.Zero(t, unread(t, c))
}

func TestDelete_UnreadAdjustsBadge(t *testing.T) {
	s, api, c := newTestService(t)
	api.Handle("DELETE /notifications/n3", func(any) ([]byte, error) { return nil, nil })

	require.NoError(t, s.Delete(t.Context(), "n3"))
	got := inboxOf(t, c)
	require.Len(t, got, 2)
	assert.Equal(t, "n1", got[0].ID)
	assert.Equal(t, 1, unread(t, c))
}

func TestWatch_RefetchesAfterSettle(t *testing.T) {
	s, api, _ := newTestService(t)
	var badge atomic.Int32
	unsub := s.Watch(func(k cachekey.Key, e cache.Entry) {
		if k != UnreadKey || e.Data == nil {
			return
		}
		var v model.UnreadCount
		if json.Unmarshal(e.Data, &v) == nil {
			badge.Store(int32(v.Count))
		}
	})
	defer unsub()

	api.Handle("POST /notifications/read-all", func(any) ([]byte, error) { return nil, nil })
	api.Respond("GET /notifications/unread-count", model.UnreadCount{Count: 5})

	require.NoError(t, s.MarkAllRead(t.Context()))
	require.Eventually(t, func() bool { return badge.Load() == 5 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, api.Count("GET /notifications/unread-count"), 2)
}
