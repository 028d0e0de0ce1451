package mutation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/contextx"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/invalidation"
	"github.com/Keksclan/dishsync/metrics"
	"github.com/Keksclan/dishsync/model"
	"github.com/Keksclan/dishsync/tracing"
)

var (
	myTab     = cachekey.Tagged(cachekey.DishList, invalidation.TabMy)
	allTab    = cachekey.Tagged(cachekey.DishList, invalidation.TabAll)
	detailKey = cachekey.Entity(cachekey.DishList, "d1")
)

func newTestPipeline(t *testing.T, opts ...Option) (*Pipeline, *cache.Cache) {
	t.Helper()
	c := cache.New(cache.WithStaleAfter(0))
	p := New(c, invalidation.Default(), append([]Option{WithRefetchDelay(time.Millisecond)}, opts...)...)
	t.Cleanup(p.Close)
	return p, c
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := cache.Encode(v)
	require.NoError(t, err)
	return b
}

func readList(t *testing.T, c *cache.Cache, k cachekey.Key) []model.DishList {
	t.Helper()
	v, ok, err := cache.ReadAs[[]model.DishList](c, k)
	require.NoError(t, err)
	require.True(t, ok, "expected %s to be cached", k)
	return v
}

func pin(v bool) func(model.DishList) model.DishList {
	return func(d model.DishList) model.DishList {
		d.IsPinned = v
		return d
	}
}

func TestDo_OptimisticThenAuthoritative(t *testing.T) {
	p, c := newTestPipeline(t)
	c.Write(myTab, mustEncode(t, []model.DishList{{ID: "d1", Title: "Soups"}}))
	c.Write(detailKey, mustEncode(t, model.DishList{ID: "d1", Title: "Soups"}))

	server := model.DishList{ID: "d1", Title: "Soups", IsPinned: true, FollowerCount: 7}
	var sawOptimistic bool
	res, err := p.Do(t.Context(), Mutation{
		Name:     "dishlist.pin",
		Resource: cachekey.DishList,
		ID:       "d1",
		Keys:     []cachekey.Key{myTab, detailKey},
		Optimistic: Keyed(map[cachekey.Key]Transform{
			myTab:     UpdateInList[model.DishList]("d1", pin(true)),
			detailKey: UpdateEntity(pin(true)),
		}),
		Remote: func(ctx context.Context) ([]byte, error) {
			sawOptimistic = readList(t, c, myTab)[0].IsPinned
			assert.NotEmpty(t, contextx.MutationIDFromContext(ctx))
			return mustEncode(t, server), nil
		},
		Reconcile: ReconcileKeyed(map[cachekey.Key]Reconcile{
			myTab: UpsertInList[model.DishList]("d1"),
		}, nil),
	})
	require.NoError(t, err)
	assert.True(t, sawOptimistic, "optimistic value must be visible while settling")

	got, err := cache.Decode[model.DishList](res)
	require.NoError(t, err)
	assert.Equal(t, server, got)

	list := readList(t, c, myTab)
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].FollowerCount)

	detail, ok, err := cache.ReadAs[model.DishList](c, detailKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, server, detail)
}

func TestDo_InvalidatesEveryDependent(t *testing.T) {
	p, c := newTestPipeline(t)
	keys := []cachekey.Key{myTab, allTab, detailKey,
		cachekey.Tagged(cachekey.DishList, invalidation.TabFollowing),
		cachekey.Tagged(cachekey.DishList, invalidation.TabCollaborations),
		cachekey.Key{Resource: cachekey.Search, Tag: "soup"},
	}
	for _, k := range keys {
		c.Write(k, []byte(`[]`))
	}
	unrelated := cachekey.Entity(cachekey.Recipe, "r9")
	c.Write(unrelated, []byte(`{}`))

	_, err := p.Do(t.Context(), Mutation{
		Name:     "dishlist.update",
		Resource: cachekey.DishList,
		ID:       "d1",
		Keys:     []cachekey.Key{detailKey},
		Remote: func(context.Context) ([]byte, error) {
			return []byte(`{"id":"d1"}`), nil
		},
	})
	require.NoError(t, err)

	for _, k := range keys {
		e, ok := c.Read(k)
		require.True(t, ok)
		assert.True(t, e.Invalidated, "%s should be invalidated", k)
	}
	e, _ := c.Read(unrelated)
	assert.False(t, e.Invalidated)
}

func TestDo_EveryResourceRefetchesItsDependents(t *testing.T) {
	g := invalidation.Default()
	for _, r := range g.Resources() {
		t.Run(string(r), func(t *testing.T) {
			p, c := newTestPipeline(t)

			var keys []cachekey.Key
			for _, dep := range g.Resolve(r, "x1") {
				if dep.ID == "" && dep.Tag == "" {
					dep = cachekey.Entity(dep.Resource, "seed")
				}
				keys = append(keys, dep)
			}
			require.NotEmpty(t, keys)

			var mu sync.Mutex
			calls := make(map[cachekey.Key]int)
			fetch := func(_ context.Context, k cachekey.Key) ([]byte, error) {
				mu.Lock()
				calls[k]++
				mu.Unlock()
				return []byte(`{}`), nil
			}
			count := func(k cachekey.Key) int {
				mu.Lock()
				defer mu.Unlock()
				return calls[k]
			}

			for _, k := range keys {
				_, err := c.Get(t.Context(), k, fetch)
				require.NoError(t, err)
			}

			_, err := p.Do(t.Context(), Mutation{
				Name:     string(r) + ".update",
				Resource: r,
				ID:       "x1",
				Remote: func(context.Context) ([]byte, error) {
					return []byte(`{}`), nil
				},
			})
			require.NoError(t, err)

			for _, k := range keys {
				before := count(k)
				_, err := c.Get(t.Context(), k, fetch)
				require.NoError(t, err)
				assert.Greater(t, count(k), before, "%s not refetched after a %s mutation", k, r)
			}
		})
	}
}

func TestDo_RollbackRestoresExactly(t *testing.T) {
	p, c := newTestPipeline(t)
	before := mustEncode(t, []model.DishList{{ID: "d1"}, {ID: "d2"}})
	c.Write(myTab, before)
	snapBefore := c.Snapshot(myTab)
	absent := cachekey.Entity(cachekey.DishList, "temp-1")

	_, err := p.Do(t.Context(), Mutation{
		Name:     "dishlist.create",
		Resource: cachekey.DishList,
		ID:       "temp-1",
		Keys:     []cachekey.Key{myTab, absent},
		Optimistic: Keyed(map[cachekey.Key]Transform{
			myTab:  PrependToList(model.DishList{ID: "temp-1"}),
			absent: ReplaceWith(model.DishList{ID: "temp-1"}),
		}),
		Remote: func(context.Context) ([]byte, error) {
			assert.Len(t, readList(t, c, myTab), 3)
			_, ok := c.Read(absent)
			assert.True(t, ok)
			return nil, &errs.TransportError{Status: http.StatusConflict, Message: "duplicate title"}
		},
	})

	te, ok := errs.AsTransport(err)
	require.True(t, ok, "want *TransportError, got %T", err)
	assert.Equal(t, http.StatusConflict, te.Status)

	after, ok := c.Read(myTab)
	require.True(t, ok)
	want, _ := snapBefore.Entry(myTab)
	assert.Equal(t, want, after)

	_, ok = c.Read(absent)
	assert.False(t, ok, "entry absent before the mutation must be absent after rollback")
}

func TestDo_PlainErrorBecomesTransportError(t *testing.T) {
	p, _ := newTestPipeline(t)
	cause := errors.New("connection reset")
	_, err := p.Do(t.Context(), Mutation{
		Name:     "grocery.add",
		Resource: cachekey.Grocery,
		Remote:   func(context.Context) ([]byte, error) { return nil, cause },
	})
	te, ok := errs.AsTransport(err)
	require.True(t, ok)
	assert.Zero(t, te.Status)
	assert.ErrorIs(t, err, cause)
}

func TestDo_TempIDReplacedWithoutDuplicates(t *testing.T) {
	p, c := newTestPipeline(t)
	c.Write(myTab, mustEncode(t, []model.DishList{{ID: "a"}, {ID: "b"}}))

	tempID := model.NewTempID(time.Now())
	_, err := p.Do(t.Context(), Mutation{
		Name:       "dishlist.create",
		Resource:   cachekey.DishList,
		ID:         tempID,
		SettledID:  func(b []byte) string { d, _ := cache.Decode[model.DishList](b); return d.ID },
		Keys:       []cachekey.Key{myTab},
		Optimistic: PrependToList(model.DishList{ID: tempID, Title: "New"}),
		Remote: func(context.Context) ([]byte, error) {
			// A refetch that already includes the server id lands before settle.
			c.Write(myTab, mustEncode(t, []model.DishList{{ID: tempID}, {ID: "srv"}, {ID: "a"}, {ID: "b"}}))
			return []byte(`{"id":"srv","title":"New"}`), nil
		},
		Reconcile: UpsertInList[model.DishList](tempID),
	})
	require.NoError(t, err)

	list := readList(t, c, myTab)
	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"srv", "a", "b"}, ids)
}

func TestDo_ObsoleteReadIsDiscarded(t *testing.T) {
	p, c := newTestPipeline(t)
	c.Write(detailKey, mustEncode(t, model.DishList{ID: "d1"}))

	started := make(chan struct{})
	release := make(chan struct{})
	readDone := make(chan []byte)
	go func() {
		data, err := c.Fetch(context.Background(), detailKey, func(context.Context, cachekey.Key) ([]byte, error) {
			close(started)
			<-release
			return mustEncode(t, model.DishList{ID: "d1", IsPinned: false}), nil
		})
		assert.NoError(t, err)
		readDone <- data
	}()
	<-started

	_, err := p.Do(t.Context(), Mutation{
		Name:       "dishlist.pin",
		Resource:   cachekey.DishList,
		ID:         "d1",
		Keys:       []cachekey.Key{detailKey},
		Optimistic: UpdateEntity(pin(true)),
		Remote: func(context.Context) ([]byte, error) {
			close(release)
			<-readDone
			d, _, err := cache.ReadAs[model.DishList](c, detailKey)
			assert.NoError(t, err)
			assert.True(t, d.IsPinned, "obsolete read overwrote the optimistic value")
			return mustEncode(t, model.DishList{ID: "d1", IsPinned: true}), nil
		},
	})
	require.NoError(t, err)

	d, ok, err := cache.ReadAs[model.DishList](c, detailKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, d.IsPinned, "the pre-mutation read must not overwrite the mutation")
}

func TestDo_FailingTransformLeavesKeyUntouched(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p, c := newTestPipeline(t, WithMetrics(m))
	c.Write(myTab, []byte(`not json`))
	c.Write(detailKey, mustEncode(t, model.DishList{ID: "d1"}))

	var remoteCalled bool
	_, err := p.Do(t.Context(), Mutation{
		Name:     "dishlist.pin",
		Resource: cachekey.DishList,
		ID:       "d1",
		Keys:     []cachekey.Key{myTab, detailKey},
		Optimistic: Keyed(map[cachekey.Key]Transform{
			myTab: UpdateInList[model.DishList]("d1", pin(true)),
			detailKey: func(cachekey.Key, []byte) ([]byte, error) {
				panic("boom")
			},
		}),
		Remote: func(context.Context) ([]byte, error) {
			remoteCalled = true
			e, _ := c.Read(myTab)
			assert.Equal(t, "not json", string(e.Data))
			d, _, _ := cache.ReadAs[model.DishList](c, detailKey)
			assert.False(t, d.IsPinned)
			return mustEncode(t, model.DishList{ID: "d1", IsPinned: true}), nil
		},
		Reconcile: ReconcileKeyed(map[cachekey.Key]Reconcile{myTab: KeepCurrent()}, nil),
	})
	require.NoError(t, err)
	assert.True(t, remoteCalled)
	assert.Equal(t, 2.0, counterValue(t, reg, "dishsync_mutation_transform_failures_total"))
}

// counterValue sums every series of the named counter.
func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestDo_RemoteSurvivesCallerCancellation(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(t.Context())

	_, err := p.Do(ctx, Mutation{
		Name:     "grocery.clear",
		Resource: cachekey.Grocery,
		Remote: func(rctx context.Context) ([]byte, error) {
			cancel()
			assert.NoError(t, rctx.Err())
			return []byte(`[]`), nil
		},
	})
	require.NoError(t, err)
}

func TestDo_RefreshesSubscribedDependents(t *testing.T) {
	p, c := newTestPipeline(t)
	var fetches atomic.Int32
	unsub := c.Subscribe(allTab, func(context.Context, cachekey.Key) ([]byte, error) {
		fetches.Add(1)
		return []byte(`[]`), nil
	}, nil)
	defer unsub()
	c.Write(allTab, []byte(`[]`))

	_, err := p.Do(t.Context(), Mutation{
		Name:     "dishlist.follow",
		Resource: cachekey.DishList,
		ID:       "d1",
		Remote:   func(context.Context) ([]byte, error) { return []byte(`{}`), nil },
	})
	require.NoError(t, err)

	p.Close()
	assert.GreaterOrEqual(t, fetches.Load(), int32(1))
	e, _ := c.Read(allTab)
	assert.False(t, e.Invalidated, "refetch should have replaced the stale entry")
}

func TestPending_TracksStatus(t *testing.T) {
	p, _ := newTestPipeline(t)
	assert.Empty(t, p.Pending())

	_, err := p.Do(t.Context(), Mutation{
		Name:     "progress.toggle",
		Resource: cachekey.Progress,
		ID:       "r1",
		Keys:     []cachekey.Key{cachekey.Entity(cachekey.Progress, "r1")},
		Remote: func(context.Context) ([]byte, error) {
			pending := p.Pending()
			require.Len(t, pending, 1)
			assert.Equal(t, Settling, pending[0].Status)
			assert.Equal(t, "progress.toggle", pending[0].Name)
			return []byte(`{}`), nil
		},
	})
	require.NoError(t, err)
	assert.Empty(t, p.Pending())
}

func TestDo_RecordsSpanAndMetrics(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p, _ := newTestPipeline(t, WithTracing(&tracing.TracingConfig{TracerProvider: tp}), WithMetrics(m))

	_, err := p.Do(t.Context(), Mutation{
		Name:     "recipe.delete",
		Resource: cachekey.Recipe,
		ID:       "r1",
		Remote: func(context.Context) ([]byte, error) {
			return nil, &errs.TransportError{Status: http.StatusNotFound}
		},
	})
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "mutation recipe.delete", spans[0].Name())
	assert.Equal(t, 1.0, counterValue(t, reg, "dishsync_mutation_rollbacks_total"))
}

func TestDo_RequiresRemote(t *testing.T) {
	p, _ := newTestPipeline(t)
	_, err := p.Do(t.Context(), Mutation{Name: "noop"})
	require.Error(t, err)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "settling", Settling.String())
	assert.Equal(t, "unknown", Status(42).String())
}
