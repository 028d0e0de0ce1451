// Package cache implements the in-memory resource cache every view reads
// from.
//
// Entries are keyed by cachekey.Key and hold the JSON encoding of the cached
// value, so reads always hand out copies. The cache tracks staleness and
// in-flight reads: a read that was started before CancelInFlight (or before a
// Write) never stores its result, which keeps optimistic writes from being
// clobbered by slower, obsolete responses.
package cache

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/internal/logfield"
	"github.com/Keksclan/dishsync/metrics"
)

// Fetcher loads the authoritative payload for key.
type Fetcher func(ctx context.Context, key cachekey.Key) ([]byte, error)

// Default timings.
const (
	DefaultStaleAfter = 30 * time.Second
	DefaultEvictAfter = 5 * time.Minute
)

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[cachekey.Key]*entry
	nextSub uint64

	loads singleflight.Group
	bg    sync.WaitGroup

	staleAfter time.Duration
	evictAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// beforeRefetch runs ahead of each background refetch; for tests.
	beforeRefetch func()
}

// Option configures a Cache.
type Option func(*Cache)

// WithStaleAfter sets how long fetched data is trusted. Zero disables
// time-based staleness.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Cache) { c.staleAfter = d }
}

// WithEvictAfter sets how long an unused entry is kept. Zero disables
// eviction.
func WithEvictAfter(d time.Duration) Option {
	return func(c *Cache) { c.evictAfter = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for background fetch failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics records cache activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[cachekey.Key]*entry),
		staleAfter: DefaultStaleAfter,
		evictAfter: DefaultEvictAfter,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// entryLocked returns the record for k, creating an empty one if needed.
// Must be called with c.mu held.
func (c *Cache) entryLocked(k cachekey.Key) *entry {
	e, ok := c.entries[k]
	if !ok {
		e = &entry{lastUsed: c.now()}
		e.StaleAfter = c.staleAfter
		c.entries[k] = e
	}
	return e
}

// notification is a subscriber callback with the entry copy to deliver.
type notification struct {
	fn    func(Entry)
	entry Entry
}

// pendingLocked collects the callbacks to run for e after the lock is
// released. Must be called with c.mu held.
func pendingLocked(e *entry) []notification {
	if len(e.subs) == 0 {
		return nil
	}
	out := make([]notification, 0, len(e.subs))
	for _, fn := range e.subs {
		out = append(out, notification{fn: fn, entry: e.Entry.clone()})
	}
	return out
}

func deliver(ns []notification) {
	for _, n := range ns {
		n.fn(n.entry)
	}
}

// Read returns a copy of the entry stored under k.
func (c *Cache) Read(k cachekey.Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || !e.stored {
		return Entry{}, false
	}
	e.lastUsed = c.now()
	return e.Entry.clone(), true
}

// Write replaces the data under k with data. It never merges: callers supply
// the full resulting value. FetchedAt is reset, the stale mark cleared and
// any outstanding read for k becomes obsolete.
func (c *Cache) Write(k cachekey.Key, data []byte) {
	c.mu.Lock()
	e := c.entryLocked(k)
	c.storeLocked(e, data)
	e.gen++
	e.InFlightRequestID = ""
	ns := pendingLocked(e)
	c.mu.Unlock()
	deliver(ns)
}

// storeLocked sets the entry data. Must be called with c.mu held.
func (c *Cache) storeLocked(e *entry, data []byte) {
	now := c.now()
	e.Data = bytes.Clone(data)
	e.FetchedAt = now
	e.StaleAfter = c.staleAfter
	e.Invalidated = false
	e.stored = true
	e.lastUsed = now
}

// Invalidate marks every entry under prefix stale without dropping its data.
// Subscribed entries with a known fetcher get one background refetch;
// invalidations that arrive before that refetch is issued share it. A read
// already in flight may predate the change, so its result is discarded and a
// running background refetch is followed by exactly one more. It returns the
// number of matching entries.
func (c *Cache) Invalidate(prefix cachekey.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !k.Matches(prefix) {
			continue
		}
		n++
		e.Invalidated = true
		if e.InFlightRequestID != "" {
			e.gen++
			e.InFlightRequestID = ""
			if e.refetchQueued {
				e.refetchAgain = true
			}
		}
		c.scheduleLocked(k, e)
	}
	c.metrics.Invalidated(string(prefix.Resource), n)
	return n
}

// Refresh queues a background refetch for every subscribed entry under
// prefix without marking it stale. It returns the number of refetches queued.
func (c *Cache) Refresh(prefix cachekey.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if k.Matches(prefix) && c.scheduleLocked(k, e) {
			n++
		}
	}
	return n
}

// CancelInFlight makes every outstanding read under prefix obsolete: the
// request is allowed to finish but its result is discarded. It returns the
// number of entries that had a read in flight.
func (c *Cache) CancelInFlight(prefix cachekey.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !k.Matches(prefix) {
			continue
		}
		if e.InFlightRequestID != "" {
			n++
		}
		e.gen++
		e.InFlightRequestID = ""
	}
	return n
}

// scheduleLocked queues a background refetch for e when it has an active
// subscriber and a fetcher. Must be called with c.mu held.
func (c *Cache) scheduleLocked(k cachekey.Key, e *entry) bool {
	if e.refetchQueued || len(e.subs) == 0 || e.fetch == nil {
		return false
	}
	e.refetchQueued = true
	fetch := e.fetch
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if c.beforeRefetch != nil {
			c.beforeRefetch()
		}
		for {
			if _, err := c.Fetch(context.Background(), k, fetch); err != nil {
				c.logger.Warn("background refetch failed", logfield.Key, k.String(), logfield.Error, err)
			}

			c.mu.Lock()
			if cur, ok := c.entries[k]; !ok || cur != e {
				c.mu.Unlock()
				return
			}
			again := e.refetchAgain && len(e.subs) > 0 && e.fetch != nil
			e.refetchAgain = false
			if !again {
				e.refetchQueued = false
				c.mu.Unlock()
				return
			}
			fetch = e.fetch
			c.mu.Unlock()
		}
	}()
	return true
}

// Wait blocks until all queued background refetches have finished.
func (c *Cache) Wait() {
	c.bg.Wait()
}

// Get returns the data under k, fetching it when the entry is missing or
// stale.
func (c *Cache) Get(ctx context.Context, k cachekey.Key, fetch Fetcher) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.entries[k]; ok && e.stored && !e.IsStale(c.now()) {
		e.lastUsed = c.now()
		if e.fetch == nil {
			e.fetch = fetch
		}
		data := bytes.Clone(e.Data)
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()
	return c.Fetch(ctx, k, fetch)
}

// Fetch loads k through fetch and stores the result unless the read was made
// obsolete while in flight, in which case the currently cached data is
// returned instead. Concurrent fetches of the same key share one call.
func (c *Cache) Fetch(ctx context.Context, k cachekey.Key, fetch Fetcher) ([]byte, error) {
	c.mu.Lock()
	e := c.entryLocked(k)
	e.fetch = fetch
	e.lastUsed = c.now()
	gen := e.gen
	if e.InFlightRequestID == "" {
		e.InFlightRequestID = uuid.NewString()
	}
	reqID := e.InFlightRequestID
	c.mu.Unlock()

	v, err, _ := c.loads.Do(k.String()+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		data, err := fetch(ctx, k)

		c.mu.Lock()
		cur, ok := c.entries[k]
		if ok && cur.InFlightRequestID == reqID {
			cur.InFlightRequestID = ""
		}
		if err != nil {
			c.mu.Unlock()
			c.metrics.Fetched(string(k.Resource), metrics.OutcomeError)
			return nil, err
		}
		c.metrics.Fetched(string(k.Resource), metrics.OutcomeSuccess)
		if !ok || cur.gen != gen {
			var current []byte
			if ok && cur.stored {
				current = bytes.Clone(cur.Data)
			}
			c.mu.Unlock()
			c.metrics.ReadDiscarded(string(k.Resource))
			c.logger.Debug("discarded obsolete read", logfield.Key, k.String(), logfield.RequestID, reqID)
			if current == nil {
				return data, nil
			}
			return current, nil
		}
		c.storeLocked(cur, data)
		ns := pendingLocked(cur)
		c.mu.Unlock()
		deliver(ns)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

// Subscribe registers an active observer of k. fetch (may be nil) is
// remembered so invalidation can refetch in the background; notify (may be
// nil) receives a copy of the entry after every change. The returned function
// removes the subscription.
func (c *Cache) Subscribe(k cachekey.Key, fetch Fetcher, notify func(Entry)) (unsubscribe func()) {
	if notify == nil {
		notify = func(Entry) {}
	}
	c.mu.Lock()
	e := c.entryLocked(k)
	if fetch != nil {
		e.fetch = fetch
	}
	if e.subs == nil {
		e.subs = make(map[uint64]func(Entry))
	}
	c.nextSub++
	id := c.nextSub
	e.subs[id] = notify
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if cur, ok := c.entries[k]; ok {
				delete(cur.subs, id)
				cur.lastUsed = c.now()
			}
			c.mu.Unlock()
		})
	}
}

// Snapshot captures the exact state of keys. Keys are matched exactly, not
// as prefixes.
func (c *Cache) Snapshot(keys ...cachekey.Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{entries: make(map[cachekey.Key]snapshotEntry, len(keys))}
	for _, k := range keys {
		e, ok := c.entries[k]
		if !ok || !e.stored {
			s.entries[k] = snapshotEntry{}
			continue
		}
		s.entries[k] = snapshotEntry{entry: e.Entry.clone(), present: true}
	}
	return s
}

// Restore puts every entry captured in s back exactly as it was, including
// removing entries that did not exist. Outstanding reads of restored keys
// become obsolete.
func (c *Cache) Restore(s Snapshot) {
	var ns []notification
	c.mu.Lock()
	for k, se := range s.entries {
		e, ok := c.entries[k]
		if !se.present {
			if !ok {
				continue
			}
			if len(e.subs) == 0 {
				delete(c.entries, k)
				continue
			}
			e.Entry = Entry{StaleAfter: c.staleAfter}
			e.stored = false
		} else {
			e = c.entryLocked(k)
			e.Entry = se.entry.clone()
			e.stored = true
		}
		e.gen++
		e.lastUsed = c.now()
		ns = append(ns, pendingLocked(e)...)
	}
	c.mu.Unlock()
	deliver(ns)
}

// Keys returns the keys of stored entries under prefix.
func (c *Cache) Keys(prefix cachekey.Key) []cachekey.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []cachekey.Key
	for k, e := range c.entries {
		if e.stored && k.Matches(prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of entries, including placeholder entries created
// by subscriptions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts entries unused for longer than the eviction window. Entries
// with subscribers or work in flight are kept. It returns the number evicted.
func (c *Cache) Sweep() int {
	if c.evictAfter <= 0 {
		return 0
	}
	c.mu.Lock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if len(e.subs) > 0 || e.InFlightRequestID != "" || e.refetchQueued {
			continue
		}
		if now.Sub(e.lastUsed) >= c.evictAfter {
			delete(c.entries, k)
			n++
		}
	}
	c.mu.Unlock()
	c.metrics.Evicted(n)
	return n
}

// Run sweeps periodically until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	if c.evictAfter <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(max(c.evictAfter/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("evicted unused cache entries", "count", n)
			}
		}
	}
}
