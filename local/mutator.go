// Package local serializes read-modify-write cycles on durable collections.
//
// The durable store has no transactions, so every Mutate on a key runs
// strictly after the previous one on that key finished: it loads the
// current value, applies the caller's function and saves the full result.
// Calls on different keys run independently.
package local

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/internal/logfield"
	"github.com/Keksclan/dishsync/metrics"
	"github.com/Keksclan/dishsync/store"
)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	cache   *cache.Cache
	keyFn   func(storeKey string) cachekey.Key
}

// Option configures a Mutator.
type Option func(*options)

// WithLogger sets the logger used for decode failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records mutation outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCache mirrors every saved value into c under keyFn(storeKey) so cache
// subscribers see local changes. A zero key skips the mirror.
func WithCache(c *cache.Cache, keyFn func(storeKey string) cachekey.Key) Option {
	return func(o *options) {
		o.cache = c
		o.keyFn = keyFn
	}
}

// Mutator is safe for concurrent use.
type Mutator[T any] struct {
	store store.Store
	opts  options

	mu    sync.Mutex
	tails map[string]chan struct{}
}

// New creates a Mutator over s.
func New[T any](s store.Store, opts ...Option) *Mutator[T] {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Mutator[T]{
		store: s,
		opts:  o,
		tails: make(map[string]chan struct{}),
	}
}

// Load returns the value stored under key. A missing key yields the zero
// value. A payload that fails to decode is logged and also yields the zero
// value, so a corrupt collection reads as empty.
func (m *Mutator[T]) Load(ctx context.Context, key string) (T, error) {
	var zero T
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, nil
	}
	v, err := cache.Decode[T](raw)
	if err != nil {
		serr := &errs.SerializationError{Key: key, Err: err}
		m.opts.metrics.DecodeFailed()
		m.opts.logger.Warn("discarding unreadable collection", logfield.Key, key, logfield.Error, serr)
		return zero, nil
	}
	return v, nil
}

// Mutate loads the value under key, applies fn and saves the result, after
// every earlier Mutate or Clear on key has finished. When fn fails nothing
// is saved. If ctx ends while the call is still queued it returns ctx.Err()
// without running fn; later callers keep their order.
func (m *Mutator[T]) Mutate(ctx context.Context, key string, fn func(T) (T, error)) (T, error) {
	var out T
	err := m.serialize(ctx, key, func() error {
		cur, err := m.Load(ctx, key)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if err := m.save(ctx, key, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	m.record(err)
	return out, err
}

// Clear removes key, serialized with Mutate.
func (m *Mutator[T]) Clear(ctx context.Context, key string) error {
	err := m.serialize(ctx, key, func() error {
		if err := m.store.Remove(ctx, key); err != nil {
			return err
		}
		var zero T
		m.mirror(key, zero)
		return nil
	})
	m.record(err)
	return err
}

func (m *Mutator[T]) save(ctx context.Context, key string, v T) error {
	raw, err := cache.Encode(v)
	if err != nil {
		return &errs.SerializationError{Key: key, Err: err}
	}
	if err := m.store.Set(ctx, key, raw); err != nil {
		return err
	}
	m.mirrorRaw(key, raw)
	return nil
}

func (m *Mutator[T]) mirror(key string, v T) {
	if m.opts.cache == nil {
		return
	}
	raw, err := cache.Encode(v)
	if err != nil {
		return
	}
	m.mirrorRaw(key, raw)
}

func (m *Mutator[T]) mirrorRaw(key string, raw []byte) {
	if m.opts.cache == nil || m.opts.keyFn == nil {
		return
	}
	if k := m.opts.keyFn(key); !k.IsZero() {
		m.opts.cache.Write(k, raw)
	}
}

func (m *Mutator[T]) record(err error) {
	if err != nil {
		m.opts.metrics.LocalMutation(metrics.OutcomeError)
		return
	}
	m.opts.metrics.LocalMutation(metrics.OutcomeSuccess)
}

// serialize runs fn once every earlier call on key has finished.
func (m *Mutator[T]) serialize(ctx context.Context, key string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prev, done := m.enqueue(key)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Our slot is still in the chain; hand it on once the
			// predecessor is done.
			go func() {
				<-prev
				m.release(key, done)
			}()
			return ctx.Err()
		}
	}
	defer m.release(key, done)
	return fn()
}

// enqueue appends a slot to the chain for key and returns the slot to wait
// for (nil when the chain was empty) and the new slot.
func (m *Mutator[T]) enqueue(key string) (prev, done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev = m.tails[key]
	done = make(chan struct{})
	m.tails[key] = done
	return prev, done
}

func (m *Mutator[T]) release(key string, done chan struct{}) {
	m.mu.Lock()
	if m.tails[key] == done {
		delete(m.tails, key)
	}
	m.mu.Unlock()
	close(done)
}
