package mutation

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/contextx"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/internal/logfield"
	"github.com/Keksclan/dishsync/invalidation"
	"github.com/Keksclan/dishsync/metrics"
	"github.com/Keksclan/dishsync/tracing"
)

// DefaultRefetchDelay is how long after settle dependent views are refreshed.
const DefaultRefetchDelay = 500 * time.Millisecond

// Pipeline is safe for concurrent use. It does not order mutations against
// the same key; callers that need ordering wait for Do to return.
type Pipeline struct {
	cache *cache.Cache
	graph *invalidation.Graph

	refetchDelay time.Duration
	logger       *slog.Logger
	tracing      *tracing.TracingConfig
	metrics      *metrics.Metrics
	now          func() time.Time

	mu      sync.Mutex
	pending map[string]*Pending
	timers  sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRefetchDelay sets the delay before the reconciling refresh.
func WithRefetchDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.refetchDelay = d }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracing enables a span per mutation.
func WithTracing(cfg *tracing.TracingConfig) Option {
	return func(p *Pipeline) { p.tracing = cfg }
}

// WithMetrics records mutation outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline over c and g.
func New(c *cache.Cache, g *invalidation.Graph, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:        c,
		graph:        g,
		refetchDelay: DefaultRefetchDelay,
		logger:       slog.Default(),
		now:          time.Now,
		pending:      make(map[string]*Pending),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Do runs m to completion and returns the authoritative payload. A failed
// remote call is returned as *errs.TransportError after every affected entry
// has been restored. Once the remote call has started, cancelling ctx no
// longer affects it.
func (p *Pipeline) Do(ctx context.Context, m Mutation) ([]byte, error) {
	if m.Remote == nil {
		return nil, fmt.Errorf("mutation %s: no remote operation", m.Name)
	}
	start := p.now()
	pm := &Pending{
		ID:           uuid.NewString(),
		Name:         m.Name,
		Resource:     m.Resource,
		AffectedKeys: slices.Clone(m.Keys),
		Status:       Idle,
	}
	p.track(pm)
	defer p.untrack(pm)

	ctx = contextx.WithMutationID(ctx, pm.ID)
	ctx, span := tracing.StartMutation(ctx, p.tracing, m.Name, string(m.Resource), m.ID)
	log := p.logger.With(logfield.MutationID, pm.ID, logfield.Mutation, m.Name, logfield.Resource, string(m.Resource))

	for _, k := range m.Keys {
		p.cache.CancelInFlight(k)
	}
	snap := p.cache.Snapshot(m.Keys...)
	p.mu.Lock()
	pm.Snapshot = snap
	pm.Status = Optimistic
	p.mu.Unlock()
	p.applyOptimistic(m, snap, log)

	p.setStatus(pm, Settling)
	result, err := m.Remote(context.WithoutCancel(ctx))

	if err != nil {
		p.cache.Restore(snap)
		te := errs.ToTransport(err)
		p.scheduleRefresh(p.graph.Resolve(m.Resource, m.ID))
		p.setStatus(pm, Done)

		p.metrics.Rollback(string(m.Resource))
		p.metrics.MutationSettled(string(m.Resource), metrics.OutcomeError, p.now().Sub(start))
		log.Warn("mutation failed, rolled back",
			logfield.Status, te.Status, logfield.Error, err, logfield.Duration, p.now().Sub(start).Milliseconds())
		tracing.End(span, te.Status, te)
		return nil, te
	}

	p.applyAuthoritative(m, result, log)
	id := m.ID
	if m.SettledID != nil {
		if sid := m.SettledID(result); sid != "" {
			id = sid
		}
	}
	dependents := p.graph.Resolve(m.Resource, id)
	for _, k := range dependents {
		p.cache.Invalidate(k)
	}
	p.scheduleRefresh(dependents)
	p.setStatus(pm, Done)

	p.metrics.MutationSettled(string(m.Resource), metrics.OutcomeSuccess, p.now().Sub(start))
	log.Debug("mutation settled", "dependents", len(dependents), logfield.Duration, p.now().Sub(start).Milliseconds())
	tracing.End(span, 0, nil)
	return bytes.Clone(result), nil
}

// applyOptimistic runs the transform over every affected key, starting from
// the snapshot so that each key sees its pre-mutation value.
func (p *Pipeline) applyOptimistic(m Mutation, snap cache.Snapshot, log *slog.Logger) {
	if m.Optimistic == nil {
		return
	}
	for _, k := range m.Keys {
		e, present := snap.Entry(k)
		next, err := safeTransform(m.Optimistic, k, e.Data)
		if err != nil {
			p.transformFailed(m, k, err, log)
			continue
		}
		if !present && next == nil {
			continue
		}
		if present && bytes.Equal(next, e.Data) && (next == nil) == (e.Data == nil) {
			continue
		}
		p.cache.Write(k, next)
	}
}

// applyAuthoritative stores server truth under every affected key.
func (p *Pipeline) applyAuthoritative(m Mutation, result []byte, log *slog.Logger) {
	for _, k := range m.Keys {
		if m.Reconcile == nil {
			p.cache.Write(k, result)
			continue
		}
		cur, present := p.cache.Read(k)
		next, err := safeReconcile(m.Reconcile, k, cur.Data, result)
		if err != nil {
			// Server truth could not be placed; let the next read fetch it.
			p.transformFailed(m, k, err, log)
			p.cache.Invalidate(k)
			continue
		}
		if !present && next == nil {
			continue
		}
		p.cache.Write(k, next)
	}
}

func (p *Pipeline) transformFailed(m Mutation, k cachekey.Key, err error, log *slog.Logger) {
	verr := &errs.ValidationError{Key: k, Err: err}
	p.metrics.TransformFailed(string(m.Resource))
	log.Warn("transform skipped", logfield.Key, k.String(), logfield.Error, verr)
}

func safeTransform(fn Transform, k cachekey.Key, cur []byte) (next []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return fn(k, bytes.Clone(cur))
}

func safeReconcile(fn Reconcile, k cachekey.Key, cur, auth []byte) (next []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("reconcile panicked: %v", r)
		}
	}()
	return fn(k, bytes.Clone(cur), bytes.Clone(auth))
}

// scheduleRefresh refreshes dependents after the refetch delay.
func (p *Pipeline) scheduleRefresh(dependents []cachekey.Key) {
	if len(dependents) == 0 {
		return
	}
	p.timers.Add(1)
	time.AfterFunc(p.refetchDelay, func() {
		defer p.timers.Done()
		for _, k := range dependents {
			p.cache.Refresh(k)
		}
	})
}

// Close waits for scheduled refreshes and the refetches they started.
func (p *Pipeline) Close() {
	p.timers.Wait()
	p.cache.Wait()
}

func (p *Pipeline) track(pm *Pending) {
	p.mu.Lock()
	p.pending[pm.ID] = pm
	p.mu.Unlock()
}

func (p *Pipeline) untrack(pm *Pending) {
	p.mu.Lock()
	delete(p.pending, pm.ID)
	p.mu.Unlock()
}

func (p *Pipeline) setStatus(pm *Pending, s Status) {
	p.mu.Lock()
	pm.Status = s
	p.mu.Unlock()
}

// Pending returns the mutations currently in flight.
func (p *Pipeline) Pending() []Pending {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Pending, 0, len(p.pending))
	for _, pm := range p.pending {
		cp := *pm
		cp.AffectedKeys = slices.Clone(pm.AffectedKeys)
		out = append(out, cp)
	}
	return out
}
