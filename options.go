package dishsync

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Keksclan/dishsync/invalidation"
	"github.com/Keksclan/dishsync/store"
	"github.com/Keksclan/dishsync/tracing"
	"github.com/Keksclan/dishsync/transport"
)

// Option configures a Client.
type Option func(*config)

// WithBaseURL talks to the API rooted at u over HTTP.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithRequester replaces the HTTP transport with r. Transport options are
// ignored when set.
func WithRequester(r transport.Requester) Option {
	return func(c *config) { c.requester = r }
}

// WithTransportOptions appends options for the HTTP transport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *config) { c.transport = append(c.transport, opts...) }
}

// WithStore sets the durable store behind the grocery list and cooking
// progress. The caller keeps ownership; Close does not close it. Defaults to
// an in-memory store.
func WithStore(s store.Store) Option {
	return func(c *config) { c.store = s }
}

// withOwnedStore sets s and closes it with the Client.
func withOwnedStore(s store.Store, closeFn func() error) Option {
	return func(c *config) {
		c.store = s
		c.closers = append(c.closers, closeFn)
	}
}

// WithGraph replaces the default invalidation graph.
func WithGraph(g *invalidation.Graph) Option {
	return func(c *config) { c.graph = g }
}

// WithStaleAfter sets how long a fetched entry counts as fresh.
func WithStaleAfter(d time.Duration) Option {
	return func(c *config) { c.staleAfter = d }
}

// WithEvictAfter sets how long an unused entry survives a sweep.
func WithEvictAfter(d time.Duration) Option {
	return func(c *config) { c.evictAfter = d }
}

// WithRefetchDelay sets how long after a mutation settles its dependents are
// refreshed.
func WithRefetchDelay(d time.Duration) Option {
	return func(c *config) { c.refetchDelay = d }
}

// WithJanitor sweeps unused cache entries in the background until Close.
func WithJanitor() Option {
	return func(c *config) { c.janitor = true }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics registers the Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) { c.registry = reg }
}

// WithTracing enables OpenTelemetry spans for mutations and requests.
func WithTracing(cfg *tracing.TracingConfig) Option {
	return func(c *config) { c.tracing = cfg }
}
