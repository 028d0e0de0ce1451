// Package metrics exposes Prometheus collectors for the cache, the mutation
// pipeline, the local mutator and the transport.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dishsync"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics groups every collector the module records to.
type Metrics struct {
	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	rollbacks        *prometheus.CounterVec
	validation       *prometheus.CounterVec
	invalidations    *prometheus.CounterVec
	refetches        *prometheus.CounterVec
	discardedReads   *prometheus.CounterVec
	evictions        prometheus.Counter
	localMutations   *prometheus.CounterVec
	serialization    prometheus.Counter
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mutation", Name: "total",
			Help: "Settled mutations by resource and outcome.",
		}, []string{"resource", "outcome"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "mutation", Name: "duration_seconds",
			Help:    "Time from mutation start to settle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mutation", Name: "rollbacks_total",
			Help: "Snapshots restored after a failed remote call.",
		}, []string{"resource"}),
		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mutation", Name: "transform_failures_total",
			Help: "Optimistic transforms that were skipped because they failed.",
		}, []string{"resource"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "invalidated_entries_total",
			Help: "Cache entries marked stale.",
		}, []string{"resource"}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "fetches_total",
			Help: "Fetches issued by the cache by resource and outcome.",
		}, []string{"resource", "outcome"}),
		discardedReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "discarded_reads_total",
			Help: "Read results dropped because the entry was cancelled while in flight.",
		}, []string{"resource"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
			Help: "Entries evicted after being unused.",
		}),
		localMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "local", Name: "mutations_total",
			Help: "Serialized local collection mutations by outcome.",
		}, []string{"outcome"}),
		serialization: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "local", Name: "decode_failures_total",
			Help: "Stored payloads that failed to decode and were treated as empty.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "requests_total",
			Help: "Remote requests by method and status code (0 = no response).",
		}, []string{"method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "transport", Name: "request_duration_seconds",
			Help:    "Remote request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.mutations, m.mutationDuration, m.rollbacks, m.validation,
			m.invalidations, m.refetches, m.discardedReads, m.evictions,
			m.localMutations, m.serialization, m.requests, m.requestDuration,
		)
	}
	return m
}

// Handler returns an http.Handler that serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// MutationSettled records the outcome and latency of one mutation.
func (m *Metrics) MutationSettled(resource, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(resource, outcome).Inc()
	m.mutationDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// Rollback records a restored snapshot.
func (m *Metrics) Rollback(resource string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(resource).Inc()
}

// TransformFailed records a skipped optimistic transform.
func (m *Metrics) TransformFailed(resource string) {
	if m == nil {
		return
	}
	m.validation.WithLabelValues(resource).Inc()
}

// Invalidated records n entries marked stale.
func (m *Metrics) Invalidated(resource string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.invalidations.WithLabelValues(resource).Add(float64(n))
}

// Fetched records one cache fetch.
func (m *Metrics) Fetched(resource, outcome string) {
	if m == nil {
		return
	}
	m.refetches.WithLabelValues(resource, outcome).Inc()
}

// ReadDiscarded records a fetch result dropped after cancellation.
func (m *Metrics) ReadDiscarded(resource string) {
	if m == nil {
		return
	}
	m.discardedReads.WithLabelValues(resource).Inc()
}

// Evicted records n evicted entries.
func (m *Metrics) Evicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// LocalMutation records one serialized local mutation.
func (m *Metrics) LocalMutation(outcome string) {
	if m == nil {
		return
	}
	m.localMutations.WithLabelValues(outcome).Inc()
}

// DecodeFailed records a stored payload that could not be decoded.
func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.serialization.Inc()
}

// Request records one remote request. status is 0 when no response arrived.
func (m *Metrics) Request(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}
