package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Keksclan/dishsync/breaker"
	"github.com/Keksclan/dishsync/contextx"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/metrics"
	"github.com/Keksclan/dishsync/policy"
	"github.com/Keksclan/dishsync/retry"
	"github.com/Keksclan/dishsync/tracing"
)

var fastRetry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, append([]Option{WithRetry(fastRetry)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestRequest_SendsHeadersAndBody(t *testing.T) {
	var got http.Header
	var body map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/dishlists", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"d1"}`))
	})

	ctx := contextx.WithActor(t.Context(), contextx.Actor{Subject: "u1", Token: "tok"})
	ctx = contextx.WithRequestID(ctx, "req-1")
	ctx = contextx.WithMutationID(ctx, "mut-1")

	data, err := c.Request(ctx, http.MethodPost, "/dishlists", map[string]string{"title": "Soups"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"d1"}`, string(data))

	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "req-1", got.Get(HeaderRequestID))
	assert.Equal(t, "mut-1", got.Get(HeaderMutationID))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "Soups", body["title"])
}

func TestRequest_GeneratesRequestID(t *testing.T) {
	var id string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		id = r.Header.Get(HeaderRequestID)
	})
	data, err := c.Request(t.Context(), http.MethodGet, "/notifications", nil)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.NotEmpty(t, id)
}

func TestRequest_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message field", http.StatusConflict, `{"message":"already pinned"}`, "already pinned"},
		{"error field", http.StatusForbidden, `{"error":"not a collaborator"}`, "not a collaborator"},
		{"plain text", http.StatusBadRequest, "bad title\n", "bad title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Request(t.Context(), http.MethodPost, "/dishlists/d1/pin", nil)
			te, ok := errs.AsTransport(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, te.Status)
			assert.Equal(t, tt.message, te.Message)
		})
	}
}

func TestRequest_RetriesIdempotentOnly(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1)%2 == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.Request(t.Context(), http.MethodGet, "/dishlists", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	_, err = c.Request(t.Context(), http.MethodPost, "/dishlists", nil)
	assert.True(t, errs.IsStatus(err, http.StatusServiceUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequest_PolicyDisablesRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithPolicies(policy.NewResolver(
		policy.Group("search").Prefix("/recipes/search").Policy(policy.Policy{NoRetry: true}),
	)))

	_, err := c.Request(t.Context(), http.MethodGet, "/recipes/search?q=x", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequest_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(20*time.Millisecond), WithRetry(retry.Config{}))
	// Registered after the server so it runs before the server closes.
	t.Cleanup(func() { close(release) })

	_, err := c.Request(t.Context(), http.MethodGet, "/recipes/r1", nil)
	te, ok := errs.AsTransport(err)
	require.True(t, ok)
	assert.True(t, te.Timeout)
	assert.Zero(t, te.Status)
}

func TestRequest_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, WithRetry(retry.Config{}), WithBreaker(breaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour}))

	for range 2 {
		_, err := c.Request(t.Context(), http.MethodGet, "/dishlists", nil)
		require.True(t, errs.IsStatus(err, http.StatusInternalServerError))
	}
	_, err := c.Request(t.Context(), http.MethodGet, "/dishlists", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, breaker.ErrOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequest_GroupRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, WithPolicies(policy.NewResolver(
		policy.Group("search").Prefix("/recipes/search").Policy(policy.Policy{
			RateLimit: &policy.RateLimitRule{Rate: 1, Window: time.Hour},
		}),
	)))

	_, err := c.Request(t.Context(), http.MethodGet, "/recipes/search?q=a", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Request(ctx, http.MethodGet, "/recipes/search?q=b", nil)
	te, ok := errs.AsTransport(err)
	require.True(t, ok)
	assert.Contains(t, te.Message, "rate limited")

	// Other paths are not throttled by the search bucket.
	_, err = c.Request(t.Context(), http.MethodGet, "/dishlists", nil)
	require.NoError(t, err)
}

func TestRequest_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, WithMetrics(metrics.New(reg)), WithRetry(retry.Config{}))

	_, _ = c.Request(t.Context(), http.MethodDelete, "/recipes/r1", nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "dishsync_transport_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == http.MethodDelete && labels["code"] == "404" {
				found = true
				assert.Equal(t, 1.0, m.GetCounter().GetValue())
			}
		}
	}
	assert.True(t, found, "expected a DELETE 404 sample")
}

func TestRequest_TracingPropagates(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var traceparent string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
	}, WithTracing(&tracing.TracingConfig{TracerProvider: tp, Propagators: propagation.TraceContext{}}))

	_, err := c.Request(t.Context(), http.MethodGet, "/recipes/r1", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, traceparent)
	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /recipes/r1", spans[0].Name())
}

func TestWithMiddleware_SeesResolvedGroup(t *testing.T) {
	var group string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {},
		WithPolicies(policy.Default()),
		WithMiddleware(OrderTimeout+1, func(next Doer) Doer {
			return func(ctx context.Context, call *Call) ([]byte, error) {
				group = call.Group
				return next(ctx, call)
			}
		}))

	_, err := c.Request(t.Context(), http.MethodGet, "/notifications", nil)
	require.NoError(t, err)
	assert.Equal(t, "notifications", group)
}

func TestRecovery_ConvertsPanics(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {},
		WithMiddleware(OrderTimeout+1, func(Doer) Doer {
			return func(context.Context, *Call) ([]byte, error) { panic("boom") }
		}))

	_, err := c.Request(t.Context(), http.MethodGet, "/dishlists", nil)
	te, ok := errs.AsTransport(err)
	require.True(t, ok)
	assert.Contains(t, te.Message, "boom")
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)
	_, err = New("://nope")
	require.Error(t, err)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Doer) Doer {
			return func(ctx context.Context, call *Call) ([]byte, error) {
				order = append(order, name)
				return next(ctx, call)
			}
		}
	}
	d := Chain(mark("a"), mark("b"))(func(context.Context, *Call) ([]byte, error) {
		order = append(order, "h")
		return nil, nil
	})
	_, _ = d(t.Context(), &Call{})
	assert.Equal(t, []string{"a", "b", "h"}, order)
}
