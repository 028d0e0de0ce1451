package tracing

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestConfig returns a TracingConfig backed by an in-memory span recorder.
func newTestConfig(t *testing.T) (*TracingConfig, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return &TracingConfig{
		TracerProvider: tp,
		Propagators:    propagation.TraceContext{},
	}, rec
}

func TestStartMutation_CreatesSpan(t *testing.T) {
	cfg, rec := newTestConfig(t)

	_, span := StartMutation(t.Context(), cfg, "dishlist.pin", "dishlist", "d1")
	End(span, 0, nil)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "mutation dishlist.pin", spans[0].Name())
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind())
	assertAttr(t, spans[0].Attributes(), "dishsync.resource", "dishlist")
	assertAttr(t, spans[0].Attributes(), "dishsync.entity_id", "d1")
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestStartRequest_InjectsTraceparent(t *testing.T) {
	cfg, rec := newTestConfig(t)
	header := http.Header{}

	ctx, span := StartRequest(t.Context(), cfg, http.MethodPost, "/dishlists/d1/pin", header)
	End(span, http.StatusBadGateway, errors.New("upstream down"))

	assert.NotEmpty(t, header.Get("traceparent"))
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assertAttr(t, spans[0].Attributes(), "url.path", "/dishlists/d1/pin")
}

func TestNilConfig_NoopSpans(t *testing.T) {
	header := http.Header{}
	ctx, span := StartRequest(t.Context(), nil, http.MethodGet, "/recipes", header)
	End(span, http.StatusOK, nil)

	assert.False(t, span.IsRecording())
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
	assert.Empty(t, header.Get("traceparent"))
}

func assertAttr(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			assert.Equal(t, want, a.Value.AsString(), "attribute %q", key)
			return
		}
	}
	t.Errorf("attribute %q not found", key)
}
