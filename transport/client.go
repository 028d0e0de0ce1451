package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Keksclan/dishsync/breaker"
	"github.com/Keksclan/dishsync/contextx"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/internal/core"
	"github.com/Keksclan/dishsync/internal/logfield"
	"github.com/Keksclan/dishsync/metrics"
	"github.com/Keksclan/dishsync/policy"
	"github.com/Keksclan/dishsync/ratelimit"
	"github.com/Keksclan/dishsync/retry"
	"github.com/Keksclan/dishsync/tracing"
)

// Header names sent with every request.
const (
	HeaderRequestID  = "X-Request-ID"
	HeaderMutationID = "X-Mutation-ID"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// DefaultTimeout bounds a single attempt when no policy sets a timeout.
const DefaultTimeout = 30 * time.Second

// Client is the HTTP implementation of Requester. It is safe for
// concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracing   *tracing.TracingConfig
	policies  *policy.Resolver
	limiter   *ratelimit.Limiter
	breaker   *breaker.Breaker
	retry     retry.Config
	timeout   time.Duration

	mw core.Builder[Middleware]
	do Doer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request counts and latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracing creates a client span per request and propagates it.
func WithTracing(cfg *tracing.TracingConfig) Option {
	return func(c *Client) { c.tracing = cfg }
}

// WithPolicies sets the per-path policy groups.
func WithPolicies(r *policy.Resolver) Option {
	return func(c *Client) { c.policies = r }
}

// WithRateLimit throttles requests outside any rate-limited policy group.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = ratelimit.NewLimiter(rps, burst) }
}

// WithBreaker installs a circuit breaker in front of the API.
func WithBreaker(cfg breaker.Config) Option {
	return func(c *Client) { c.breaker = breaker.New(cfg) }
}

// WithRetry sets the retry policy for idempotent requests. A config with
// MaxAttempts ≤ 1 disables retries.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithTimeout sets the per-attempt timeout used when no policy applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMiddleware adds m to the chain at order. See the Order constants for
// where the built-in middleware sit.
func WithMiddleware(order int, m Middleware) Option {
	return func(c *Client) { c.mw.Add(order, m) }
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("transport: base url %q must be http or https", baseURL)
	}
	c := &Client{
		base:      base,
		http:      http.DefaultClient,
		userAgent: "dishsync",
		logger:    slog.Default(),
		retry:     retry.Default,
		timeout:   DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	c.mw.Add(OrderRecovery, Recovery(c.logger))
	c.mw.Add(OrderTracing, Tracing(c.tracing))
	c.mw.Add(OrderRateLimit, RateLimit(c.limiter, c.policies))
	if c.breaker != nil {
		c.mw.Add(OrderBreaker, Breaker(c.breaker))
	}
	if c.retry.MaxAttempts > 1 {
		c.mw.Add(OrderRetry, Retry(c.retry, c.policies, c.logger))
	}
	c.mw.Add(OrderTimeout, Timeout(c.timeout, c.policies))
	c.do = Chain(c.mw.Build()...)(c.send)
	return c, nil
}

// Request implements Requester.
func (c *Client) Request(ctx context.Context, method, path string, body any) ([]byte, error) {
	call := &Call{Method: method, Path: path, Header: make(http.Header)}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &errs.TransportError{Message: "encode request body: " + err.Error(), Err: err}
		}
		call.Body = b
	}
	call.Group, _, _ = c.policies.Resolve(path)
	ctx, _ = contextx.EnsureRequestID(ctx)
	return c.do(ctx, call)
}

// send performs one HTTP attempt.
func (c *Client) send(ctx context.Context, call *Call) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, call.Method, c.base.String()+call.Path, bytes.NewReader(call.Body))
	if err != nil {
		return nil, &errs.TransportError{Message: err.Error(), Err: err}
	}
	req.Header = call.Header.Clone()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a, ok := contextx.ActorFromContext(ctx); ok && a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	reqID := contextx.RequestIDFromContext(ctx)
	if reqID != "" {
		req.Header.Set(HeaderRequestID, reqID)
	}
	if id := contextx.MutationIDFromContext(ctx); id != "" {
		req.Header.Set(HeaderMutationID, id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Request(call.Method, 0, time.Since(start))
		c.logger.Debug("request failed", logfield.Method, call.Method, logfield.Path, call.Path, logfield.RequestID, reqID, logfield.Error, err)
		return nil, &errs.TransportError{Message: err.Error(), Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.Request(call.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &errs.TransportError{Message: "read response: " + err.Error(), Timeout: isTimeout(err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &errs.TransportError{Status: resp.StatusCode, Message: errorMessage(data)}
		c.logger.Debug("request rejected",
			logfield.Method, call.Method, logfield.Path, call.Path, logfield.RequestID, reqID, logfield.Status, resp.StatusCode)
		return nil, te
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// errorMessage extracts the server's message from {"message": ...} or
// {"error": ...}, falling back to the trimmed body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
