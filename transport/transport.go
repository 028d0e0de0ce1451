// Package transport implements the remote API contract the feature services
// depend on: JSON requests against the dishsync REST API.
//
// Requests pass through an ordered middleware chain (tracing, rate limit,
// circuit breaker, retry, per-path timeout) before reaching the HTTP client.
// Every failure surfaces as *errs.TransportError.
package transport

import (
	"context"
	"net/http"
)

// Requester is the remote transport contract. body is encoded as JSON when
// non-nil; the raw response body is returned on 2xx.
type Requester interface {
	Request(ctx context.Context, method, path string, body any) ([]byte, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, method, path string, body any) ([]byte, error)

func (f RequesterFunc) Request(ctx context.Context, method, path string, body any) ([]byte, error) {
	return f(ctx, method, path, body)
}

// Call is one outgoing request as seen by middleware.
type Call struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header

	// Group is the policy group Path resolved to, empty when none matched.
	Group string
}

// Doer performs a Call.
type Doer func(ctx context.Context, call *Call) ([]byte, error)

// Middleware transforms a Doer, allowing pre/post behavior composition.
type Middleware func(Doer) Doer

// Chain composes middlewares from left to right, i.e. Chain(A, B)(d) => A(B(d)).
func Chain(mw ...Middleware) Middleware {
	return func(next Doer) Doer {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// Built-in middleware order. Lower values run first (outermost).
const (
	OrderRecovery  = 0
	OrderTracing   = 100
	OrderRateLimit = 200
	OrderBreaker   = 300
	OrderRetry     = 400
	OrderTimeout   = 500
)

// idempotent reports whether a request with method may be sent twice.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
