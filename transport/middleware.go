package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Keksclan/dishsync/breaker"
	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/internal/logfield"
	"github.com/Keksclan/dishsync/policy"
	"github.com/Keksclan/dishsync/ratelimit"
	"github.com/Keksclan/dishsync/retry"
	"github.com/Keksclan/dishsync/tracing"
)

// Recovery turns a panic in an inner middleware into a TransportError.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Doer) Doer {
		return func(ctx context.Context, call *Call) (data []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("request panicked", logfield.Method, call.Method, logfield.Path, call.Path, "panic", r)
					data = nil
					err = &errs.TransportError{Message: fmt.Sprintf("request panicked: %v", r)}
				}
			}()
			return next(ctx, call)
		}
	}
}

// Tracing wraps the whole request, retries included, in a client span.
func Tracing(cfg *tracing.TracingConfig) Middleware {
	return func(next Doer) Doer {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			ctx, span := tracing.StartRequest(ctx, cfg, call.Method, call.Path, call.Header)
			data, err := next(ctx, call)
			status := 0
			if te, ok := errs.AsTransport(err); ok {
				status = te.Status
			}
			tracing.End(span, status, err)
			return data, err
		}
	}
}

// RateLimit waits for a token before each request. Requests in a group with
// a RateLimit rule use that group's bucket; all others use global, which
// may be nil for no limit.
func RateLimit(global *ratelimit.Limiter, res *policy.Resolver) Middleware {
	groups := ratelimit.NewSet()
	limiterFor := func(call *Call) *ratelimit.Limiter {
		if _, pol, ok := res.Resolve(call.Path); ok && pol != nil && pol.RateLimit != nil {
			rps, burst := pol.RateLimit.Limit()
			return groups.Get(call.Group, rps, burst)
		}
		return global
	}
	return func(next Doer) Doer {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			if l := limiterFor(call); l != nil {
				if err := l.Wait(ctx); err != nil {
					return nil, &errs.TransportError{
						Message: "rate limited: " + err.Error(),
						Timeout: true,
						Err:     err,
					}
				}
			}
			return next(ctx, call)
		}
	}
}

// Breaker fails fast while b is open.
func Breaker(b *breaker.Breaker) Middleware {
	return func(next Doer) Doer {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			var data []byte
			err := b.Execute(func() error {
				var err error
				data, err = next(ctx, call)
				return err
			})
			if errors.Is(err, breaker.ErrOpen) {
				return nil, &errs.TransportError{Message: err.Error(), Err: err}
			}
			return data, err
		}
	}
}

// Retry retries idempotent requests with cfg unless the path's policy
// overrides or disables it.
func Retry(cfg retry.Config, res *policy.Resolver, logger *slog.Logger) Middleware {
	return func(next Doer) Doer {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			if !idempotent(call.Method) {
				return next(ctx, call)
			}
			c := cfg
			if _, pol, ok := res.Resolve(call.Path); ok && pol != nil {
				if pol.NoRetry {
					return next(ctx, call)
				}
				if pol.Retry != nil {
					c = *pol.Retry
				}
			}
			attempt := 0
			return retry.Do(ctx, c, func(ctx context.Context) ([]byte, error) {
				attempt++
				if attempt > 1 {
					logger.Debug("retrying request", logfield.Method, call.Method, logfield.Path, call.Path, logfield.Attempt, attempt)
				}
				return next(ctx, call)
			})
		}
	}
}

// Timeout bounds each attempt by the path's policy timeout, or by def when
// no policy sets one. Zero means no bound.
func Timeout(def time.Duration, res *policy.Resolver) Middleware {
	return func(next Doer) Doer {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			d := def
			if _, pol, ok := res.Resolve(call.Path); ok && pol != nil && pol.Timeout > 0 {
				d = pol.Timeout
			}
			if d <= 0 {
				return next(ctx, call)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, call)
		}
	}
}
