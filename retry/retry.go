package retry

import (
	"context"
	"slices"
	"time"

	"github.com/Keksclan/dishsync/errs"
)

// Config controls the retry behaviour of [Do].
type Config struct {
	// MaxAttempts is the maximum number of times fn is called (including the
	// first attempt). Values ≤ 1 mean no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Subsequent retries use
	// exponential back-off: BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed back-off delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds randomness to the delay. A value of 0.2 means ±20 % of
	// the computed delay. Zero disables jitter.
	Jitter float64

	// RetryStatuses lists additional HTTP status codes worth retrying on top
	// of the ones errs.TransportError.Temporary reports.
	RetryStatuses []int

	// Retryable overrides the classification entirely when set.
	Retryable func(error) bool
}

// Default is a conservative policy for idempotent reads.
var Default = Config{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	Jitter:      0.2,
}

// retryable reports whether err should be retried under cfg.
func (cfg Config) retryable(err error) bool {
	if cfg.Retryable != nil {
		return cfg.Retryable(err)
	}
	te, ok := errs.AsTransport(err)
	if !ok {
		return false
	}
	return te.Temporary() || slices.Contains(cfg.RetryStatuses, te.Status)
}

// Do calls fn up to cfg.MaxAttempts times, retrying only errors classified
// as retryable. Between attempts an exponential back-off delay (with
// optional jitter) is applied.
//
// The context is checked before every retry; if ctx is done the function
// returns immediately with the context error.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for i := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if i == attempts-1 || !cfg.retryable(err) {
			return zero, err
		}

		timer := time.NewTimer(backoff(cfg, i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, nil
}
