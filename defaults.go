package dishsync

import (
	"github.com/Keksclan/dishsync/breaker"
	"github.com/Keksclan/dishsync/policy"
	"github.com/Keksclan/dishsync/transport"
)

// DefaultOptions returns the recommended set of options for production use:
// the background cache janitor, the built-in per-path policies and a
// circuit breaker in front of the API.
func DefaultOptions() []Option {
	return []Option{
		WithJanitor(),
		WithTransportOptions(
			transport.WithPolicies(policy.Default()),
			transport.WithBreaker(breaker.DefaultConfig),
		),
	}
}
