// Package breaker provides a minimal, thread-safe circuit breaker guarding
// the remote API.
//
// States:
//   - Closed: requests flow normally; consecutive failures are counted.
//   - Open: requests fail fast with ErrOpen; after OpenTimeout the breaker
//     moves to HalfOpen.
//   - HalfOpen: up to HalfOpenMaxSuccess probes are let through at a time;
//     that many consecutive successes close the breaker, any failure
//     reopens it.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/Keksclan/dishsync/errs"
)

// ErrOpen is returned by Execute while the breaker rejects requests.
var ErrOpen = errors.New("breaker: circuit open")

// State represents the current circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed state
	// before the breaker trips to Open.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays Open before transitioning
	// to HalfOpen.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccess is the number of consecutive successes required in
	// HalfOpen state to close the breaker again.
	HalfOpenMaxSuccess int

	// IsFailure decides whether an error counts against the breaker. The
	// default counts only server-side trouble: network errors, timeouts and
	// temporary statuses. A 4xx response means the server is healthy.
	IsFailure func(error) bool

	// OnStateChange, when set, is called after every transition with the
	// breaker lock released.
	OnStateChange func(from, to State)
}

// DefaultConfig trips after five consecutive failures and probes again
// after ten seconds.
var DefaultConfig = Config{
	FailureThreshold:   5,
	OpenTimeout:        10 * time.Second,
	HalfOpenMaxSuccess: 1,
}

// Breaker is a minimal circuit breaker. All methods are safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state     State
	failures  int // consecutive failures in Closed
	successes int // consecutive successes in HalfOpen
	probes    int // requests let through in HalfOpen and not yet reported
	openedAt  time.Time
	nowFunc   func() time.Time // for testing; defaults to time.Now
}

// New creates a Breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.HalfOpenMaxSuccess <= 0 {
		cfg.HalfOpenMaxSuccess = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = serverFailure
	}
	return &Breaker{
		cfg:     cfg,
		state:   Closed,
		nowFunc: time.Now,
	}
}

func serverFailure(err error) bool {
	te, ok := errs.AsTransport(err)
	if !ok {
		return false
	}
	return te.Temporary() || te.Status >= 500
}

// State returns the current state of the breaker. In Open state it may
// auto-transition to HalfOpen if the timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from := b.state
	b.checkOpenTimeout()
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return to
}

// Allow reports whether a request may go through and, if so, reserves a
// probe slot in HalfOpen. Every allowed request must be followed by exactly
// one OnSuccess or OnFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	b.checkOpenTimeout()
	to := b.state

	var ok bool
	switch b.state {
	case Closed:
		ok = true
	case HalfOpen:
		if b.successes+b.probes < b.cfg.HalfOpenMaxSuccess {
			b.probes++
			ok = true
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
	return ok
}

// OnSuccess records a successful request.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.probes = max(b.probes-1, 0)
		b.successes++
		if b.successes >= b.cfg.HalfOpenMaxSuccess {
			b.state = Closed
			b.failures = 0
			b.successes = 0
			b.probes = 0
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// OnFailure records a failed request.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	case HalfOpen:
		b.toOpen()
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Execute runs fn if the breaker allows it and records the outcome. Errors
// that IsFailure rejects are returned but count as a healthy response.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && b.cfg.IsFailure(err) {
		b.OnFailure()
	} else {
		b.OnSuccess()
	}
	return err
}

// checkOpenTimeout transitions from Open to HalfOpen when the timeout has
// elapsed. Must be called with b.mu held.
func (b *Breaker) checkOpenTimeout() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.state = HalfOpen
		b.successes = 0
		b.probes = 0
	}
}

func (b *Breaker) toOpen() {
	b.state = Open
	b.openedAt = b.now()
	b.successes = 0
	b.probes = 0
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

func (b *Breaker) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}
