// Package ratelimit provides token-bucket limiters backed by
// golang.org/x/time/rate that throttle outgoing API requests, one bucket per
// policy group.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter that gates outgoing requests.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that permits rps requests per second with the
// given burst size.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a single request may proceed right now.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// Wait blocks until a request may proceed or ctx is done. It fails
// immediately when ctx's deadline would expire before a token is available.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Set holds one Limiter per name, created on first use.
type Set struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{limiters: make(map[string]*Limiter)}
}

// Get returns the limiter for name, creating it with rps and burst if it
// does not exist yet. Later calls ignore rps and burst.
func (s *Set) Get(name string, rps float64, burst int) *Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[name]
	if !ok {
		l = NewLimiter(rps, burst)
		s.limiters[name] = l
	}
	return l
}
