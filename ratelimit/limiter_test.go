package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Keksclan/dishsync/ratelimit"
)

func TestLimiter_AllowUnderLimit(t *testing.T) {
	// burst=5 means the first 5 calls must succeed.
	l := ratelimit.NewLimiter(1, 5)
	for i := range 5 {
		if !l.Allow() {
			t.Fatalf("expected Allow() == true for request %d", i)
		}
	}
}

func TestLimiter_BlocksWhenBurstExhausted(t *testing.T) {
	l := ratelimit.NewLimiter(0.001, 2)
	l.Allow()
	l.Allow()

	if l.Allow() {
		t.Fatal("expected Allow() == false after burst exhausted")
	}
}

func TestLimiter_WaitHonoursDeadline(t *testing.T) {
	l := ratelimit.NewLimiter(0.001, 1)
	if err := l.Wait(t.Context()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected Wait to fail when no token arrives before the deadline")
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	l := ratelimit.NewLimiter(0.001, 1)
	l.Allow()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestSet_OneLimiterPerName(t *testing.T) {
	s := ratelimit.NewSet()
	a := s.Get("search", 1, 1)
	if a != s.Get("search", 100, 100) {
		t.Fatal("expected the same limiter for the same name")
	}
	if a == s.Get("mutations", 1, 1) {
		t.Fatal("expected distinct limiters for distinct names")
	}

	a.Allow()
	if a.Allow() {
		t.Fatal("expected the search bucket to be exhausted")
	}
	if !s.Get("mutations", 1, 1).Allow() {
		t.Fatal("expected the mutations bucket to be independent")
	}
}
