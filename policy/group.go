// Package policy maps API request paths to per-group transport policies:
// timeout, rate limit and retry.
package policy

import (
	"regexp"
	"time"

	"github.com/Keksclan/dishsync/retry"
)

// RateLimitRule describes a rate-limiting policy for a group of paths.
type RateLimitRule struct {
	// Rate is the maximum number of requests allowed within Window.
	Rate int
	// Window is the time window for the rate limit.
	Window time.Duration
}

// Limit converts the rule into token-bucket parameters: the refill rate in
// requests per second and a burst equal to Rate.
func (r RateLimitRule) Limit() (rps float64, burst int) {
	if r.Window <= 0 || r.Rate <= 0 {
		return 0, 0
	}
	return float64(r.Rate) / r.Window.Seconds(), r.Rate
}

// Policy holds the transport configuration that applies to a matched group.
type Policy struct {
	RateLimit *RateLimitRule
	Timeout   time.Duration

	// Retry overrides the client's retry configuration for idempotent
	// requests in this group.
	Retry *retry.Config

	// NoRetry disables retries for the group entirely.
	NoRetry bool
}

// matchKind distinguishes the three matching strategies.
type matchKind int

const (
	kindExact  matchKind = iota // highest priority
	kindPrefix                  // medium priority
	kindRegex                   // lowest priority
)

// rule is a single matching rule inside a group.
type rule struct {
	kind    matchKind
	pattern string         // used for exact and prefix matches
	re      *regexp.Regexp // used for regex matches
}

// GroupBuilder constructs a path group with one or more matching rules and
// a policy.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts building a new path group with the given name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact adds an exact-match rule for pattern.
func (g *GroupBuilder) Exact(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Prefix adds a prefix-match rule for pattern.
func (g *GroupBuilder) Prefix(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Regex adds a regex-match rule for pattern.
// The pattern is compiled immediately; an invalid regex will panic.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return g
}

// Policy attaches a Policy to the group and returns the finished builder.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
