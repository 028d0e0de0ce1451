package policy

import (
	"strings"
	"time"
)

// Resolver holds a set of path groups and resolves a request path to the
// best-matching group and its policy.
type Resolver struct {
	groups []*GroupBuilder
}

// NewResolver creates a Resolver from the supplied group builders.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve finds the best-matching group for path. Any query string is
// ignored.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat regex matches.
//   - Among matches of the same kind the longer match wins.
//   - When two matches have equal kind and length the group that was
//     registered first wins.
//
// If no group matches, ok is false.
func (res *Resolver) Resolve(path string) (groupName string, pol *Policy, ok bool) {
	if res == nil {
		return "", nil, false
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	bestKind := matchKind(-1)
	bestLen := -1

	for _, g := range res.groups {
		for _, r := range g.rules {
			matched, mLen := r.match(path)
			if !matched {
				continue
			}
			better := bestKind < 0 ||
				r.kind < bestKind ||
				(r.kind == bestKind && mLen > bestLen)
			if better {
				bestKind = r.kind
				bestLen = mLen
				groupName = g.name
				pol = g.policy
				ok = true
			}
		}
	}
	return groupName, pol, ok
}

// Default returns the groups used against the dishsync API. Search is
// throttled and never retried since the next keystroke supersedes it.
// Notification polling gets a short timeout.
func Default() *Resolver {
	return NewResolver(
		Group("search").
			Prefix("/recipes/search").
			Policy(Policy{
				Timeout:   10 * time.Second,
				RateLimit: &RateLimitRule{Rate: 5, Window: time.Second},
				NoRetry:   true,
			}),
		Group("notifications").
			Prefix("/notifications").
			Policy(Policy{Timeout: 5 * time.Second}),
		Group("dishlists").
			Prefix("/dishlists").
			Policy(Policy{Timeout: 15 * time.Second}),
		Group("recipes").
			Prefix("/recipes").
			Policy(Policy{Timeout: 15 * time.Second}),
	)
}
