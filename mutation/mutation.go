// Package mutation runs optimistic mutations against the resource cache.
//
// For every mutation the pipeline cancels conflicting reads, snapshots the
// affected entries, applies the optimistic transform, calls the remote
// operation and then either stores server truth and invalidates dependent
// views, or restores the snapshot exactly and returns the failure. In both
// cases dependent views are refreshed in the background shortly after.
package mutation

import (
	"context"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
)

// Status is the lifecycle state of a pending mutation.
type Status int

const (
	Idle Status = iota
	Optimistic
	Settling
	Done
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Optimistic:
		return "optimistic"
	case Settling:
		return "settling"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Transform computes the optimistic payload for key from its current payload
// (nil when nothing is cached). Returning current unchanged is a no-op;
// returning nil for a cached key clears its data. An error or panic leaves
// the key untouched.
type Transform func(key cachekey.Key, current []byte) ([]byte, error)

// Reconcile computes what to store under key once the remote operation
// returned authoritative. A nil result for a key with no data is a no-op.
type Reconcile func(key cachekey.Key, current, authoritative []byte) ([]byte, error)

// Mutation describes one optimistic change.
type Mutation struct {
	// Name identifies the operation in logs, spans and metrics.
	Name string

	// Resource selects the invalidation graph row consulted at settle time.
	Resource cachekey.Resource

	// ID is the mutated entity. For creates it is the temp id.
	ID string

	// SettledID optionally extracts the server id from the authoritative
	// payload so dependents are resolved against it instead of ID.
	SettledID func(authoritative []byte) string

	// Keys are the exact cache keys the optimistic transform touches.
	Keys []cachekey.Key

	// Optimistic predicts the result. Nil means no optimistic update.
	Optimistic Transform

	// Remote performs the change and returns the authoritative payload.
	Remote func(ctx context.Context) ([]byte, error)

	// Reconcile places the authoritative payload into each key. Nil stores
	// it verbatim under every key.
	Reconcile Reconcile
}

// Pending is the inspection view of an in-flight mutation.
type Pending struct {
	ID           string
	Name         string
	Resource     cachekey.Resource
	AffectedKeys []cachekey.Key
	Snapshot     cache.Snapshot
	Status       Status
}
