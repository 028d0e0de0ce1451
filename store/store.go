// Package store provides the durable key-value contract used for small local
// collections, with in-memory, Redis, SQLite and ristretto-tiered
// implementations.
//
// A Store has no transactions. Callers that read-modify-write a key must
// serialize themselves; see package local.
package store

import "context"

// Store is a durable key to JSON-payload mapping.
type Store interface {
	// Get returns the payload stored under key. The boolean is false when the
	// key does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set replaces the payload stored under key.
	Set(ctx context.Context, key string, val []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
