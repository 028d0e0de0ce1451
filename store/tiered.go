package store

import (
	"bytes"
	"context"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// Tiered puts an in-process ristretto cache in front of a slower backing
// Store. Writes go to the backing store first and then to L1, so L1 never
// holds a payload the backing store rejected. Ristretto may drop entries at
// any time; a miss simply falls through to the backing store.
//
// Tiered is only coherent while every write to the backing keys goes through
// it.
type Tiered struct {
	l1      *ristretto.Cache[string, []byte]
	backing Store

	// mu orders L1 promotions against writes. writes moves both before and
	// after every backing write, so a read only promotes its payload when no
	// write started or finished while it was loading.
	mu     sync.Mutex
	writes uint64
}

// NewTiered creates a tiered store. maxCost bounds the number of payloads
// kept in L1 (each entry has a cost of 1).
func NewTiered(backing Store, maxCost int64) (*Tiered, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Tiered{l1: rc, backing: backing}, nil
}

// Get checks L1, then the backing store. A backing hit is promoted into L1.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := t.l1.Get(key); ok {
		return bytes.Clone(v), true, nil
	}
	t.mu.Lock()
	seen := t.writes
	t.mu.Unlock()

	v, ok, err := t.backing.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	t.mu.Lock()
	if t.writes == seen {
		t.l1.Set(key, bytes.Clone(v), 1)
		t.l1.Wait()
	}
	t.mu.Unlock()
	return v, true, nil
}

// beginWrite invalidates reads that are loading from the backing store.
func (t *Tiered) beginWrite(key string) {
	t.mu.Lock()
	t.writes++
	t.l1.Del(key)
	t.mu.Unlock()
}

// Set writes the payload to the backing store, then to L1.
func (t *Tiered) Set(ctx context.Context, key string, val []byte) error {
	t.beginWrite(key)
	err := t.backing.Set(ctx, key, val)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes++
	if err != nil {
		// The backing store may or may not hold val now.
		t.l1.Del(key)
		return err
	}
	t.l1.Set(key, bytes.Clone(val), 1)
	t.l1.Wait()
	return nil
}

// Remove deletes key from both layers.
func (t *Tiered) Remove(ctx context.Context, key string) error {
	t.beginWrite(key)
	err := t.backing.Remove(ctx, key)

	t.mu.Lock()
	t.writes++
	t.l1.Del(key)
	t.mu.Unlock()
	return err
}

// Close releases the L1 cache.
func (t *Tiered) Close() {
	t.l1.Close()
}
