package cache

import (
	"bytes"
	"time"

	"github.com/Keksclan/dishsync/cachekey"
)

// Entry is a copy of what the cache holds for one key. Data is the JSON
// encoding of the cached value; nil means undefined.
type Entry struct {
	Data              []byte
	FetchedAt         time.Time
	StaleAfter        time.Duration
	InFlightRequestID string
	Invalidated       bool
}

// IsStale reports whether the entry must be refetched rather than trusted.
func (e Entry) IsStale(now time.Time) bool {
	if e.Invalidated || e.Data == nil {
		return true
	}
	return e.StaleAfter > 0 && now.Sub(e.FetchedAt) >= e.StaleAfter
}

func (e Entry) clone() Entry {
	e.Data = bytes.Clone(e.Data)
	return e
}

// entry is the cache-owned record behind a key. stored is false for entries
// that only exist because someone subscribed or a fetch is pending.
type entry struct {
	Entry
	stored bool

	// gen changes whenever a write or cancellation makes outstanding reads
	// obsolete.
	gen      uint64
	lastUsed time.Time

	fetch         Fetcher
	subs          map[uint64]func(Entry)
	refetchQueued bool
	// refetchAgain asks the running background refetch for one more round.
	refetchAgain bool
}

// Snapshot is an exact copy of a set of entries, including their absence,
// taken with Cache.Snapshot and applied with Cache.Restore.
type Snapshot struct {
	entries map[cachekey.Key]snapshotEntry
}

type snapshotEntry struct {
	entry   Entry
	present bool
}

// Keys returns the keys captured by the snapshot.
func (s Snapshot) Keys() []cachekey.Key {
	out := make([]cachekey.Key, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// Entry returns the captured entry for k. The boolean is false when k was
// absent at snapshot time or not captured.
func (s Snapshot) Entry(k cachekey.Key) (Entry, bool) {
	se, ok := s.entries[k]
	if !ok || !se.present {
		return Entry{}, false
	}
	return se.entry.clone(), true
}
