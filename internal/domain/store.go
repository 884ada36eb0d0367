package domain

import "time"

// CacheEntry is a cached progress value with its freshness state.
type CacheEntry struct {
	Progress  UserProgressData `json:"progress"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Stale     bool             `json:"stale"`
}

// Store is the query cache (memory + optional BoltDB).
// It owns its own locking; callers never synchronize around it.
type Store interface {
	// Get returns the entry for key, stale or not
	Get(key string) (CacheEntry, bool)

	// Save stores a freshly fetched value and clears the stale flag
	Save(key string, progress UserProgressData) error

	// Invalidate marks the entry stale so the next read refetches.
	// Data is kept for display until the refetch lands.
	Invalidate(key string)

	// IsFetching reports whether a fetch for key is in flight
	IsFetching(key string) bool

	// SetFetching records the start (true) or end (false) of a fetch for key
	SetFetching(key string, fetching bool)

	// InvalidateAll drops every entry, memory and disk
	InvalidateAll() error
	Close() error
}
