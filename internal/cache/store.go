package cache

import (
	"context"
	"time"
)

// Store is the persistent, cross-request side of the engine. Implementations
// must be safe for concurrent use and must replace entries atomically with
// respect to concurrent readers: a reader never observes a half-updated entry.
//
// Stale entries are retained, not dropped. The revalidation coordinator is the
// only component that decides when a stale entry stops being served.
type Store interface {
	// Read returns the entry for key, reporting false when absent.
	Read(ctx context.Context, key Key) (Entry, bool, error)

	// Write stores the entry, replacing any previous entry for the key.
	Write(ctx context.Context, entry Entry) error

	// Remove deletes the entry. Idempotent, no error on miss.
	Remove(ctx context.Context, key Key) error

	// MarkStale moves FreshUntil to the given instant for every listed key
	// that is present, leaving values untouched. Missing keys are skipped.
	MarkStale(ctx context.Context, keys []Key, at time.Time) error

	// Len reports the number of stored entries.
	Len(ctx context.Context) (int64, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}
