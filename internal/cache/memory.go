package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 32

// memoryStore keeps entries in sharded maps so unrelated keys never contend
// on one lock. Each shard enforces its slice of the capacity ceiling by
// evicting the entry closest to (or past) expiry.
type memoryStore struct {
	shards   [memoryShards]*memoryShard
	capacity int
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewMemory builds an in-memory store. capacity caps the total number of
// retained entries; zero or negative means unbounded. The ceiling is
// approximate: it is split evenly across the 32 shards with a floor of one
// entry per shard, so the effective limit quantizes to shard granularity
// and never drops below the shard count.
func NewMemory(capacity int) Store {
	s := &memoryStore{capacity: capacity}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[Key]Entry)}
	}
	return s
}

func (s *memoryStore) shard(key Key) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShards]
}

func (s *memoryStore) Read(_ context.Context, key Key) (Entry, bool, error) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	entry, ok := sh.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (s *memoryStore) Write(_ context.Context, entry Entry) error {
	sh := s.shard(entry.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s.capacity > 0 {
		perShard := s.capacity / memoryShards
		if perShard < 1 {
			perShard = 1
		}
		if _, exists := sh.entries[entry.Key]; !exists && len(sh.entries) >= perShard {
			sh.evictLocked()
		}
	}
	sh.entries[entry.Key] = cloneEntry(entry)
	return nil
}

// evictLocked drops the entry nearest to expiry. Entries with a freshness
// deadline go before force-cache entries; among force-cache entries the
// oldest goes first.
func (sh *memoryShard) evictLocked() {
	var victim Key
	var victimUntil, victimCreated time.Time
	found := false
	for key, entry := range sh.entries {
		if !found {
			victim, victimUntil, victimCreated = key, entry.FreshUntil, entry.CreatedAt
			found = true
			continue
		}
		switch {
		case victimUntil.IsZero() && !entry.FreshUntil.IsZero():
			victim, victimUntil, victimCreated = key, entry.FreshUntil, entry.CreatedAt
		case victimUntil.IsZero() && entry.FreshUntil.IsZero() && entry.CreatedAt.Before(victimCreated):
			victim, victimUntil, victimCreated = key, entry.FreshUntil, entry.CreatedAt
		case !victimUntil.IsZero() && !entry.FreshUntil.IsZero() && entry.FreshUntil.Before(victimUntil):
			victim, victimUntil, victimCreated = key, entry.FreshUntil, entry.CreatedAt
		}
	}
	if found {
		delete(sh.entries, victim)
	}
}

func (s *memoryStore) Remove(_ context.Context, key Key) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
	return nil
}

func (s *memoryStore) MarkStale(_ context.Context, keys []Key, at time.Time) error {
	for _, key := range keys {
		sh := s.shard(key)
		sh.mu.Lock()
		if entry, ok := sh.entries[key]; ok {
			entry.FreshUntil = at
			sh.entries[key] = entry
		}
		sh.mu.Unlock()
	}
	return nil
}

func (s *memoryStore) Len(_ context.Context) (int64, error) {
	var total int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += int64(len(sh.entries))
		sh.mu.RUnlock()
	}
	return total, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	return nil
}
