// Package services – per-user serialization.
//
// This file implements a lightweight, in-memory keyed mutex with per-user
// entries and opportunistic garbage collection. It exists because the quota
// check-then-increment must be atomic per user against concurrent deliveries
// of the same user's messages (e.g., duplicate webhook retries), while
// requests from different users must never contend with each other.
//
// Notes:
//   - The lock table is process-local. For horizontally scaled deployments,
//     prefer a distributed lock or single-writer queue keyed by user ID.
//   - Hold times are expected to be short (a read-modify-write of the
//     counter), never an entire response pipeline.
package services

import (
	"sync"
	"time"
)

// userLock holds a single mutex and bookkeeping for eviction.
type userLock struct {
	mu       sync.Mutex
	lastSeen time.Time
	refs     int
}

// KeyedMutex provides mutual exclusion scoped to a user identifier.
//
// Entries are created on demand and stored in an internal map guarded by a
// mutex. Idle entries are evicted after a TTL via opportunistic cleanup
// during lookups to keep memory usage bounded.
//
// This type is safe for concurrent use.
type KeyedMutex struct {
	mu       sync.Mutex
	locks    map[int64]*userLock
	ttl      time.Duration
	cleanupN uint64
}

// NewKeyedMutex constructs a KeyedMutex with a 10-minute idle TTL.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[int64]*userLock),
		ttl:   10 * time.Minute,
	}
}

// Lock acquires the mutex for key and returns the corresponding unlock
// function. Callers must invoke the returned function exactly once.
func (k *KeyedMutex) Lock(key int64) func() {
	now := time.Now()

	k.mu.Lock()
	// Opportunistic cleanup after a threshold of lookups, then reset the
	// counter. Entries with live holders (refs > 0) are never evicted.
	k.cleanupN++
	if k.cleanupN >= 5000 {
		for id, l := range k.locks {
			if l.refs == 0 && now.Sub(l.lastSeen) >= k.ttl {
				delete(k.locks, id)
			}
		}
		k.cleanupN = 0
	}

	l, ok := k.locks[key]
	if !ok {
		l = &userLock{}
		k.locks[key] = l
	}
	l.refs++
	l.lastSeen = now
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		l.lastSeen = time.Now()
		k.mu.Unlock()
	}
}
