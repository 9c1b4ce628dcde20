// Package entrypool implements spec components A and D: the Entry handle,
// its recycling pool, and the doubly-linked insertion-order chain the pool
// is threaded through.
//
// © 2025 segcache authors. MIT License.
package entrypool

import (
	"math"
	"sync/atomic"
)

// unsetAccessTime is the "never accessed" sentinel: conceptually +∞, so the
// comparison `accessTime <= accessThreshold` used by the eviction
// coordinator is always false for an entry nobody has read yet.
const unsetAccessTime = math.MaxInt64

// unsetCreationTime marks an entry that hasn't been published by a Put yet
// (still sitting in the reservoir, or freshly spliced back into it).
const unsetCreationTime = 0

// Entry is the handle held in one leaf table slot and threaded through the
// insertion-order chain. It fits the contract of spec §4.A: key, value,
// cached hash, access/creation timestamps, and chain navigation.
//
// value, accessTime and creationTime are read by lock-free readers
// (GetIfPresent, the eviction sweep) concurrently with a single writer
// updating them, so they go through atomics — the same "benign race, last
// writer wins" the spec calls out for access-time updates (spec §5), done
// the idiomatic Go way instead of leaving it a real data race.
type Entry[K comparable, V any] struct {
	key     K
	keyHash int32
	value   atomic.Pointer[V]

	accessTime   atomic.Int64
	creationTime atomic.Int64

	next, prev *Entry[K, V]
}

// Key returns the entry's key. Immutable after the entry is published by a
// Put, so it needs no synchronization.
func (e *Entry[K, V]) Key() K { return e.key }

// KeyHash returns the cached hash computed at insertion time.
func (e *Entry[K, V]) KeyHash() int32 { return e.keyHash }

// Value returns the currently published value.
func (e *Entry[K, V]) Value() V {
	if p := e.value.Load(); p != nil {
		return *p
	}
	var zero V
	return zero
}

// SetValue publishes a new value. Concurrent overwrites of the same entry
// race harmlessly: the last store wins and no reader ever observes a torn
// value, since V is always accessed through the boxed pointer.
func (e *Entry[K, V]) SetValue(v V) {
	val := v
	e.value.Store(&val)
}

// AccessTime returns the last-access timestamp, or the "never accessed"
// sentinel.
func (e *Entry[K, V]) AccessTime() int64 { return e.accessTime.Load() }

// SetAccessTime records tick t as the entry's last access.
func (e *Entry[K, V]) SetAccessTime(t int64) { e.accessTime.Store(t) }

// CreationTime returns the tick the entry was (most recently) published at.
func (e *Entry[K, V]) CreationTime() int64 { return e.creationTime.Load() }

// SetCreationTime records tick t as the entry's creation time.
func (e *Entry[K, V]) SetCreationTime(t int64) { e.creationTime.Store(t) }

// Next and Prev expose chain navigation for callers that walk the
// insertion-order list directly (the eviction coordinator).
func (e *Entry[K, V]) Next() *Entry[K, V] { return e.next }
func (e *Entry[K, V]) Prev() *Entry[K, V] { return e.prev }

// reset clears a removed entry's fields before it re-enters the reservoir,
// matching spec §4.A's pool protocol ("resets its key/value to 'unset', its
// creation-time to 0, and its access-time to the '+∞' sentinel").
func (e *Entry[K, V]) reset() {
	var zeroKey K
	e.key = zeroKey
	e.value.Store(nil)
	e.keyHash = 0
	e.creationTime.Store(unsetCreationTime)
	e.accessTime.Store(unsetAccessTime)
}

// publish turns a reservoir entry into a live one.
func (e *Entry[K, V]) publish(key K, keyHash int32, value V) {
	e.key = key
	e.keyHash = keyHash
	e.SetValue(value)
}
