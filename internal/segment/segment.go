// Package segment implements spec component C: the segmented
// open-addressed hash table. A Segment is either a leaf (an open-addressed
// table of entries) or, once it has split, an inner node that routes to a
// fixed fan-out of child segments by hash bits. The distinction is a single
// atomic.Bool flag rather than an interface or embedding, so that the
// "leaf becomes inner" transition can be published with a single fenced
// store instead of swapping the node's identity inside its parent's
// children array (spec Design Notes §9: "prefer an explicit variant").
//
// Every exported method that only reads (Get, Size, Diagnostics) is safe to
// call from any number of goroutines without synchronization. Every method
// that changes structure (Upsert, Remove, RemoveEntry, and the unexported
// rebalance) assumes the caller
// already serialized writers — Cache (pkg component E) does that with its
// own mutex in shared mode, or simply by being the sole owner in unshared
// mode. Segment itself holds no lock.
//
// © 2025 segcache authors. MIT License.
package segment

import (
	"sync/atomic"

	"github.com/kestrelcache/segcache/internal/entrypool"
	"github.com/kestrelcache/segcache/internal/keycmp"
)

// Table-sizing constants, spec §4.C. All are powers of two.
const (
	B0 = 4       // bits consumed by the initial leaf table
	C0 = 1 << B0 // 16 — initial leaf length
	B1 = 10
	C1 = 1 << B1       // 1024 — a leaf doubles up to this length
	B2 = B1 - B0       // 6
	C2 = 1 << B2       // 64 — fan-out per split
	c2Mask = C2 - 1
)

// leafTable is the open-addressed slot array of a leaf segment. Each slot
// is empty (nil), the chain's tombstone sentinel, or a live *Entry.
type leafTable[K comparable, V any] []atomic.Pointer[entrypool.Entry[K, V]]

func newLeafTable[K comparable, V any](length int) *leafTable[K, V] {
	t := make(leafTable[K, V], length)
	return &t
}

// Ctx bundles the handful of cache-wide collaborators every segment in the
// tree needs: the comparator capability (component B), the shared
// insertion-order chain/pool (components A/D), whether the cache runs in
// shared mode, and a hook for reporting a degraded split. It's built once
// by the cache facade and never mutated afterwards, so segments can read it
// without synchronization.
type Ctx[K comparable, V any] struct {
	Cmp    *keycmp.Comparator[K]
	Chain  *entrypool.Chain[K, V]
	Shared bool

	// OnDegrade is invoked (never on the hot path) when a split detects a
	// pathologically skewed hash distribution and falls back to oversized
	// doubling (spec §4.C Rebalance step 3, §7 CapacityDegraded).
	OnDegrade func(leafLen int)
	// OnSplit is invoked after a successful split publishes useSubMaps.
	OnSplit func(keyShift uint)
}

// Segment is a node in the segment tree: a leaf table, or (once useSubMaps
// is observed true) an inner node routing to children.
type Segment[K comparable, V any] struct {
	ctx      *Ctx[K, V]
	keyShift uint

	// leaf state
	cur            atomic.Pointer[leafTable[K, V]]
	entryCount     atomic.Int64
	tombstoneCount atomic.Int64

	// inner state
	useSubMaps atomic.Bool
	children   [C2]*Segment[K, V]
}

// NewRoot constructs a fresh root leaf segment of the given table length
// (rounded by the caller to a power of two, spec §6 initialCapacity).
func NewRoot[K comparable, V any](ctx *Ctx[K, V], initialLen int) *Segment[K, V] {
	return newLeaf[K, V](ctx, 0, initialLen)
}

func newLeaf[K comparable, V any](ctx *Ctx[K, V], keyShift uint, length int) *Segment[K, V] {
	if length < C0 {
		length = C0
	}
	s := &Segment[K, V]{ctx: ctx, keyShift: keyShift}
	s.cur.Store(newLeafTable[K, V](length))
	return s
}

// route descends from s to the leaf responsible for keyHash, following
// useSubMaps/children snapshots. Safe for concurrent readers: useSubMaps is
// read with an atomic load and children is only read after observing it
// true, which happens-after the writer fully populated children (spec §5,
// §9 "Lock-free reads").
func (s *Segment[K, V]) route(keyHash int32) *Segment[K, V] {
	cur := s
	for cur.useSubMaps.Load() {
		idx := (uint32(keyHash) >> cur.keyShift) & c2Mask
		cur = cur.children[idx]
	}
	return cur
}

// Get performs spec §4.C getEntry: route, snapshot the leaf's table once,
// then probe linearly until an EMPTY slot or a matching live entry.
func (s *Segment[K, V]) Get(key K, keyHash int32) (*entrypool.Entry[K, V], bool) {
	leaf := s.route(keyHash)
	tbl := *leaf.cur.Load()
	mask := uint32(len(tbl) - 1)
	start := uint32(keyHash) >> leaf.keyShift
	tomb := leaf.ctx.Chain.Tombstone()
	for i := uint32(0); ; i++ {
		idx := (start + i) & mask
		e := tbl[idx].Load()
		if e == nil {
			return nil, false
		}
		if e == tomb {
			continue
		}
		if e.KeyHash() == keyHash && leaf.ctx.Cmp.AreEqual(e.Key(), key) {
			return e, true
		}
	}
}

// TryOverwrite performs the optimistic, lock-free-safe half of spec §4.C
// put: if key is already present it overwrites the value in place and
// returns the entry. It never takes the reservoir, never touches the
// chain, and never triggers a rebalance, so the caller may run it under a
// shared read-lock (or no lock at all in unshared mode) and escalate to
// Upsert only on a miss.
func (s *Segment[K, V]) TryOverwrite(key K, value V, keyHash int32) (*entrypool.Entry[K, V], bool) {
	e, ok := s.Get(key, keyHash)
	if !ok {
		return nil, false
	}
	e.SetValue(value)
	return e, true
}

// Upsert performs spec §4.C put in full: overwrite-in-place on a key match,
// otherwise consume a reservoir entry, publish it into the first
// tombstone-or-empty slot found by the probe, and rebalance if the leaf's
// load factor now exceeds 1/2. The caller must already hold exclusive
// access (the cache's mutex in shared mode; guaranteed by being the sole
// owner in unshared mode).
func (s *Segment[K, V]) Upsert(key K, value V, keyHash int32) *entrypool.Entry[K, V] {
	leaf := s.route(keyHash)
	tbl := *leaf.cur.Load()
	mask := uint32(len(tbl) - 1)
	start := uint32(keyHash) >> leaf.keyShift
	tomb := leaf.ctx.Chain.Tombstone()

	firstTombstone := -1
	for i := uint32(0); ; i++ {
		idx := int((start + i) & mask)
		e := tbl[idx].Load()
		if e == nil {
			insertSlot := idx
			if firstTombstone != -1 {
				insertSlot = firstTombstone
			}
			return leaf.insertAt(tbl, insertSlot, key, value, keyHash)
		}
		if e == tomb {
			if firstTombstone == -1 {
				firstTombstone = idx
			}
			continue
		}
		if e.KeyHash() == keyHash && leaf.ctx.Cmp.AreEqual(e.Key(), key) {
			e.SetValue(value)
			return e
		}
	}
}

// insertAt consumes a reservoir entry, publishes it into slot, then makes
// the new entry visible to lock-free readers before the live count is
// bumped (spec §4.C put steps 4-7: "increment entryCount using a write
// that prevents reordering with the slot-store"). Go's atomic package
// gives every atomic op a place in one global synchronizes-before order,
// so storing the slot before incrementing the counter — both on this same
// goroutine — guarantees a reader that observes the new count also
// observes the new slot.
func (s *Segment[K, V]) insertAt(tbl leafTable[K, V], slot int, key K, value V, keyHash int32) *entrypool.Entry[K, V] {
	wasTombstone := tbl[slot].Load() == s.ctx.Chain.Tombstone()
	ent := s.ctx.Chain.Take(key, keyHash, value)
	tbl[slot].Store(ent)
	s.entryCount.Add(1)
	if wasTombstone {
		s.tombstoneCount.Add(-1)
	}
	if s.entryCount.Load()+s.tombstoneCount.Load() > int64(len(tbl)/2) {
		s.rebalance()
	}
	return ent
}

// Remove performs spec §4.C remove: route, probe, and on a match splice the
// entry out of the insertion-order chain, publish a tombstone in its slot,
// and update the leaf counters. Returns the removed value. The caller must
// already hold exclusive access, same as Upsert.
func (s *Segment[K, V]) Remove(key K, keyHash int32) (V, bool) {
	leaf := s.route(keyHash)
	tbl := *leaf.cur.Load()
	mask := uint32(len(tbl) - 1)
	start := uint32(keyHash) >> leaf.keyShift
	tomb := leaf.ctx.Chain.Tombstone()

	for i := uint32(0); ; i++ {
		idx := (start + i) & mask
		e := tbl[idx].Load()
		if e == nil {
			var zero V
			return zero, false
		}
		if e == tomb {
			continue
		}
		if e.KeyHash() == keyHash && leaf.ctx.Cmp.AreEqual(e.Key(), key) {
			v := e.Value()
			leaf.removeEntry(tbl, int(idx), e)
			return v, true
		}
	}
}

// RemoveEntry removes a specific entry already known to live at this leaf
// (used by the eviction coordinator, which finds entries by walking the
// chain rather than by key lookup). keyHash/key are read off the entry
// itself to relocate its slot.
func (s *Segment[K, V]) RemoveEntry(e *entrypool.Entry[K, V]) bool {
	leaf := s.route(e.KeyHash())
	tbl := *leaf.cur.Load()
	mask := uint32(len(tbl) - 1)
	start := uint32(e.KeyHash()) >> leaf.keyShift
	tomb := leaf.ctx.Chain.Tombstone()

	for i := uint32(0); ; i++ {
		idx := (start + i) & mask
		cand := tbl[idx].Load()
		if cand == nil {
			return false
		}
		if cand == tomb {
			continue
		}
		if cand == e {
			leaf.removeEntry(tbl, int(idx), e)
			return true
		}
	}
}

func (s *Segment[K, V]) removeEntry(tbl leafTable[K, V], idx int, e *entrypool.Entry[K, V]) {
	s.ctx.Chain.Remove(e)
	tbl[idx].Store(s.ctx.Chain.Tombstone())
	s.tombstoneCount.Add(1)
	s.entryCount.Add(-1)
}

// Size returns the number of live entries reachable from s (itself if a
// leaf, or the sum across children if an inner node). Safe for concurrent
// callers: entryCount is atomic and useSubMaps/children follow the same
// publish-then-flag discipline as route.
func (s *Segment[K, V]) Size() int64 {
	if !s.useSubMaps.Load() {
		return s.entryCount.Load()
	}
	var total int64
	for _, c := range s.children {
		total += c.Size()
	}
	return total
}
