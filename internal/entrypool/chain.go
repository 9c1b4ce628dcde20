package entrypool

import "github.com/kestrelcache/segcache/internal/arena"

// reservoirBatch is the number of uninitialized entries allocated at once
// when the reservoir runs dry (spec §4.A: "allocate a batch of 8 fresh
// entries").
const reservoirBatch = 8

// Chain is the process-local, single-cache insertion-order list (spec
// §3/§4.D) plus the entry recycling pool it's threaded through (spec
// §4.A). head and tail are sentinels that never carry key/value data.
//
// Only the writer ever touches a Chain's fields — GetIfPresent never walks
// it, only Put/Remove/the eviction sweep do, and those are already
// serialized (by the caller holding the cache's single mutex in shared
// mode, or by being the sole owner in unshared mode). So no field here
// needs to be atomic.
type Chain[K comparable, V any] struct {
	head, tail *Entry[K, V]
	tombstone  *Entry[K, V]
	shared     bool
}

// New constructs an empty chain with one reservoir batch ready to draw
// from.
func New[K comparable, V any](shared bool) *Chain[K, V] {
	c := &Chain[K, V]{
		head:      &Entry[K, V]{},
		tail:      &Entry[K, V]{},
		tombstone: &Entry[K, V]{},
		shared:    shared,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	// The first Take promotes this tail in place, so it needs the same
	// unset timestamps as any reservoir entry.
	c.tail.reset()
	c.growReservoir(reservoirBatch)
	return c
}

// Tombstone returns the per-chain sentinel whose pointer identity marks a
// vacated table slot. See spec §9 Open Question 1 for why this is scoped
// per chain instead of process-global.
func (c *Chain[K, V]) Tombstone() *Entry[K, V] { return c.tombstone }

// Head returns the immutable head sentinel. Iteration starts at Head().Next().
func (c *Chain[K, V]) Head() *Entry[K, V] { return c.head }

// Tail returns the current tail sentinel (the live/free pivot). Iteration
// stops when it reaches Tail().
func (c *Chain[K, V]) Tail() *Entry[K, V] { return c.tail }

// growReservoir appends n fresh, singly-linked entries after the current
// tail, batch-allocated via internal/arena to amortize the cost versus one
// heap allocation per entry.
func (c *Chain[K, V]) growReservoir(n int) {
	fresh := arena.Batch[Entry[K, V]](n)
	for _, e := range fresh {
		e.reset()
	}
	for i := 0; i < n-1; i++ {
		fresh[i].next = fresh[i+1]
	}
	fresh[n-1].next = c.tail.next
	c.tail.next = fresh[0]
}

// Take consumes the next reservoir slot, publishes key/value/hash into it,
// and appends it to the live chain just before the (advancing) tail. This
// is the "tail advances as inserts consume reservoir slots" behavior from
// spec §4.D: rather than relinking pointers, the current tail sentinel is
// itself promoted to carry the new entry's data (it was already correctly
// positioned at the end of the live chain), and the next reservoir node
// becomes the new tail.
func (c *Chain[K, V]) Take(key K, keyHash int32, value V) *Entry[K, V] {
	if c.tail.next == nil {
		c.growReservoir(reservoirBatch)
	}
	live := c.tail
	newTail := c.tail.next
	live.publish(key, keyHash, value)
	newTail.prev = live
	c.tail = newTail
	return live
}

// Remove splices e out of the live chain. In unshared mode the entry is
// reset and spliced back in immediately after the current tail, so it
// becomes the very next entry Take() hands out (spec §4.A pool protocol). In
// shared mode the entry is simply unlinked and abandoned to the allocator
// instead of recycled, since a concurrent reader may still hold a pointer to
// it (spec §3: "Shared caches do not recycle").
func (c *Chain[K, V]) Remove(e *Entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev

	if c.shared {
		e.next, e.prev = nil, nil
		return
	}

	e.reset()
	e.next = c.tail.next
	c.tail.next = e
	e.prev = nil
}

// Clear resets every entry reachable from head (both previously-live and
// previously-reserved) back into an uninitialized reservoir and rewinds
// tail to head.next, reusing the same backing entries (spec §4.C, unshared
// Clear).
func (c *Chain[K, V]) Clear() {
	for cur := c.head.next; cur != nil; cur = cur.next {
		cur.reset()
	}
	c.tail = c.head.next
	if c.tail == nil {
		c.head.next = c.tail
		c.growReservoir(reservoirBatch)
		c.tail = c.head.next
	}
}

// ClearShared replaces the entire chain with a fresh head/tail pair,
// leaving the old chain (and anything still reachable from it) for the GC
// to reclaim once any in-flight iterator lets go of it (spec §4.C, shared
// Clear).
func (c *Chain[K, V]) ClearShared() {
	c.head = &Entry[K, V]{}
	c.tail = &Entry[K, V]{}
	c.head.next = c.tail
	c.tail.prev = c.head
	c.tail.reset()
	c.growReservoir(reservoirBatch)
}
