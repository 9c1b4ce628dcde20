package segment

import "github.com/kestrelcache/segcache/internal/entrypool"

// rebalance implements spec §4.C Rebalance, triggered by insertAt once
// entryCount+tombstoneCount exceeds half the table length. Exactly one of
// compact, double or split runs per call.
func (s *Segment[K, V]) rebalance() {
	tbl := *s.cur.Load()
	length := len(tbl)
	entries := s.liveEntries(tbl)

	if s.tombstoneCount.Load() > s.entryCount.Load() {
		s.compact(tbl, entries)
		return
	}
	if length*2 <= C1 {
		s.double(entries, length)
		return
	}
	s.split(entries, length)
}

// liveEntries walks a leaf's current table and collects every live
// (non-empty, non-tombstone) entry.
func (s *Segment[K, V]) liveEntries(tbl leafTable[K, V]) []*entrypool.Entry[K, V] {
	tomb := s.ctx.Chain.Tombstone()
	out := make([]*entrypool.Entry[K, V], 0, s.entryCount.Load())
	for i := range tbl {
		e := tbl[i].Load()
		if e != nil && e != tomb {
			out = append(out, e)
		}
	}
	return out
}

// probeInsert places e into the first empty slot of a freshly built table
// (no tombstones possible yet, so the probe only ever needs to skip live
// entries).
func probeInsert[K comparable, V any](tbl leafTable[K, V], keyShift uint, e *entrypool.Entry[K, V]) {
	mask := uint32(len(tbl) - 1)
	start := uint32(e.KeyHash()) >> keyShift
	for i := uint32(0); ; i++ {
		idx := (start + i) & mask
		if tbl[idx].Load() == nil {
			tbl[idx].Store(e)
			return
		}
	}
}

// compact is triggered when tombstones outnumber live entries: it's not
// growth, just reclaiming dead slots. Shared caches build into a fresh
// array and swap the pointer so any reader mid-probe against the old array
// still gets correct answers (spec §4.C Rebalance step 1); unshared caches
// reuse the array in place since nobody else can be reading it.
func (s *Segment[K, V]) compact(oldTbl leafTable[K, V], entries []*entrypool.Entry[K, V]) {
	length := len(oldTbl)
	if s.ctx.Shared {
		fresh := newLeafTable[K, V](length)
		for _, e := range entries {
			probeInsert(*fresh, s.keyShift, e)
		}
		s.cur.Store(fresh)
	} else {
		for i := range oldTbl {
			oldTbl[i].Store(nil)
		}
		for _, e := range entries {
			probeInsert(oldTbl, s.keyShift, e)
		}
	}
	s.tombstoneCount.Store(0)
	s.entryCount.Store(int64(len(entries)))
}

// double grows the leaf table to 2x its current length and republishes it
// atomically. Reused verbatim by split's degraded-fallback path, which
// calls it even past the normal C1 ceiling (spec §4.C Rebalance step 3).
func (s *Segment[K, V]) double(entries []*entrypool.Entry[K, V], length int) {
	fresh := newLeafTable[K, V](length * 2)
	for _, e := range entries {
		probeInsert(*fresh, s.keyShift, e)
	}
	s.cur.Store(fresh)
	s.tombstoneCount.Store(0)
	s.entryCount.Store(int64(len(entries)))
}

// split partitions a leaf at its capacity ceiling into C2 child segments,
// routed by the next B2 hash bits, per spec §4.C Rebalance step 3. If any
// child would itself start over the 1/2 load factor (a pathologically
// skewed hash distribution), the whole split is abandoned in favor of an
// oversized doubling of the current leaf, and ctx.OnDegrade is notified
// (spec §7 CapacityDegraded).
func (s *Segment[K, V]) split(entries []*entrypool.Entry[K, V], length int) {
	childLen := (length * 2) / C2
	if childLen < C0 {
		childLen = C0
	}

	childTables := make([]leafTable[K, V], C2)
	childCounts := make([]int, C2)
	for i := range childTables {
		childTables[i] = *newLeafTable[K, V](childLen)
	}

	degraded := false
	for _, e := range entries {
		idx := (uint32(e.KeyHash()) >> s.keyShift) & c2Mask
		if childCounts[idx]+1 > childLen/2 {
			degraded = true
			break
		}
		probeInsert(childTables[idx], s.keyShift+B2, e)
		childCounts[idx]++
	}

	if degraded {
		if s.ctx.OnDegrade != nil {
			s.ctx.OnDegrade(length)
		}
		s.double(entries, length)
		return
	}

	for i := range s.children {
		child := newLeaf[K, V](s.ctx, s.keyShift+B2, childLen)
		tbl := childTables[i]
		child.cur.Store(&tbl)
		child.entryCount.Store(int64(childCounts[i]))
		s.children[i] = child
	}
	s.useSubMaps.Store(true)
	if s.ctx.OnSplit != nil {
		s.ctx.OnSplit(s.keyShift)
	}
}
