// Package cache is the public API of segcache: an in-process key/value
// cache built on a segmented open-addressed hash table with a lock-free
// read path, a doubly-linked insertion-order chain, an entry recycling
// pool, and a dual-TTL eviction coordinator gated by a ticker.
//
// Cache is the facade (spec component E): it owns the root segment, the
// insertion-order chain, the ticker, and — in shared mode — the single
// mutex that serializes structural mutations. Reads never take that mutex.
//
// © 2025 segcache authors. MIT License.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kestrelcache/segcache/internal/entrypool"
	"github.com/kestrelcache/segcache/internal/keycmp"
	"github.com/kestrelcache/segcache/internal/segment"
	"github.com/kestrelcache/segcache/internal/ticker"
	"github.com/kestrelcache/segcache/internal/unsafehelpers"
)

// removeDepth bounds how many entries a single cleanup sweep inspects
// (spec.md §4.E REMOVE_DEPTH).
const removeDepth = 100

// Cache is the in-process key/value store. The zero value is not usable;
// construct with New.
type Cache[K comparable, V any] struct {
	// mu serializes structural mutations in shared mode (insert, remove,
	// resize, split, clear). Readers (GetIfPresent, Size) never take it.
	mu sync.RWMutex

	shared bool
	cmp    *keycmp.Comparator[K]
	chain  *entrypool.Chain[K, V]
	ctx    *segment.Ctx[K, V]
	root   atomic.Pointer[segment.Segment[K, V]]

	// initialCapacity is the root's table length, already rounded up to a
	// power of two (the segment package's probe math assumes mask=len-1
	// works). Remembered so InvalidateAll can rebuild the root at the same
	// size the cache was constructed with.
	initialCapacity int

	expireAfterRead  int64 // ticks
	expireAfterWrite int64 // ticks

	tick     *ticker.Ticker
	clockSrc Ticker

	logger         *zap.Logger
	metrics        metricsSink
	metricsEnabled bool
	loaders        *loaderGroup[K, V]
	onEvict        EvictionListener[K, V]
}

// New constructs a Cache. See Option for the available knobs.
func New[K comparable, V any](opts ...Option[K, V]) (*Cache[K, V], error) {
	cfg := defaultConfig[K, V]()
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	chain := entrypool.New[K, V](cfg.shared)

	// The segment package's probe math assumes mask := len(table)-1 reaches
	// every slot, which only holds for a power-of-two table length; round up
	// here rather than handing an arbitrary caller-supplied capacity to
	// NewRoot (internal/unsafehelpers.AlignUp does the rounding).
	initialCapacity := int(unsafehelpers.AlignUp(uintptr(cfg.initialCapacity)))

	c := &Cache[K, V]{
		shared:           cfg.shared,
		cmp:              cfg.comparator,
		chain:            chain,
		initialCapacity:  initialCapacity,
		expireAfterRead:  cfg.expireAfterRead.Milliseconds(),
		expireAfterWrite: cfg.expireAfterWrite.Milliseconds(),
		tick:             ticker.New(ticker.DefaultCleanupThreshold),
		clockSrc:         cfg.ticker,
		logger:           cfg.logger,
		metrics:          newMetricsSink(cfg.registry),
		metricsEnabled:   cfg.registry != nil,
		loaders:          newLoaderGroup[K, V](),
		onEvict:          cfg.onEvict,
	}

	c.ctx = &segment.Ctx[K, V]{
		Cmp:    cfg.comparator,
		Chain:  chain,
		Shared: cfg.shared,
		OnDegrade: func(leafLen int) {
			c.logger.Warn("capacity degraded, falling back to oversized doubling",
				zap.Int("leaf_len", leafLen))
			c.metrics.incDegraded()
		},
		OnSplit: func(keyShift uint) {
			c.logger.Debug("segment split", zap.Uint("key_shift", keyShift))
			c.metrics.incSplit()
		},
	}
	c.root.Store(segment.NewRoot[K, V](c.ctx, initialCapacity))
	return c, nil
}

// SetExpireAfterAccess updates the access-TTL window post-construction
// (spec.md §6: "TTLs may be set after construction").
func (c *Cache[K, V]) SetExpireAfterAccess(ticks int64) { c.expireAfterRead = ticks }

// SetExpireAfterWrite updates the creation-TTL window post-construction.
func (c *Cache[K, V]) SetExpireAfterWrite(ticks int64) { c.expireAfterWrite = ticks }

// GetIfPresent performs spec.md §4.E getIfPresent: lookup, and on a hit
// stamp the entry's access time to the current tick. Never takes a lock,
// never triggers cleanup.
func (c *Cache[K, V]) GetIfPresent(key K) (V, bool) {
	if isInvalidKey(key) {
		var zero V
		return zero, false
	}
	keyHash := c.cmp.HashOf(key)
	e, ok := c.root.Load().Get(key, keyHash)
	if !ok {
		c.metrics.incMiss()
		var zero V
		return zero, false
	}
	e.SetAccessTime(c.tick.NextTick())
	c.metrics.incHit()
	return e.Value(), true
}

// Put performs spec.md §4.E put: delegate to the segment, stamp the
// resulting entry's creation time to a freshly read wall-clock tick, then
// run the bounded eviction sweep. A key that fails the InvalidKey check
// (spec.md §7) is silently skipped, matching put's void contract.
func (c *Cache[K, V]) Put(key K, value V) {
	if isInvalidKey(key) {
		return
	}
	keyHash := c.cmp.HashOf(key)
	now := c.clockSrc.Now()
	c.tick.SetNextTick(now)

	c.upsert(key, value, keyHash, now)
	if c.metricsEnabled {
		c.metrics.setEntries(c.root.Load().Size())
	}

	c.cleanUp()
}

// upsert runs the optimistic-overwrite-then-escalate protocol the teacher's
// shard.put uses: in shared mode, try an RLock-guarded overwrite first (safe
// alongside concurrent lock-free readers and other RLock holders), and only
// escalate to the exclusive Lock — which may trigger a structural rebalance
// — on a miss. Unshared mode has no concurrent readers to protect against,
// so it always takes the direct path. The entry's creation time is stamped
// before the lock guarding this call is released: cleanUp also needs that
// lock in shared mode (c.mu.Lock()), so stamping it afterwards would let a
// concurrent sweep observe the still-unset creation-time sentinel on a
// brand new entry and evict it as though it were ancient.
func (c *Cache[K, V]) upsert(key K, value V, keyHash int32, now int64) *entrypool.Entry[K, V] {
	if !c.shared {
		ent := c.root.Load().Upsert(key, value, keyHash)
		ent.SetCreationTime(now)
		return ent
	}

	c.mu.RLock()
	ent, ok := c.root.Load().TryOverwrite(key, value, keyHash)
	if ok {
		ent.SetCreationTime(now)
	}
	c.mu.RUnlock()
	if ok {
		return ent
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ent = c.root.Load().Upsert(key, value, keyHash)
	ent.SetCreationTime(now)
	return ent
}

// PutAll inserts every entry of m, in map iteration order.
func (c *Cache[K, V]) PutAll(m map[K]V) {
	for k, v := range m {
		c.Put(k, v)
	}
}

// Remove deletes key and returns its previous value, if any.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	if isInvalidKey(key) {
		var zero V
		return zero, false
	}
	keyHash := c.cmp.HashOf(key)

	if !c.shared {
		v, ok := c.root.Load().Remove(key, keyHash)
		if ok {
			c.metrics.incRemoval()
		}
		return v, ok
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.root.Load().Remove(key, keyHash)
	if ok {
		c.metrics.incRemoval()
	}
	return v, ok
}

// InvalidateAll drops every entry, replacing the root segment tree and the
// insertion-order chain (spec.md §4.C Clear, §6 invalidateAll() — no
// arguments; the new root is rebuilt at the cache's own (already
// power-of-two-rounded) initial capacity).
func (c *Cache[K, V]) InvalidateAll() {
	if !c.shared {
		c.chain.Clear()
		c.root.Store(segment.NewRoot[K, V](c.ctx, c.initialCapacity))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chain.ClearShared()
	c.root.Store(segment.NewRoot[K, V](c.ctx, c.initialCapacity))
}

// GetOrLoad returns the cached value for key, or calls fn to load it on a
// miss and caches the result. Concurrent misses for the same key are
// coalesced via singleflight: fn runs once, every caller shares its result
// (spec.md §6 supplemental op, adapted from the teacher's GetOrLoad). A
// loader error is not cached and is returned to every waiter.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, fn LoaderFunc[K, V]) (V, error) {
	if isInvalidKey(key) {
		var zero V
		return zero, ErrInvalidKey
	}
	if v, ok := c.GetIfPresent(key); ok {
		return v, nil
	}

	keyHash := c.cmp.HashOf(key)
	v, err := c.loaders.load(ctx, key, keyHash, fn)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, v)
	return v, nil
}

// Size returns the number of live entries, summed across the segment tree.
// Lock-free: entryCount is atomic at every leaf.
func (c *Cache[K, V]) Size() int64 {
	return c.root.Load().Size()
}

// cleanUp implements spec.md §4.E: gated by the ticker's cleanup-rate
// threshold, walk a bounded prefix of the insertion-order chain and remove
// every entry whose creation- or access-time has fallen outside its TTL
// window. At most one pending removal is buffered at a time so that
// segment removal never runs while a chain cursor still references the
// entry under it.
func (c *Cache[K, V]) cleanUp() {
	if c.tick.SkipCleanup() {
		return
	}
	if c.shared {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	c.metrics.incCleanupSweep()

	nextTick := c.tick.NextTick()
	createThreshold := nextTick - c.expireAfterWrite
	accessThreshold := nextTick - c.expireAfterRead

	var pending *entrypool.Entry[K, V]
	flush := func() {
		if pending == nil {
			return
		}
		c.evict(pending, createThreshold, accessThreshold)
		pending = nil
	}

	cur := c.chain.Head().Next()
	for i := 0; i < removeDepth && cur != c.chain.Tail(); i, cur = i+1, cur.Next() {
		if cur.CreationTime() <= createThreshold || cur.AccessTime() <= accessThreshold {
			flush()
			pending = cur
		}
	}
	flush()

	c.tick.MarkCleanup()
}

// evict removes e via the segment tree (so the table slot, tombstone count
// and insertion-order chain all stay consistent) and records which TTL
// window triggered it.
func (c *Cache[K, V]) evict(e *entrypool.Entry[K, V], createThreshold, accessThreshold int64) {
	if e.CreationTime() <= createThreshold {
		c.metrics.incWriteExpiry()
	} else {
		c.metrics.incAccessExpiry()
	}
	if c.onEvict != nil {
		c.onEvict(e.Key(), e.Value())
	}
	c.root.Load().RemoveEntry(e)
}
