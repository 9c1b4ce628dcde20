package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "github.com/kestrelcache/segcache/pkg"
)

// testClock is a controllable cache.Ticker for deterministic TTL tests: the
// cache only samples it on Put, never on GetIfPresent, so advancing it has
// no effect until the next write.
type testClock struct {
	now atomic.Int64
}

func (c *testClock) Now() int64   { return c.now.Load() }
func (c *testClock) Set(ms int64) { c.now.Store(ms) }

func TestGetIfPresent_RoundTripsAPutValue(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, string]()
	require.NoError(t, err)

	_, ok := c.GetIfPresent("missing")
	assert.False(t, ok, "an absent key must report a miss")

	c.Put("k", "v")
	v, ok := c.GetIfPresent("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestPut_OverwritesExistingKey_WithoutGrowingSize(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, int]()
	require.NoError(t, err)

	c.Put("k", 1)
	require.EqualValues(t, 1, c.Size())

	c.Put("k", 2)
	v, ok := c.GetIfPresent("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.EqualValues(t, 1, c.Size(), "overwriting an existing key must not change Size")
}

func TestPutAll_InsertsEveryEntry(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, int]()
	require.NoError(t, err)

	c.PutAll(map[string]int{"a": 1, "b": 2, "c": 3})

	assert.EqualValues(t, 3, c.Size())
	for k, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		v, ok := c.GetIfPresent(k)
		require.True(t, ok, "key %q must be present", k)
		assert.Equal(t, want, v)
	}
}

func TestRemove_DeletesKeyAndReturnsPreviousValue(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, string]()
	require.NoError(t, err)

	c.Put("k", "v")
	v, ok := c.Remove("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = c.GetIfPresent("k")
	assert.False(t, ok)
	assert.EqualValues(t, 0, c.Size())
}

func TestRemove_ReportsMiss_ForAbsentKey(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, string]()
	require.NoError(t, err)

	_, ok := c.Remove("never-put")
	assert.False(t, ok)
}

func TestRemoveAndReinsert_Unshared_KeepsSurvivorsAndReusesPoolSlots(t *testing.T) {
	t.Parallel()

	c, err := cache.New[int, int](cache.WithShared[int, int](false))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		c.Put(i, i*10)
	}
	require.EqualValues(t, 20, c.Size())

	for i := 0; i < 10; i++ {
		_, ok := c.Remove(i)
		require.True(t, ok)
	}
	require.EqualValues(t, 10, c.Size())

	// Recycled pool slots must be reusable for brand new keys.
	for i := 100; i < 110; i++ {
		c.Put(i, i*10)
	}
	assert.EqualValues(t, 20, c.Size())

	for i := 10; i < 20; i++ {
		v, ok := c.GetIfPresent(i)
		require.True(t, ok)
		assert.Equal(t, i*10, v)
	}
	for i := 100; i < 110; i++ {
		v, ok := c.GetIfPresent(i)
		require.True(t, ok)
		assert.Equal(t, i*10, v)
	}
}

func TestInvalidateAll_Unshared_DropsEveryEntry(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, int](cache.WithShared[string, int](false))
	require.NoError(t, err)

	c.PutAll(map[string]int{"a": 1, "b": 2})
	require.EqualValues(t, 2, c.Size())

	c.InvalidateAll()
	assert.EqualValues(t, 0, c.Size())

	_, ok := c.GetIfPresent("a")
	assert.False(t, ok)

	c.Put("c", 3)
	v, ok := c.GetIfPresent("c")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestInvalidateAll_Shared_DropsEveryEntry(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, int](cache.WithShared[string, int](true))
	require.NoError(t, err)

	c.PutAll(map[string]int{"a": 1, "b": 2})
	require.EqualValues(t, 2, c.Size())

	c.InvalidateAll()
	assert.EqualValues(t, 0, c.Size())

	c.Put("c", 3)
	v, ok := c.GetIfPresent("c")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestExpireAfterWrite_EvictsOnlyEntriesPastTheirWriteWindow(t *testing.T) {
	t.Parallel()

	clock := &testClock{}
	c, err := cache.New[int, string](
		cache.WithTicker[int, string](clock),
		cache.WithExpireAfterWrite[int, string](100*time.Millisecond),
		cache.WithExpireAfterAccess[int, string](time.Hour),
	)
	require.NoError(t, err)

	clock.Set(0)
	c.Put(1, "old") // creationTime 0; delta from prevTick(0) is 0, cleanup skipped

	clock.Set(60)
	c.Put(2, "mid") // delta 60 >= threshold(50): sweep runs, but neither entry is past 100ms yet

	_, ok := c.GetIfPresent(1)
	require.True(t, ok, "entry 1 must still be alive at tick 60 with a 100-tick write TTL")

	clock.Set(120)
	c.Put(3, "new") // delta 60 >= threshold: sweep runs, createThreshold = 120-100 = 20

	_, ok = c.GetIfPresent(1)
	assert.False(t, ok, "entry 1 (created at tick 0) must have expired by tick 120")
	v, ok := c.GetIfPresent(2)
	require.True(t, ok, "entry 2 (created at tick 60) must survive a createThreshold of 20")
	assert.Equal(t, "mid", v)
	v, ok = c.GetIfPresent(3)
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestExpireAfterAccess_EvictsEntriesNotReadWithinTheWindow(t *testing.T) {
	t.Parallel()

	clock := &testClock{}
	c, err := cache.New[int, string](
		cache.WithTicker[int, string](clock),
		cache.WithExpireAfterWrite[int, string](time.Hour),
		cache.WithExpireAfterAccess[int, string](50*time.Millisecond),
	)
	require.NoError(t, err)

	clock.Set(0)
	c.Put(1, "touched")

	clock.Set(60)
	c.Put(2, "untouched") // sweep runs; accessThreshold = 60-50 = 10; entry1 never
	// accessed (sentinel access time), so it survives on the access rule alone

	v, ok := c.GetIfPresent(1) // stamps entry1's access time to the ticker's cached tick, 60
	require.True(t, ok)
	assert.Equal(t, "touched", v)

	clock.Set(200)
	c.Put(3, "new") // sweep runs; accessThreshold = 200-50 = 150

	_, ok = c.GetIfPresent(1)
	assert.False(t, ok, "entry 1 was last accessed at tick 60, which is <= accessThreshold 150")
	_, ok = c.GetIfPresent(2)
	assert.True(t, ok, "entry 2 was never read, so the +inf access sentinel keeps it alive")
	_, ok = c.GetIfPresent(3)
	assert.True(t, ok)
}

func TestCleanup_BoundsWorkPerSweep(t *testing.T) {
	t.Parallel()

	clock := &testClock{}
	c, err := cache.New[int, int](
		cache.WithTicker[int, int](clock),
		cache.WithExpireAfterWrite[int, int](10*time.Millisecond),
		cache.WithExpireAfterAccess[int, int](time.Hour),
	)
	require.NoError(t, err)

	clock.Set(0)
	for i := 0; i < 150; i++ {
		c.Put(i, i)
	}
	require.EqualValues(t, 150, c.Size())

	clock.Set(60) // delta 60 from prevTick 0 triggers a sweep; createThreshold = 60-10 = 50
	c.Put(1000, 1000)

	// A single sweep inspects at most 100 chain entries (oldest-first), so
	// only the first 100 of the 150 all-expired original entries are
	// reclaimed; the newest 50 are left for a later sweep.
	assert.EqualValues(t, 51, c.Size(), "one sweep must remove exactly removeDepth entries")

	for i := 0; i < 100; i++ {
		_, ok := c.GetIfPresent(i)
		assert.False(t, ok, "key %d should have been reclaimed by the first sweep", i)
	}
	for i := 100; i < 150; i++ {
		_, ok := c.GetIfPresent(i)
		assert.True(t, ok, "key %d is expired but not yet reached by the bounded sweep", i)
	}

	clock.Set(130) // delta 70 from prevTick 60 triggers another sweep
	c.Put(2000, 2000)

	// createThreshold is now 130-10 = 120, which also covers key 1000
	// (created at tick 60); only key 2000 (created at tick 130) survives.
	assert.EqualValues(t, 1, c.Size(), "a second sweep must finish reclaiming the remaining expired entries")
	for i := 100; i < 150; i++ {
		_, ok := c.GetIfPresent(i)
		assert.False(t, ok, "key %d must be gone after the second sweep", i)
	}
	v, ok := c.GetIfPresent(1000)
	require.False(t, ok, "key 1000 (created at tick 60) is past its 10-tick write window at tick 130")
	assert.Equal(t, 0, v)
	v, ok = c.GetIfPresent(2000)
	require.True(t, ok)
	assert.Equal(t, 2000, v)
}

func TestGetOrLoad_ReturnsCachedValue_WithoutInvokingLoader(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, string]()
	require.NoError(t, err)
	c.Put("k", "cached")

	var calls atomic.Int32
	v, err := c.GetOrLoad(context.Background(), "k", func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		return "loaded", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", v)
	assert.EqualValues(t, 0, calls.Load(), "a hit must never invoke the loader")
}

func TestGetOrLoad_InvokesLoaderOnMiss_AndCachesResult(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, string]()
	require.NoError(t, err)

	v, err := c.GetOrLoad(context.Background(), "k", func(ctx context.Context, key string) (string, error) {
		return "loaded:" + key, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "loaded:k", v)

	cached, ok := c.GetIfPresent("k")
	require.True(t, ok)
	assert.Equal(t, "loaded:k", cached)
}

func TestGetOrLoad_DoesNotCache_WhenLoaderErrors(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, string]()
	require.NoError(t, err)

	wantErr := errors.New("boom")
	_, err = c.GetOrLoad(context.Background(), "k", func(ctx context.Context, key string) (string, error) {
		return "", wantErr
	})
	require.ErrorIs(t, err, wantErr)

	_, ok := c.GetIfPresent("k")
	assert.False(t, ok, "a failed load must not populate the cache")
}

func TestGetOrLoad_DedupsConcurrentMissesForTheSameKey(t *testing.T) {
	t.Parallel()

	c, err := cache.New[string, int](cache.WithShared[string, int](true))
	require.NoError(t, err)

	var calls atomic.Int32
	loader := func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	}

	const n = 20
	results := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrLoad(context.Background(), "shared-key", loader)
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
	assert.EqualValues(t, 1, calls.Load(), "concurrent misses on the same key must coalesce into a single loader call")
}

func TestEvictionListener_FiresOnTTLExpiry_NotOnExplicitRemove(t *testing.T) {
	t.Parallel()

	clock := &testClock{}
	var evicted []string
	var mu sync.Mutex

	c, err := cache.New[string, int](
		cache.WithTicker[string, int](clock),
		cache.WithExpireAfterWrite[string, int](10*time.Millisecond),
		cache.WithExpireAfterAccess[string, int](time.Hour),
		cache.WithEvictionListener[string, int](func(key string, value int) {
			mu.Lock()
			evicted = append(evicted, key)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	clock.Set(0)
	c.Put("ttl-victim", 1)
	c.Put("explicit-removed", 2)

	c.Remove("explicit-removed")

	clock.Set(60)
	c.Put("trigger", 3)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ttl-victim"}, evicted, "the listener must fire only for TTL-driven removals")
}

func TestStats_ReportsSizeAndSlotCount(t *testing.T) {
	t.Parallel()

	c, err := cache.New[int, int](cache.WithInitialCapacity[int, int](16))
	require.NoError(t, err)

	snap := c.Stats()
	assert.EqualValues(t, 0, snap.Size)
	assert.EqualValues(t, 16, snap.SlotCount)

	for i := 0; i < 5; i++ {
		c.Put(i, i)
	}
	snap = c.Stats()
	assert.EqualValues(t, 5, snap.Size)
}

func TestWithMetrics_IncrementsHitAndMissCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := cache.New[string, string](cache.WithMetrics[string, string](reg))
	require.NoError(t, err)

	c.Put("k", "v")
	c.GetIfPresent("k")       // hit
	c.GetIfPresent("missing") // miss

	hits := gatherCounterValue(t, reg, "segcache_hits_total")
	misses := gatherCounterValue(t, reg, "segcache_misses_total")
	assert.Equal(t, float64(1), hits)
	assert.Equal(t, float64(1), misses)
}

func gatherCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var metrics []*dto.Metric = mf.GetMetric()
		require.Len(t, metrics, 1)
		return metrics[0].GetCounter().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestShared_ConcurrentReadersDoNotRaceWithWriter(t *testing.T) {
	t.Parallel()

	c, err := cache.New[int, int](cache.WithShared[int, int](true))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		c.Put(i, i)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.GetIfPresent(i % 100)
				}
			}
		}()
	}

	for i := 100; i < 200; i++ {
		c.Put(i, i)
	}
	close(stop)
	wg.Wait()

	assert.EqualValues(t, 200, c.Size())
}

func TestNew_RejectsNonPositiveInitialCapacity(t *testing.T) {
	t.Parallel()

	_, err := cache.New[string, string](cache.WithInitialCapacity[string, string](0))
	assert.Error(t, err)
}

func TestNew_IgnoresNilTicker(t *testing.T) {
	t.Parallel()

	_, err := cache.New[string, string](cache.WithTicker[string, string](nil))
	assert.NoError(t, err, "WithTicker(nil) must leave the default ticker in place rather than erroring")
}

func TestSetExpireAfterAccessAndWrite_UpdatePostConstruction(t *testing.T) {
	t.Parallel()

	clock := &testClock{}
	c, err := cache.New[int, string](
		cache.WithTicker[int, string](clock),
		cache.WithExpireAfterWrite[int, string](time.Hour),
		cache.WithExpireAfterAccess[int, string](time.Hour),
	)
	require.NoError(t, err)

	c.SetExpireAfterWrite(10)
	c.SetExpireAfterAccess(10)

	clock.Set(0)
	c.Put(1, "v")

	clock.Set(60)
	c.Put(2, "v") // sweep runs; createThreshold = 60-10 = 50 > entry1's creationTime 0

	_, ok := c.GetIfPresent(1)
	assert.False(t, ok, "runtime TTL overrides must take effect on the next sweep")
}

func TestWithInitialCapacity_RoundsUpToPowerOfTwo(t *testing.T) {
	t.Parallel()

	c, err := cache.New[int, int](cache.WithInitialCapacity[int, int](1000))
	require.NoError(t, err)

	snap := c.Stats()
	assert.EqualValues(t, 1024, snap.SlotCount, "a non-power-of-two capacity must round up, not truncate the probe mask")
}

func TestWithInitialCapacity_LeavesExactPowerOfTwoUnchanged(t *testing.T) {
	t.Parallel()

	c, err := cache.New[int, int](cache.WithInitialCapacity[int, int](64))
	require.NoError(t, err)

	snap := c.Stats()
	assert.EqualValues(t, 64, snap.SlotCount)
}

func TestPut_SkipsNilPointerKey(t *testing.T) {
	t.Parallel()

	c, err := cache.New[*int, string]()
	require.NoError(t, err)

	c.Put(nil, "v")
	assert.EqualValues(t, 0, c.Size(), "an InvalidKey put must be a silent no-op, per spec.md §7")

	k := new(int)
	c.Put(k, "ok")
	v, ok := c.GetIfPresent(k)
	require.True(t, ok)
	assert.Equal(t, "ok", v)
}

func TestGetIfPresent_ReportsMiss_ForNilPointerKey(t *testing.T) {
	t.Parallel()

	c, err := cache.New[*int, string]()
	require.NoError(t, err)

	_, ok := c.GetIfPresent(nil)
	assert.False(t, ok)
}

func TestRemove_ReportsMiss_ForNilPointerKey(t *testing.T) {
	t.Parallel()

	c, err := cache.New[*int, string]()
	require.NoError(t, err)

	_, ok := c.Remove(nil)
	assert.False(t, ok)
}

func TestGetOrLoad_ReturnsErrInvalidKey_ForNilPointerKey(t *testing.T) {
	t.Parallel()

	c, err := cache.New[*int, string]()
	require.NoError(t, err)

	var calls atomic.Int32
	_, err = c.GetOrLoad(context.Background(), nil, func(ctx context.Context, key *int) (string, error) {
		calls.Add(1)
		return "loaded", nil
	})
	require.ErrorIs(t, err, cache.ErrInvalidKey)
	assert.EqualValues(t, 0, calls.Load(), "an InvalidKey miss must never reach the loader")
}

func TestPut_Shared_NewEntryNeverEvictedByConcurrentCleanupSweep(t *testing.T) {
	t.Parallel()

	// Regression test: the creation-time stamp must land before the lock
	// guarding the insert is released, or a concurrent cleanup sweep on
	// another goroutine can observe the entry's creation-time sentinel (0)
	// and reclaim it as though it were ancient. expireAfterWrite is set
	// comfortably longer than this test's wall-clock runtime so the only
	// way an entry can legitimately be missing afterwards is that race.
	c, err := cache.New[int, int](
		cache.WithShared[int, int](true),
		cache.WithExpireAfterWrite[int, int](time.Hour),
		cache.WithExpireAfterAccess[int, int](time.Hour),
	)
	require.NoError(t, err)

	const goroutines = 16
	const perGoroutine = 200
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		g := g
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := g*perGoroutine + i
				c.Put(key, key)
				_, ok := c.GetIfPresent(key)
				assert.True(t, ok, "key %d must be visible immediately after its own Put", key)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, goroutines*perGoroutine, c.Size())
}
