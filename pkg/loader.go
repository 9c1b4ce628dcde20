package cache

// loader.go implements the singleflight-based de-duplication layer behind
// Cache.GetOrLoad: when many goroutines miss the same key simultaneously,
// only one actually runs the loader; the rest share its result. Adapted from
// the teacher's pkg/loader.go, which wraps x/sync/singleflight the same way;
// the dedup key here is "%v:%x" of the real key and its hash rather than just
// the hash, since segcache hashes fold to 32 bits and the teacher's looser
// keying is more collision-prone than is worth inheriting.
//
// © 2025 segcache authors. MIT License.

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

type loaderGroup[K comparable, V any] struct {
	g singleflight.Group
}

func newLoaderGroup[K comparable, V any]() *loaderGroup[K, V] {
	return &loaderGroup[K, V]{}
}

// load executes fn exactly once per key across all concurrent callers.
func (lg *loaderGroup[K, V]) load(ctx context.Context, key K, keyHash int32, fn LoaderFunc[K, V]) (V, error) {
	dedupKey := fmt.Sprintf("%v:%x", key, keyHash)
	res, err, _ := lg.g.Do(dedupKey, func() (any, error) {
		return fn(ctx, key)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
