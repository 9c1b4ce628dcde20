package cache

// loaderfunc.go defines LoaderFunc, the user-supplied callback GetOrLoad
// invokes on a miss. Kept in its own file so loader.go and cache.go can both
// reference it without a cycle, same layout as the teacher.
//
// • The function must be pure with regard to the cache itself: it must not
//   call Cache.Put or re-enter the same Cache it serves, or the result is
//   undefined.
// • It should honour ctx for cancellation.
// • If the loader returns an error, the value is not stored and the error
//   propagates to GetOrLoad's caller.
//
// © 2025 segcache authors. MIT License.

import "context"

// LoaderFunc is invoked by GetOrLoad when key is absent. The same instance
// may be invoked concurrently for different keys; it must be thread-safe.
type LoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)
