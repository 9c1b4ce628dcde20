package cache

// keyvalidity.go implements spec.md §7's InvalidKey check: "key is
// absent/null where a key is required." Go's comparable constraint gives
// no generic notion of a null key — most instantiations (string, int,
// structs of those) have no such thing — but a key type instantiated as a
// pointer, interface, or channel can genuinely be nil, and a cache keyed on
// one of those should reject it rather than silently caching under a zero
// identity. reflect is the only way to ask "is this generic value a nil
// pointer/interface/channel" without knowing K's concrete kind ahead of
// time; no pack dependency offers a more idiomatic generic nilability
// check than the standard library here.
//
// © 2025 segcache authors. MIT License.

import "reflect"

// isInvalidKey reports whether key is a nil interface, or a nil pointer,
// unsafe pointer, channel, map or function value — the only concrete shapes
// a comparable key can take where "absent/null" is meaningful. Scalar and
// struct key types always report false.
func isInvalidKey[K comparable](key K) bool {
	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.Invalid:
		// A nil interface key reaches reflect.ValueOf as an untyped nil.
		return true
	case reflect.Ptr, reflect.Interface, reflect.Chan, reflect.Map, reflect.Func, reflect.UnsafePointer:
		return v.IsNil()
	default:
		return false
	}
}
