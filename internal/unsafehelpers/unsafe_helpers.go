// Package unsafehelpers centralises the unavoidable usage of the `unsafe`
// standard-library package so that the rest of segcache stays clean and
// easier to audit. Every helper documents its pre-/post-conditions.
//
// DISCLAIMER: these helpers deliberately reach past the usual memory-safety
// guarantees for the sake of allocation-free key hashing. Use only inside
// this repository; they are not part of the public API.
//
// All functions are go:linkname-free, cgo-free and pure Go.
//
// © 2025 segcache authors. MIT License.
package unsafehelpers

import "unsafe"

// ByteSliceFrom returns a []byte view of raw memory starting at ptr with the
// given length. The caller must ensure the memory block is at least length
// bytes and remains alive for as long as the returned slice is used.
// Used by internal/keycmp to hash scalar keys without reflection: the
// address of a comparable value is reinterpreted as a byte run for
// hash/maphash to consume.
func ByteSliceFrom(ptr unsafe.Pointer, length uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), length)
}

// AlignUp rounds x up to the nearest power of two. Used when a builder
// option specifies an initial capacity that isn't already one.
func AlignUp(x uintptr) uintptr {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uintptr) bool {
	return x != 0 && (x&(x-1)) == 0
}
