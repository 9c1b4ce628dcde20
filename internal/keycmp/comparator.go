// Package keycmp implements the comparator capability: the pair of
// functions a segment needs to place a key (hashOf) and to confirm a probe
// hit (areEqual). It is the Go rendering of spec component B — deliberately
// tiny, since the specific strategies (identity, lexical, rehashing) are
// left unspecified and only the "direct" default is wired here.
//
// © 2025 segcache authors. MIT License.
package keycmp

import (
	"hash/maphash"
	"unsafe"

	"github.com/kestrelcache/segcache/internal/unsafehelpers"
)

// Hasher computes a 32-bit hash for a key. Implementations must be stable
// for the lifetime of any key stored under that hash (spec §3: "key-hash
// equals comparator.hash(key) as of the time the entry was inserted").
type Hasher[K comparable] func(K) int32

// Equaler reports whether two keys are the same for lookup purposes.
type Equaler[K comparable] func(a, b K) bool

// ValueEqualer is retained as a settable field for future use, mirroring
// the source's unused-but-present value comparator (spec Design Notes §9).
// The core lookup path never calls it.
type ValueEqualer[V any] func(a, b V) bool

// Comparator bundles hash/equality for a key type. The zero value is not
// usable; construct with New.
type Comparator[K comparable] struct {
	hash   Hasher[K]
	equals Equaler[K]
	// direct is hard-wired true: the source's branch selecting between a
	// "direct" comparator and a rehashing indirection is permanently
	// disabled, so we only ever expose the direct path here (spec Design
	// Notes §9, "_isDirectKeyComparator is hard-wired true").
	direct bool
}

// New builds the default comparator: a hash/maphash-backed Hasher using a
// process-wide maphash seed (so all caches of the same K share hash
// distribution characteristics, though not hash values across runs) and
// Go's built-in `==` for equality, which is valid because K is constrained
// to comparable.
func New[K comparable]() *Comparator[K] {
	return &Comparator[K]{
		hash:   defaultHasher[K](),
		equals: func(a, b K) bool { return a == b },
		direct: true,
	}
}

// WithHasher overrides the hash function. The caller is responsible for
// keeping it stable for the lifetime of any key already inserted.
func (c *Comparator[K]) WithHasher(h Hasher[K]) *Comparator[K] {
	if h != nil {
		c.hash = h
	}
	return c
}

// WithEquals overrides the equality function.
func (c *Comparator[K]) WithEquals(eq Equaler[K]) *Comparator[K] {
	if eq != nil {
		c.equals = eq
	}
	return c
}

// Direct reports whether this comparator bypasses the rehashing
// indirection. Always true in this implementation; exposed for parity with
// the source's (dead) branch and for diagnostics.
func (c *Comparator[K]) Direct() bool { return c.direct }

// HashOf returns the 32-bit hash used to place key in a segment's table.
func (c *Comparator[K]) HashOf(key K) int32 { return c.hash(key) }

// AreEqual reports whether a and b are the same key.
func (c *Comparator[K]) AreEqual(a, b K) bool { return c.equals(a, b) }

var seed = maphash.MakeSeed()

// defaultHasher builds a Hasher[K] using hash/maphash, type-switching on the
// common key shapes (string, []byte) and falling back to a byte-view of the
// value's own memory for scalar keys — the same technique the teacher's
// shard.hash uses, generalized so it works for any comparable K via
// unsafehelpers.ByteSliceFrom instead of a per-type switch inside the hot
// path closure.
func defaultHasher[K comparable]() Hasher[K] {
	return func(key K) int32 {
		var h maphash.Hash
		h.SetSeed(seed)
		switch k := any(key).(type) {
		case string:
			h.WriteString(k)
		case []byte:
			h.Write(k)
		default:
			ptr := unsafe.Pointer(&key)
			size := unsafe.Sizeof(key)
			h.Write(unsafehelpers.ByteSliceFrom(ptr, size))
		}
		sum := h.Sum64()
		// Fold both halves instead of truncating, so hash bits beyond the
		// low 32 still influence routing/probing (spec §9 Open Question).
		return int32(sum) ^ int32(sum>>32)
	}
}
