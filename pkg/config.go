package cache

// config.go defines the internal configuration object and the set of
// functional options New[K,V] accepts, mirroring the teacher's
// config[K,V] + Option[K,V] pattern: a single private struct filled in by
// sensible defaults, then mutated by whichever options the caller passes,
// then validated once before the Cache is built.
//
// © 2025 segcache authors. MIT License.

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kestrelcache/segcache/internal/keycmp"
)

// Default tick budgets, spec.md §6. TTL options are expressed as
// time.Duration and converted to ticker ticks via Milliseconds(), matching
// the glossary's default calibration of 1 tick = 1 ms of wall clock.
const (
	defaultInitialCapacity  = 1000
	defaultExpireAfterRead  = 200 * time.Millisecond
	defaultExpireAfterWrite = 600 * time.Millisecond
)

// Ticker supplies the wall-clock reading the cache stamps into its tick
// state on every Put (spec.md §6: "Timestamp source: now() -> integer").
// The zero value is never used directly; New defaults to a millisecond
// wall-clock reading.
type Ticker interface {
	Now() int64
}

// wallClockMillis is the default Ticker: wall-clock time in milliseconds,
// matching spec.md's glossary calibration ("1 tick = 1 ms of wall-clock
// time").
type wallClockMillis struct{}

func (wallClockMillis) Now() int64 { return time.Now().UnixMilli() }

// Option configures a Cache at construction time. It is generic because
// WithComparator refers to the concrete key type K.
type Option[K comparable, V any] func(*config[K, V])

type config[K comparable, V any] struct {
	initialCapacity int
	expireAfterRead  time.Duration
	expireAfterWrite time.Duration
	shared           bool

	ticker     Ticker
	comparator *keycmp.Comparator[K]

	logger   *zap.Logger
	registry *prometheus.Registry

	onEvict EvictionListener[K, V]
}

// EvictionListener is invoked by the eviction coordinator whenever it
// removes an entry for having fallen outside its TTL window. It is not
// called for explicit Cache.Remove calls, since the caller already knows
// about those. Implementations must not call back into the Cache that
// invoked them, and should not block the cleanup sweep for long.
type EvictionListener[K comparable, V any] func(key K, value V)

func defaultConfig[K comparable, V any]() *config[K, V] {
	return &config[K, V]{
		initialCapacity:  defaultInitialCapacity,
		expireAfterRead:  defaultExpireAfterRead,
		expireAfterWrite: defaultExpireAfterWrite,
		ticker:           wallClockMillis{},
		comparator:       keycmp.New[K](),
		logger:           zap.NewNop(),
	}
}

// WithInitialCapacity sets the root segment's starting leaf length (rounded
// up to the nearest power of two by cache.New via unsafehelpers.AlignUp,
// since the segment package's probe math requires a power-of-two table
// length). Default 1000.
func WithInitialCapacity[K comparable, V any](n int) Option[K, V] {
	return func(c *config[K, V]) { c.initialCapacity = n }
}

// WithExpireAfterAccess sets the access-TTL window in ticker ticks.
// Default 200.
func WithExpireAfterAccess[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *config[K, V]) { c.expireAfterRead = ttl }
}

// WithExpireAfterWrite sets the creation-TTL window in ticker ticks.
// Default 600.
func WithExpireAfterWrite[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *config[K, V]) { c.expireAfterWrite = ttl }
}

// WithTicker plugs a custom timestamp source. Defaults to a wall-clock
// millisecond reading.
func WithTicker[K comparable, V any](t Ticker) Option[K, V] {
	return func(c *config[K, V]) {
		if t != nil {
			c.ticker = t
		}
	}
}

// WithComparator overrides the default hash/equality capability (spec
// component B).
func WithComparator[K comparable, V any](cmp *keycmp.Comparator[K]) Option[K, V] {
	return func(c *config[K, V]) {
		if cmp != nil {
			c.comparator = cmp
		}
	}
}

// WithShared selects shared (multi-reader, mutex-serialized writes) vs
// unshared (single-owner, unsynchronized) mode. Default unshared.
func WithShared[K comparable, V any](shared bool) Option[K, V] {
	return func(c *config[K, V]) { c.shared = shared }
}

// WithLogger plugs an external zap.Logger. The cache never logs on the hot
// path; only slow events (segment split, capacity-degraded fallback) are
// emitted.
func WithLogger[K comparable, V any](l *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (default).
func WithMetrics[K comparable, V any](reg *prometheus.Registry) Option[K, V] {
	return func(c *config[K, V]) { c.registry = reg }
}

// WithEvictionListener registers a callback run whenever the eviction
// coordinator drops an entry for TTL expiry (not for explicit Remove
// calls). Runs synchronously inside the cleanup sweep; heavy I/O should be
// handed off to another goroutine by the callback itself.
func WithEvictionListener[K comparable, V any](fn EvictionListener[K, V]) Option[K, V] {
	return func(c *config[K, V]) { c.onEvict = fn }
}

func applyOptions[K comparable, V any](cfg *config[K, V], opts []Option[K, V]) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.initialCapacity <= 0 {
		return errInvalidInitialCapacity
	}
	if cfg.ticker == nil {
		return errInvalidTicker
	}
	return nil
}

var (
	errInvalidInitialCapacity = errors.New("segcache: initial capacity must be > 0")
	errInvalidTicker          = errors.New("segcache: ticker must not be nil")

	// ErrInvalidKey is returned by key-taking operations given an absent
	// key (spec.md §7 InvalidKey). Check with errors.Is.
	ErrInvalidKey = errors.New("segcache: invalid key")
)
