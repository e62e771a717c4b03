package cache

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/huykn/entity-sync/policy"
)

// LocalCacheConfig configures the local cache.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int
}

// FailedBulkPolicy decides what happens to the detail entries of ids a bulk
// mutation reported as failed.
type FailedBulkPolicy int

const (
	// FailedBulkUntouched leaves failed entries exactly as they were.
	FailedBulkUntouched FailedBulkPolicy = iota

	// FailedBulkMarkStale marks failed entries stale so the next read
	// re-fetches them.
	FailedBulkMarkStale
)

// Options configures a SyncCoordinator instance.
type Options struct {
	// PodID identifies this coordinator in peer invalidation events.
	// Used to avoid self-invalidation in pub/sub.
	PodID string

	// LocalCacheConfig configures the local value cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to the LRU factory.
	LocalCacheFactory LocalCacheFactory

	// Policies assigns freshness policies per key family.
	// If nil, defaults to policy.DefaultTable().
	Policies *policy.Table

	// Store persists entry snapshots. Optional.
	Store Store

	// Synchronizer broadcasts invalidation sets to peers. Optional.
	Synchronizer Synchronizer

	// Marshaller serializes persisted snapshots.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout bounds background operations (passive refetch,
	// persistence, peer publish).
	ContextTimeout time.Duration

	// ReadTimeout bounds one shared read fetch, retries included. Readers
	// joined to the fetch keep waiting when the caller that started it goes
	// away. Zero means DefaultReadTimeout.
	ReadTimeout time.Duration

	// Sink is informed of mutation outcomes. Optional.
	Sink NotificationSink

	// Tracer traces reads and mutations. If nil, a no-op tracer is used.
	Tracer trace.Tracer

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time

	// SerializeMutations rejects a mutation on an entity that already has
	// one in flight with ErrMutationInFlight. When false, concurrent
	// mutations on the same id are allowed and the last response wins.
	SerializeMutations bool

	// FailedBulk decides the fate of failed ids in bulk mutations.
	FailedBulk FailedBulkPolicy

	// OnError is called when an error occurs in background operations.
	OnError func(error)

	// OnUnauthorized is called whenever a read or mutation fails with a
	// 401/403; hosts tear down the session here.
	OnUnauthorized func(error)
}

// DefaultReadTimeout bounds a read fetch when Options.ReadTimeout is zero.
const DefaultReadTimeout = time.Minute

func (o *Options) readTimeout() time.Duration {
	if o.ReadTimeout > 0 {
		return o.ReadTimeout
	}
	return DefaultReadTimeout
}

// DefaultOptions returns default coordinator options.
func DefaultOptions() Options {
	return Options{
		PodID:             "default-pod",
		ContextTimeout:    5 * time.Second,
		ReadTimeout:       DefaultReadTimeout,
		LocalCacheConfig:  DefaultLocalCacheConfig(),
		LocalCacheFactory: nil, // Will default to LRU in New()
		Policies:          nil, // Will default to policy.DefaultTable() in New()
		Marshaller:        nil, // Will default to JSON in New()
		Logger:            nil, // Will default to no-op in New()
		DebugMode:         false,
		FailedBulk:        FailedBulkUntouched,
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        1e5,
		MaxCost:            1 << 26, // 64MB
		BufferItems:        64,
		IgnoreInternalCost: false,
		MaxSize:            10000,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.PodID == "" {
		return ErrInvalidConfig
	}
	if o.ContextTimeout <= 0 {
		return ErrInvalidConfig
	}
	if o.ReadTimeout < 0 {
		return ErrInvalidConfig
	}
	if o.LocalCacheFactory == nil && o.LocalCacheConfig.MaxSize <= 0 {
		return ErrInvalidConfig
	}
	if o.FailedBulk != FailedBulkUntouched && o.FailedBulk != FailedBulkMarkStale {
		return ErrInvalidConfig
	}
	return nil
}
