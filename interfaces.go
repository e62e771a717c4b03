package entitysync

import (
	"github.com/huykn/entity-sync/cache"
	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/types"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheMetrics is an alias for cache.LocalCacheMetrics.
type LocalCacheMetrics = cache.LocalCacheMetrics

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// NotificationSink is an alias for cache.NotificationSink.
type NotificationSink = cache.NotificationSink

// FailedBulkPolicy is an alias for cache.FailedBulkPolicy.
type FailedBulkPolicy = cache.FailedBulkPolicy

// InvalidationEvent is an alias for cache.InvalidationEvent.
type InvalidationEvent = cache.InvalidationEvent

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// Query is an alias for cache.Query.
type Query = cache.Query

// Key is an alias for keys.Key.
type Key = keys.Key

// Entity is an alias for types.Entity.
type Entity = types.Entity

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
