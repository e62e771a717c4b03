package cache

import (
	"context"
	"time"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/types"
)

// Logger defines the interface for logging in the coordinator.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller defines the interface for snapshot serialization.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache holds the cached values in process, keyed by canonical key.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value in the local cache.
	Set(key string, value any, cost int64) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Store persists entry snapshots outside the process (e.g. Redis) so a
// restarted surface can hydrate fresh values without a network round trip.
type Store interface {
	// Get retrieves a value from the store.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the store.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value from the store.
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the store.
	Clear(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Synchronizer broadcasts invalidation sets between coordinator instances.
type Synchronizer interface {
	// Subscribe starts listening for invalidation events.
	Subscribe(ctx context.Context) error

	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for invalidation events.
	OnInvalidate(callback func(event types.InvalidationEvent))

	// Close closes the synchronizer.
	Close() error
}

// NotificationSink is informed of mutation outcomes. Calls are
// fire-and-forget; nothing they do is consulted by the coordinator.
type NotificationSink interface {
	OnMutationSuccess(kind types.Kind, entity types.Entity)
	OnMutationFailure(kind types.Kind, err error)
}

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Action is an alias for types.Action.
type Action = types.Action

// Action constants for synchronization events.
const (
	ActionSet        = types.Set
	ActionInvalidate = types.Invalidate
	ActionDelete     = types.Delete
	ActionClear      = types.Clear
)

// FetchFunc loads the value of a view from the transport.
type FetchFunc func(ctx context.Context) (any, error)

// DecodeFunc rebuilds a typed value from a persisted snapshot.
type DecodeFunc func(data []byte) (any, error)

// Query describes one view: its key, how to fetch it and, optionally, how
// to decode a persisted snapshot of it.
type Query struct {
	Key    keys.Key
	Fetch  FetchFunc
	Decode DecodeFunc
}

// Update is delivered to observers whenever a view's value changes or a
// background refresh fails.
type Update struct {
	Key       keys.Key
	Value     any
	Err       error
	FetchedAt time.Time
}

// Listener receives updates for an observed key.
type Listener func(Update)

// EntryState is a read-only view of one cache entry.
type EntryState struct {
	Key        string
	Value      any
	HasValue   bool
	FetchedAt  time.Time
	Stale      bool
	Fresh      bool
	Generation uint64
	Observers  int
}

// Stats represents coordinator statistics.
type Stats struct {
	Hits                int64
	Misses              int64
	Fetches             int64
	FetchErrors         int64
	Retries             int64
	Hydrations          int64
	Adoptions           int64
	Invalidations       int64
	PeerInvalidations   int64
	RejectedTransitions int64
	MutationFailures    int64
	Entries             int64
}
