package entitysync

import (
	"errors"

	"github.com/huykn/entity-sync/cache"
	"github.com/huykn/entity-sync/lifecycle"
)

// ErrCacheClosed is returned when operations are performed on a closed coordinator.
var ErrCacheClosed = cache.ErrCacheClosed

// ErrInvalidConfig is returned when the configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig

// ErrMutationInFlight is returned when SerializeMutations rejects a write.
var ErrMutationInFlight = cache.ErrMutationInFlight

// ErrUnknownKind is returned for transitions of kinds without a lifecycle.
var ErrUnknownKind = lifecycle.ErrUnknownKind

// ErrRedisConnection is returned when Redis connection fails.
var ErrRedisConnection = errors.New("redis connection failed")

// InvalidTransitionError is an alias for lifecycle.InvalidTransitionError.
type InvalidTransitionError = lifecycle.InvalidTransitionError

// PartialBulkFailure is an alias for cache.PartialBulkFailure.
type PartialBulkFailure = cache.PartialBulkFailure
