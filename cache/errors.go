package cache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/huykn/entity-sync/types"
)

var (
	// ErrCacheClosed is returned when operations are performed on a closed coordinator.
	ErrCacheClosed = errors.New("coordinator is closed")

	// ErrInvalidConfig is returned when the options are invalid.
	ErrInvalidConfig = errors.New("invalid coordinator configuration")

	// ErrInvalidQuery is returned for a query without key or fetch function.
	ErrInvalidQuery = errors.New("query needs a key and a fetch function")

	// ErrInvalidMutation is returned for a mutation without a transport call.
	ErrInvalidMutation = errors.New("mutation needs a transport call")

	// ErrMutationInFlight is returned when SerializeMutations is on and the
	// entity already has a mutation outstanding.
	ErrMutationInFlight = errors.New("mutation already in flight for entity")

	// ErrUnexpectedValue is returned when a cached value does not have the
	// type its reader expects.
	ErrUnexpectedValue = errors.New("cached value has unexpected type")
)

// PartialBulkFailure describes the ids a bulk mutation could not apply.
// The rest of the batch succeeded and was committed.
type PartialBulkFailure struct {
	Kind   types.Kind
	Failed []string
}

func (e *PartialBulkFailure) Error() string {
	return fmt.Sprintf("bulk %s mutation failed for %d id(s): %s", e.Kind, len(e.Failed), strings.Join(e.Failed, ", "))
}
