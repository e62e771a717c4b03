package lifecycle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/huykn/entity-sync/types"
)

// Built-in machines.
var (
	Orders        = mustMachine(types.KindOrder, orderStatuses, orderEdges)
	KitchenOrders = mustMachine(types.KindKitchenOrder, kitchenStatuses, kitchenEdges)
	Reservations  = mustMachine(types.KindReservation, reservationStatuses, reservationEdges)
)

// ErrUnknownKind is returned for kinds that have no status lifecycle.
var ErrUnknownKind = errors.New("entity kind has no lifecycle")

var registry = map[types.Kind]Guard{
	types.KindOrder:        AsGuard(Orders),
	types.KindKitchenOrder: AsGuard(KitchenOrders),
	types.KindReservation:  AsGuard(Reservations),
}

// For returns the guard registered for kind.
func For(kind types.Kind) (Guard, bool) {
	g, ok := registry[kind]
	return g, ok
}

// Kinds returns every kind with a lifecycle, sorted.
func Kinds() []types.Kind {
	out := make([]types.Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TransitionTable returns the legal transitions of kind, or nil when the
// kind has no lifecycle.
func TransitionTable(kind types.Kind) map[string][]string {
	g, ok := registry[kind]
	if !ok {
		return nil
	}
	return g.TableNames()
}

// CanTransition reports whether from -> to is legal for kind.
func CanTransition(kind types.Kind, from, to string) bool {
	g, ok := registry[kind]
	if !ok {
		return false
	}
	return g.Check(from, to) == nil
}

// ApplyTransition fails with *InvalidTransitionError when from -> to is not
// legal for kind.
func ApplyTransition(kind types.Kind, from, to string) error {
	g, ok := registry[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return g.Check(from, to)
}

// IsInvalidTransition reports whether err carries an *InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}
