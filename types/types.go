package types

// Kind identifies an entity kind (orders, kitchen orders, reservations, reference data).
type Kind string

// Entity kinds known to the coordinator.
const (
	KindOrder         Kind = "order"
	KindKitchenOrder  Kind = "kitchen_order"
	KindReservation   Kind = "reservation"
	KindStation       Kind = "station"
	KindTable         Kind = "table"
	KindInventoryItem Kind = "inventory_item"
)

// Relation is a foreign reference from an entity to another aggregate,
// e.g. an order's table or a kitchen order's parent order.
type Relation struct {
	Name string `json:"name"` // "tableID", "orderID", "stationID"
	ID   string `json:"id"`
}

// Relation names used by the built-in entities.
const (
	RelTable   = "tableID"
	RelOrder   = "orderID"
	RelStation = "stationID"
)

// Entity is anything the coordinator can cache in a detail view and
// invalidate by relation.
type Entity interface {
	EntityID() string
	EntityKind() Kind
	EntityStatus() string
	EntityRelations() []Relation
}

// Action is the kind of synchronization event exchanged between coordinators.
type Action string

const (
	Set        Action = "set"
	Invalidate Action = "invalidate"
	Delete     Action = "delete"
	Clear      Action = "clear"
)

// InvalidationEvent represents a cache synchronization event.
// Keys carries canonical cache keys; Clear ignores them. When Kind is set
// the event describes a committed mutation and receivers also invalidate
// the list and aggregate views of Kind, the details of IDs and the
// byRelation views referencing Relations.
type InvalidationEvent struct {
	Keys       []string   `json:"keys"`
	Kind       Kind       `json:"kind,omitempty"`
	IDs        []string   `json:"ids,omitempty"`
	Relations  []Relation `json:"relations,omitempty"`
	Sender     string     `json:"sender"`
	Action     Action     `json:"action"`
	MutationID string     `json:"mutation_id,omitempty"`
}
