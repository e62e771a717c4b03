// Package domain holds the restaurant entities synchronized by the
// coordinator.
package domain

import (
	"time"

	"github.com/huykn/entity-sync/lifecycle"
	"github.com/huykn/entity-sync/types"
)

// OrderType is how an order is served.
type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeout  OrderType = "takeout"
	OrderTypeDelivery OrderType = "delivery"
)

// OrderItem is one line of an order.
type OrderItem struct {
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
}

// Order is a customer order, optionally bound to a table.
type Order struct {
	ID           string                `json:"id"`
	Number       string                `json:"number"`
	TableID      string                `json:"table_id,omitempty"`
	CustomerName string                `json:"customer_name"`
	Type         OrderType             `json:"type"`
	Items        []OrderItem           `json:"items"`
	TotalAmount  float64               `json:"total_amount"`
	Status       lifecycle.OrderStatus `json:"status"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func (o Order) EntityID() string       { return o.ID }
func (o Order) EntityKind() types.Kind { return types.KindOrder }
func (o Order) EntityStatus() string   { return string(o.Status) }

func (o Order) EntityRelations() []types.Relation {
	if o.TableID == "" {
		return nil
	}
	return []types.Relation{{Name: types.RelTable, ID: o.TableID}}
}

// WithStatus returns a copy of o in status s.
func (o Order) WithStatus(s string) Order {
	o.Status = lifecycle.OrderStatus(s)
	return o
}

// KitchenOrder is a ticket on a kitchen station's queue.
type KitchenOrder struct {
	ID         string                  `json:"id"`
	OrderID    string                  `json:"order_id"`
	StationID  string                  `json:"station_id"`
	TableID    string                  `json:"table_id,omitempty"`
	MenuItem   string                  `json:"menu_item"`
	Quantity   int                     `json:"quantity"`
	Notes      string                  `json:"notes,omitempty"`
	Priority   int                     `json:"priority"`
	Status     lifecycle.KitchenStatus `json:"status"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
}

func (k KitchenOrder) EntityID() string       { return k.ID }
func (k KitchenOrder) EntityKind() types.Kind { return types.KindKitchenOrder }
func (k KitchenOrder) EntityStatus() string   { return string(k.Status) }

func (k KitchenOrder) EntityRelations() []types.Relation {
	var rels []types.Relation
	if k.OrderID != "" {
		rels = append(rels, types.Relation{Name: types.RelOrder, ID: k.OrderID})
	}
	if k.StationID != "" {
		rels = append(rels, types.Relation{Name: types.RelStation, ID: k.StationID})
	}
	if k.TableID != "" {
		rels = append(rels, types.Relation{Name: types.RelTable, ID: k.TableID})
	}
	return rels
}

// WithStatus returns a copy of k in status s.
func (k KitchenOrder) WithStatus(s string) KitchenOrder {
	k.Status = lifecycle.KitchenStatus(s)
	return k
}

// Reservation is a booking of a table.
type Reservation struct {
	ID           string                      `json:"id"`
	TableID      string                      `json:"table_id,omitempty"`
	CustomerName string                      `json:"customer_name"`
	Phone        string                      `json:"phone,omitempty"`
	PartySize    int                         `json:"party_size"`
	ReservedFor  time.Time                   `json:"reserved_for"`
	Status       lifecycle.ReservationStatus `json:"status"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func (r Reservation) EntityID() string       { return r.ID }
func (r Reservation) EntityKind() types.Kind { return types.KindReservation }
func (r Reservation) EntityStatus() string   { return string(r.Status) }

func (r Reservation) EntityRelations() []types.Relation {
	if r.TableID == "" {
		return nil
	}
	return []types.Relation{{Name: types.RelTable, ID: r.TableID}}
}

// WithStatus returns a copy of r in status s.
func (r Reservation) WithStatus(s string) Reservation {
	r.Status = lifecycle.ReservationStatus(s)
	return r
}

// Station is a kitchen station (grill, fryer, pass). Reference data.
type Station struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (s Station) EntityID() string                  { return s.ID }
func (s Station) EntityKind() types.Kind            { return types.KindStation }
func (s Station) EntityStatus() string              { return "" }
func (s Station) EntityRelations() []types.Relation { return nil }

// Table is a dining table. Reference data.
type Table struct {
	ID       string `json:"id"`
	Number   int    `json:"number"`
	Seats    int    `json:"seats"`
	Location string `json:"location,omitempty"`
}

func (t Table) EntityID() string                  { return t.ID }
func (t Table) EntityKind() types.Kind            { return types.KindTable }
func (t Table) EntityStatus() string              { return "" }
func (t Table) EntityRelations() []types.Relation { return nil }
