package lifecycle

// OrderStatus is the status of a customer order.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderPaid      OrderStatus = "PAID"
	OrderPreparing OrderStatus = "PREPARING"
	OrderReady     OrderStatus = "READY"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// KitchenStatus is the status of a kitchen ticket.
type KitchenStatus string

const (
	KitchenNew       KitchenStatus = "NEW"
	KitchenPreparing KitchenStatus = "PREPARING"
	KitchenReady     KitchenStatus = "READY"
	KitchenCompleted KitchenStatus = "COMPLETED"
	KitchenCancelled KitchenStatus = "CANCELLED"
)

// ReservationStatus is the status of a table reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCheckedIn ReservationStatus = "CHECKED_IN"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationNoShow    ReservationStatus = "NO_SHOW"
)

var orderStatuses = []OrderStatus{
	OrderCreated, OrderPaid, OrderPreparing, OrderReady, OrderCompleted, OrderCancelled,
}

var orderEdges = map[OrderStatus][]OrderStatus{
	OrderCreated:   {OrderPaid, OrderCancelled},
	OrderPaid:      {OrderPreparing, OrderCancelled},
	OrderPreparing: {OrderReady, OrderCancelled},
	OrderReady:     {OrderCompleted, OrderCancelled},
	OrderCompleted: {},
	OrderCancelled: {},
}

var kitchenStatuses = []KitchenStatus{
	KitchenNew, KitchenPreparing, KitchenReady, KitchenCompleted, KitchenCancelled,
}

var kitchenEdges = map[KitchenStatus][]KitchenStatus{
	KitchenNew:       {KitchenPreparing, KitchenCancelled},
	KitchenPreparing: {KitchenReady, KitchenCancelled},
	KitchenReady:     {KitchenCompleted},
	KitchenCompleted: {},
	KitchenCancelled: {},
}

var reservationStatuses = []ReservationStatus{
	ReservationPending, ReservationConfirmed, ReservationCheckedIn,
	ReservationCompleted, ReservationCancelled, ReservationNoShow,
}

var reservationEdges = map[ReservationStatus][]ReservationStatus{
	ReservationPending:   {ReservationConfirmed, ReservationCancelled},
	ReservationConfirmed: {ReservationCheckedIn, ReservationNoShow, ReservationCancelled},
	ReservationCheckedIn: {ReservationCompleted, ReservationCancelled},
	ReservationCompleted: {},
	ReservationCancelled: {},
	ReservationNoShow:    {},
}
