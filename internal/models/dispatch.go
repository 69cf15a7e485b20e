package models

import "time"

// DispatchKind names a downstream branch recorded in the dispatch outbox.
type DispatchKind string

const (
	DispatchReservation DispatchKind = "reservation"
	DispatchDelivery    DispatchKind = "delivery"
)

// PendingDispatch is an outbox row that has not been acknowledged downstream yet.
// OrderItemID is zero for delivery rows.
type PendingDispatch struct {
	OrderID     int
	Kind        DispatchKind
	OrderItemID int
	CreatedAt   time.Time
}
