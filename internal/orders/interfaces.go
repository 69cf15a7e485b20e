package orders

import (
	"context"
	"time"

	"order-fulfillment/internal/models"
)

type BasketRepository interface {
	GetWithItems(ctx context.Context, basketID int) (*models.Basket, error)
}

type CatalogRepository interface {
	ListByIDs(ctx context.Context, ids []int) ([]models.CatalogItem, error)
}

// OrderRepository assigns order and item ids on Add.
type OrderRepository interface {
	Add(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, orderID int) (*models.Order, error)
}

// DispatchOutbox tracks which downstream dispatches of a stored order are still owed.
type DispatchOutbox interface {
	MarkDispatched(ctx context.Context, orderID int, kind models.DispatchKind, itemIDs ...int) error
	PendingDispatches(ctx context.Context, olderThan time.Time, limit int) ([]models.PendingDispatch, error)
}

type PictureURIComposer interface {
	ComposePicURI(uriTemplate string) string
}

// ReservationPublisher returns once the transport has accepted the message.
type ReservationPublisher interface {
	PublishReservation(ctx context.Context, body []byte) error
}

type DeliverySender interface {
	Send(ctx context.Context, body []byte) error
}
