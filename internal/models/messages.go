package models

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// ReservationRequest is the body of one reservation message, one per order item.
type ReservationRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// StagedReservation pairs the generated blob name with the request it wraps.
type StagedReservation struct {
	Name  string             `json:"name"`
	Order ReservationRequest `json:"order"`
}

// DeliveryRequest carries a whole order to the delivery processor.
type DeliveryRequest struct {
	ID         string          `json:"id"`
	FinalPrice decimal.Decimal `json:"finalPrice"`
	Items      []DeliveryItem  `json:"items"`
}

type DeliveryItem struct {
	ID          string             `json:"id"`
	ItemOrdered CatalogItemOrdered `json:"itemOrdered"`
	UnitPrice   decimal.Decimal    `json:"unitPrice"`
	Units       int                `json:"units"`
}

func NewReservationRequest(item OrderItem) ReservationRequest {
	return ReservationRequest{
		ItemID:   strconv.Itoa(item.ID),
		Quantity: item.Units,
	}
}

func NewDeliveryRequest(order *Order) DeliveryRequest {
	items := make([]DeliveryItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = DeliveryItem{
			ID:          strconv.Itoa(item.ID),
			ItemOrdered: item.ItemOrdered,
			UnitPrice:   item.UnitPrice,
			Units:       item.Units,
		}
	}
	return DeliveryRequest{
		ID:         strconv.Itoa(order.ID),
		FinalPrice: order.Total(),
		Items:      items,
	}
}
