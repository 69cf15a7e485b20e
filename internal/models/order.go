package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Wire formats carry prices as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type Address struct {
	Street  string `json:"street" binding:"required"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state"`
	Country string `json:"country" binding:"required"`
	ZipCode string `json:"zipCode" binding:"required"`
}

// Order is the persisted record of a completed checkout. ID and item IDs are
// assigned by the order repository.
type Order struct {
	ID         int
	BuyerID    string
	OrderDate  time.Time
	ShipToAddr Address
	Items      []OrderItem
}

type OrderItem struct {
	ID          int
	ItemOrdered CatalogItemOrdered
	UnitPrice   decimal.Decimal
	Units       int
}

// CatalogItemOrdered is a snapshot of the catalog item taken when the order was placed.
type CatalogItemOrdered struct {
	CatalogItemID int    `json:"catalogItemId"`
	ProductName   string `json:"productName"`
	PictureURI    string `json:"pictureUri"`
}

// Total sums unit price times units over every item without intermediate rounding.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Units))))
	}
	return total
}

// Item returns the order item with the given id.
func (o *Order) Item(id int) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}
