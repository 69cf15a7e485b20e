package models

import "github.com/shopspring/decimal"

// Basket is a buyer's selection prior to checkout. It is read, never written, by this module.
type Basket struct {
	ID      int
	BuyerID string
	Items   []BasketItem
}

type BasketItem struct {
	CatalogItemID int
	UnitPrice     decimal.Decimal
	Quantity      int
}

type CatalogItem struct {
	ID         int
	Name       string
	PictureURI string
}

// CatalogItemIDs returns the distinct catalog ids referenced by the basket, in first-seen order.
func (b *Basket) CatalogItemIDs() []int {
	seen := make(map[int]struct{}, len(b.Items))
	ids := make([]int, 0, len(b.Items))
	for _, item := range b.Items {
		if _, ok := seen[item.CatalogItemID]; ok {
			continue
		}
		seen[item.CatalogItemID] = struct{}{}
		ids = append(ids, item.CatalogItemID)
	}
	return ids
}
