package store

import (
	"context"
	"database/sql"
	"errors"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
)

type BasketRepository struct {
	db *sql.DB
}

func NewBasketRepository(db *sql.DB) *BasketRepository {
	return &BasketRepository{db: db}
}

// GetWithItems loads a basket and its items in insertion order.
func (r *BasketRepository) GetWithItems(ctx context.Context, basketID int) (*models.Basket, error) {
	const op = "BasketRepository.GetWithItems"

	basket := &models.Basket{ID: basketID}
	err := r.db.QueryRowContext(ctx, `SELECT buyer_id FROM baskets WHERE id = ?`, basketID).Scan(&basket.BuyerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Errorf(apperr.NotFound, op, "basket %d not found", basketID)
	}
	if err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "query basket", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT catalog_item_id, unit_price, quantity FROM basket_items WHERE basket_id = ? ORDER BY id`, basketID)
	if err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "query basket items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.BasketItem
		if err := rows.Scan(&item.CatalogItemID, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, apperr.E(apperr.StorageFailure, op, "scan basket item", err)
		}
		basket.Items = append(basket.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "iterate basket items", err)
	}
	return basket, nil
}
