package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
)

// OrderRepository stores orders together with their pending dispatch rows.
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

// Add inserts the order, its items and one pending outbox row per downstream
// dispatch in a single transaction. Ids are written back to order only after commit.
func (r *OrderRepository) Add(ctx context.Context, order *models.Order) error {
	const op = "OrderRepository.Add"

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.E(apperr.StorageFailure, op, "begin transaction", err)
	}
	defer tx.Rollback()

	now := r.now()
	orderDate := order.OrderDate
	if orderDate.IsZero() {
		orderDate = now
	}

	addr := order.ShipToAddr
	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (buyer_id, order_date, ship_street, ship_city, ship_state, ship_country, ship_zip)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.BuyerID, formatTime(orderDate), addr.Street, addr.City, addr.State, addr.Country, addr.ZipCode)
	if err != nil {
		return apperr.E(apperr.StorageFailure, op, "insert order", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return apperr.E(apperr.StorageFailure, op, "read order id", err)
	}

	itemIDs := make([]int, len(order.Items))
	for i, item := range order.Items {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, catalog_item_id, product_name, picture_uri, unit_price, units)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			orderID, item.ItemOrdered.CatalogItemID, item.ItemOrdered.ProductName, item.ItemOrdered.PictureURI,
			item.UnitPrice, item.Units)
		if err != nil {
			return apperr.E(apperr.StorageFailure, op, "insert order item", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return apperr.E(apperr.StorageFailure, op, "read order item id", err)
		}
		itemIDs[i] = int(id)

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dispatch_outbox (order_id, kind, order_item_id, created_at) VALUES (?, ?, ?, ?)`,
			orderID, models.DispatchReservation, id, formatTime(now)); err != nil {
			return apperr.E(apperr.StorageFailure, op, "record reservation dispatch", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dispatch_outbox (order_id, kind, order_item_id, created_at) VALUES (?, ?, 0, ?)`,
		orderID, models.DispatchDelivery, formatTime(now)); err != nil {
		return apperr.E(apperr.StorageFailure, op, "record delivery dispatch", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.E(apperr.StorageFailure, op, "commit order", err)
	}

	order.ID = int(orderID)
	order.OrderDate = orderDate
	for i := range order.Items {
		order.Items[i].ID = itemIDs[i]
	}
	return nil
}

// GetByID reloads a stored order with its items in insertion order.
func (r *OrderRepository) GetByID(ctx context.Context, orderID int) (*models.Order, error) {
	const op = "OrderRepository.GetByID"

	order := &models.Order{ID: orderID}
	var orderDate string
	err := r.db.QueryRowContext(ctx,
		`SELECT buyer_id, order_date, ship_street, ship_city, ship_state, ship_country, ship_zip
		 FROM orders WHERE id = ?`, orderID).
		Scan(&order.BuyerID, &orderDate, &order.ShipToAddr.Street, &order.ShipToAddr.City,
			&order.ShipToAddr.State, &order.ShipToAddr.Country, &order.ShipToAddr.ZipCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Errorf(apperr.NotFound, op, "order %d not found", orderID)
	}
	if err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "query order", err)
	}
	if order.OrderDate, err = parseTime(orderDate); err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "parse order date", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, catalog_item_id, product_name, picture_uri, unit_price, units
		 FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "query order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.ItemOrdered.CatalogItemID, &item.ItemOrdered.ProductName,
			&item.ItemOrdered.PictureURI, &item.UnitPrice, &item.Units); err != nil {
			return nil, apperr.E(apperr.StorageFailure, op, "scan order item", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "iterate order items", err)
	}
	return order, nil
}
