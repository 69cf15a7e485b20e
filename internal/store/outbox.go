package store

import (
	"context"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
)

// MarkDispatched records that downstream accepted the given dispatches. Delivery
// rows have no item id; call it without itemIDs for them.
func (r *OrderRepository) MarkDispatched(ctx context.Context, orderID int, kind models.DispatchKind, itemIDs ...int) error {
	if len(itemIDs) == 0 {
		itemIDs = []int{0}
	}

	in, ids := placeholders(itemIDs)
	args := append([]any{formatTime(r.now()), orderID, kind}, ids...)
	_, err := r.db.ExecContext(ctx,
		`UPDATE dispatch_outbox SET dispatched_at = ?
		 WHERE order_id = ? AND kind = ? AND dispatched_at IS NULL AND order_item_id IN (`+in+`)`, args...)
	if err != nil {
		return apperr.E(apperr.StorageFailure, "OrderRepository.MarkDispatched", "update outbox", err)
	}
	return nil
}

// PendingDispatches returns up to limit undispatched rows created at or before olderThan, oldest first.
func (r *OrderRepository) PendingDispatches(ctx context.Context, olderThan time.Time, limit int) ([]models.PendingDispatch, error) {
	const op = "OrderRepository.PendingDispatches"

	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, kind, order_item_id, created_at FROM dispatch_outbox
		 WHERE dispatched_at IS NULL AND created_at <= ?
		 ORDER BY id LIMIT ?`, formatTime(olderThan), limit)
	if err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "query outbox", err)
	}
	defer rows.Close()

	var pending []models.PendingDispatch
	for rows.Next() {
		var (
			p         models.PendingDispatch
			createdAt string
		)
		if err := rows.Scan(&p.OrderID, &p.Kind, &p.OrderItemID, &createdAt); err != nil {
			return nil, apperr.E(apperr.StorageFailure, op, "scan outbox row", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, apperr.E(apperr.StorageFailure, op, "parse outbox timestamp", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.E(apperr.StorageFailure, op, "iterate outbox", err)
	}
	return pending, nil
}
