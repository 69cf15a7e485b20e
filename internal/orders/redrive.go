package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type pendingOrder struct {
	itemIDs  map[int]struct{}
	delivery bool
}

// RedriveDispatches re-sends every outbox dispatch still pending after the
// configured minimum age. Orders are reloaded from the repository so the
// payloads match what CreateOrder would have sent. It returns the number of
// orders attempted.
func (s *OrderService) RedriveDispatches(ctx context.Context) (int, error) {
	if s.outbox == nil {
		return 0, nil
	}

	ctx, span := s.tracer.Start(ctx, "RedriveDispatches")
	defer span.End()

	pending, err := s.outbox.PendingDispatches(ctx, s.now().Add(-s.redriveMinAge), s.redriveBatchSize)
	if err != nil {
		recordError(span, err)
		return 0, fmt.Errorf("load pending dispatches: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var orderIDs []int
	byOrder := make(map[int]*pendingOrder)
	for _, p := range pending {
		po, ok := byOrder[p.OrderID]
		if !ok {
			po = &pendingOrder{itemIDs: make(map[int]struct{})}
			byOrder[p.OrderID] = po
			orderIDs = append(orderIDs, p.OrderID)
		}
		switch p.Kind {
		case models.DispatchReservation:
			po.itemIDs[p.OrderItemID] = struct{}{}
		case models.DispatchDelivery:
			po.delivery = true
		}
	}
	span.SetAttributes(attribute.Int("redrive.orders", len(orderIDs)), attribute.Int("redrive.dispatches", len(pending)))

	var errs []error
	for _, orderID := range orderIDs {
		po := byOrder[orderID]

		order, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			s.logger.Error("Failed to reload order for re-drive", zap.Int("order_id", orderID), zap.Error(err))
			errs = append(errs, fmt.Errorf("reload order %d: %w", orderID, err))
			continue
		}

		items := make([]models.OrderItem, 0, len(po.itemIDs))
		for _, item := range order.Items {
			if _, ok := po.itemIDs[item.ID]; ok {
				items = append(items, item)
			}
		}
		if len(items) != len(po.itemIDs) {
			s.logger.Warn("Pending reservations reference unknown order items",
				zap.Int("order_id", orderID),
				zap.Int("pending", len(po.itemIDs)),
				zap.Int("found", len(items)),
			)
		}

		s.logger.Info("Re-driving dispatch",
			zap.Int("order_id", orderID),
			zap.Int("reservations", len(items)),
			zap.Bool("delivery", po.delivery),
		)
		if err := s.dispatch(ctx, order, items, po.delivery); err != nil {
			errs = append(errs, err)
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		recordError(span, err)
	}
	return len(orderIDs), err
}

// Redriver periodically re-drives pending dispatches until its context ends.
type Redriver struct {
	service  *OrderService
	interval time.Duration
	logger   *zap.Logger
}

func NewRedriver(service *OrderService, interval time.Duration, logger *zap.Logger) *Redriver {
	return &Redriver{service: service, interval: interval, logger: logger}
}

func (r *Redriver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Dispatch re-drive worker started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Dispatch re-drive worker stopped")
			return
		case <-ticker.C:
			n, err := r.service.RedriveDispatches(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Error("Re-drive pass incomplete", zap.Int("orders", n), zap.Error(err))
			} else if n > 0 {
				r.logger.Info("Re-drive pass complete", zap.Int("orders", n))
			}
		}
	}
}
