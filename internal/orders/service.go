package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/config"
	"order-fulfillment/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "order-fulfillment/orders"

// OrderService turns baskets into stored orders and propagates each order to
// the reservation and delivery pipelines.
type OrderService struct {
	baskets   BasketRepository
	catalog   CatalogRepository
	orders    OrderRepository
	outbox    DispatchOutbox
	uris      PictureURIComposer
	publisher ReservationPublisher
	delivery  DeliverySender

	publishTimeout   time.Duration
	deliveryTimeout  time.Duration
	redriveMinAge    time.Duration
	redriveBatchSize int

	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewOrderService wires the service. outbox may be nil, in which case
// dispatch outcomes are not recorded and RedriveDispatches is a no-op.
func NewOrderService(
	baskets BasketRepository,
	catalog CatalogRepository,
	orders OrderRepository,
	outbox DispatchOutbox,
	uris PictureURIComposer,
	publisher ReservationPublisher,
	delivery DeliverySender,
	cfg *config.Config,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		baskets:          baskets,
		catalog:          catalog,
		orders:           orders,
		outbox:           outbox,
		uris:             uris,
		publisher:        publisher,
		delivery:         delivery,
		publishTimeout:   cfg.PublishTimeout,
		deliveryTimeout:  cfg.DeliveryTimeout,
		redriveMinAge:    cfg.RedriveMinAge,
		redriveBatchSize: cfg.RedriveBatchSize,
		logger:           logger,
		tracer:           otel.Tracer(tracerName),
		now:              time.Now,
	}
}

// CreateOrder converts the basket into an order, stores it and dispatches it
// downstream. Once the order is stored its id is returned even when dispatch
// fails; the error then carries PartialDispatchFailure and/or
// DeliveryDispatchFailure and the caller must not create the order again.
func (s *OrderService) CreateOrder(ctx context.Context, basketID int, shippingAddress models.Address) (int, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(attribute.Int("basket.id", basketID)))
	defer span.End()

	order, err := s.buildOrder(ctx, basketID, shippingAddress)
	if err != nil {
		recordError(span, err)
		return 0, err
	}

	if err := s.orders.Add(ctx, order); err != nil {
		err = apperr.E(apperr.StorageFailure, "CreateOrder", fmt.Sprintf("persist order for basket %d", basketID), err)
		recordError(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("order.id", order.ID), attribute.Int("order.items", len(order.Items)))

	s.logger.Info("Order stored",
		zap.Int("order_id", order.ID),
		zap.Int("basket_id", basketID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total().String()),
	)

	if err := s.dispatch(ctx, order, order.Items, true); err != nil {
		recordError(span, err)
		return order.ID, err
	}

	span.SetStatus(codes.Ok, "order created and dispatched")
	return order.ID, nil
}

func (s *OrderService) buildOrder(ctx context.Context, basketID int, shippingAddress models.Address) (*models.Order, error) {
	const op = "CreateOrder"

	basket, err := s.baskets.GetWithItems(ctx, basketID)
	if err != nil {
		return nil, fmt.Errorf("load basket %d: %w", basketID, err)
	}
	if basket == nil {
		return nil, apperr.Errorf(apperr.NotFound, op, "basket %d not found", basketID)
	}
	if len(basket.Items) == 0 {
		return nil, apperr.Errorf(apperr.InvalidState, op, "empty basket %d", basketID)
	}

	catalogItems, err := s.catalog.ListByIDs(ctx, basket.CatalogItemIDs())
	if err != nil {
		return nil, fmt.Errorf("load catalog items for basket %d: %w", basketID, err)
	}

	byID := make(map[int]models.CatalogItem, len(catalogItems))
	for _, item := range catalogItems {
		if _, dup := byID[item.ID]; dup {
			return nil, apperr.Errorf(apperr.InvalidState, op, "catalog item %d resolved more than once", item.ID)
		}
		byID[item.ID] = item
	}

	var unresolved []int
	items := make([]models.OrderItem, 0, len(basket.Items))
	for _, basketItem := range basket.Items {
		catalogItem, ok := byID[basketItem.CatalogItemID]
		if !ok {
			unresolved = append(unresolved, basketItem.CatalogItemID)
			continue
		}
		items = append(items, models.OrderItem{
			ItemOrdered: models.CatalogItemOrdered{
				CatalogItemID: catalogItem.ID,
				ProductName:   catalogItem.Name,
				PictureURI:    s.uris.ComposePicURI(catalogItem.PictureURI),
			},
			UnitPrice: basketItem.UnitPrice,
			Units:     basketItem.Quantity,
		})
	}
	if len(unresolved) > 0 {
		return nil, apperr.Errorf(apperr.InvalidState, op, "basket %d references unknown catalog items %v", basketID, unresolved)
	}

	return &models.Order{
		BuyerID:    basket.BuyerID,
		OrderDate:  s.now(),
		ShipToAddr: shippingAddress,
		Items:      items,
	}, nil
}

// dispatch runs the reservation fan-out for items and, if sendDelivery is set,
// the delivery notification. The two branches run concurrently and neither
// waits on the other's outcome.
func (s *OrderService) dispatch(ctx context.Context, order *models.Order, items []models.OrderItem, sendDelivery bool) error {
	var (
		wg          sync.WaitGroup
		reserveErr  error
		deliveryErr error
	)

	if len(items) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reserveErr = s.reserveOrderItems(ctx, order, items)
		}()
	}
	if sendDelivery {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliveryErr = s.sendDeliveryRequest(ctx, order)
		}()
	}
	wg.Wait()

	return errors.Join(reserveErr, deliveryErr)
}

// reserveOrderItems publishes one reservation message per item concurrently and
// waits for every transport acknowledgement. items may be a subset of
// order.Items; failed indices are always positions in order.Items.
func (s *OrderService) reserveOrderItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	orderID := order.ID
	ctx, span := s.tracer.Start(ctx, "ReserveOrderItems", trace.WithAttributes(
		attribute.Int("order.id", orderID),
		attribute.Int("reservation.messages", len(items)),
	))
	defer span.End()

	results := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		body, err := json.Marshal(models.NewReservationRequest(item))
		if err != nil {
			results[i] = fmt.Errorf("marshal reservation for item %d: %w", item.ID, err)
			continue
		}

		wg.Add(1)
		go func(i int, body []byte) {
			defer wg.Done()
			pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
			defer cancel()
			results[i] = s.publisher.PublishReservation(pubCtx, body)
		}(i, body)
	}
	wg.Wait()

	positions := make(map[int]int, len(order.Items))
	for pos, item := range order.Items {
		positions[item.ID] = pos
	}

	failed := make(map[int]error)
	var failedItemIDs []int
	accepted := make([]int, 0, len(items))
	for i, err := range results {
		if err != nil {
			pos, ok := positions[items[i].ID]
			if !ok {
				pos = i
			}
			failed[pos] = err
			failedItemIDs = append(failedItemIDs, items[i].ID)
			continue
		}
		accepted = append(accepted, items[i].ID)
	}

	if len(accepted) > 0 {
		s.markDispatched(ctx, orderID, models.DispatchReservation, accepted...)
	}

	if len(failed) > 0 {
		dispatchErr := apperr.NewDispatchError(failed)
		s.logger.Error("Reservation fan-out incomplete",
			zap.Int("order_id", orderID),
			zap.Ints("failed_indices", dispatchErr.FailedIndices),
			zap.Ints("failed_item_ids", failedItemIDs),
			zap.Int("accepted", len(accepted)),
			zap.Error(dispatchErr),
		)
		err := apperr.E(apperr.PartialDispatchFailure, "ReserveOrderItems", fmt.Sprintf("order %d", orderID), dispatchErr)
		recordError(span, err)
		return err
	}

	s.logger.Info("Reservation messages accepted", zap.Int("order_id", orderID), zap.Int("messages", len(items)))
	return nil
}

func (s *OrderService) sendDeliveryRequest(ctx context.Context, order *models.Order) error {
	ctx, span := s.tracer.Start(ctx, "SendDeliveryRequest", trace.WithAttributes(attribute.Int("order.id", order.ID)))
	defer span.End()

	req := models.NewDeliveryRequest(order)
	body, err := json.Marshal(req)
	if err != nil {
		err = apperr.E(apperr.DeliveryDispatchFailure, "SendDeliveryRequest", fmt.Sprintf("marshal order %d", order.ID), err)
		recordError(span, err)
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()
	if err := s.delivery.Send(sendCtx, body); err != nil {
		s.logger.Error("Delivery request failed", zap.Int("order_id", order.ID), zap.Error(err))
		err = apperr.E(apperr.DeliveryDispatchFailure, "SendDeliveryRequest", fmt.Sprintf("order %d", order.ID), err)
		recordError(span, err)
		return err
	}

	s.markDispatched(ctx, order.ID, models.DispatchDelivery)
	s.logger.Info("Delivery request sent", zap.Int("order_id", order.ID), zap.String("final_price", req.FinalPrice.String()))
	return nil
}

// markDispatched is best effort: a lost mark only means the dispatch is sent again.
func (s *OrderService) markDispatched(ctx context.Context, orderID int, kind models.DispatchKind, itemIDs ...int) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.MarkDispatched(ctx, orderID, kind, itemIDs...); err != nil {
		s.logger.Warn("Failed to record dispatch; it will be re-driven",
			zap.Int("order_id", orderID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
