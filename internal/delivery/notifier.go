// Package delivery persists delivery requests as documents keyed by order id.
// Repeated requests for the same order replace the stored document.
package delivery

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
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

const op = "HandleDeliveryRequest"

type DocumentStore interface {
	EnsureContainer(ctx context.Context) error
	Upsert(ctx context.Context, id string, doc []byte) (int, error)
}

type Notifier struct {
	store   DocumentStore
	timeout time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
	ensured atomic.Bool
}

func NewNotifier(store DocumentStore, cfg *config.Config, logger *zap.Logger) *Notifier {
	return &Notifier{
		store:   store,
		timeout: cfg.StorageTimeout,
		logger:  logger,
		tracer:  otel.Tracer("order-fulfillment/delivery"),
	}
}

// HandleDeliveryRequest validates raw as a delivery request and upserts it
// under its order id. It returns the status code reported by the store.
func (n *Notifier) HandleDeliveryRequest(ctx context.Context, raw []byte) (int, error) {
	ctx, span := n.tracer.Start(ctx, op)
	defer span.End()

	req, err := decodeDelivery(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.String("delivery.order_id", req.ID), attribute.Int("delivery.items", len(req.Items)))

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.ensureContainer(ctx); err != nil {
		err = apperr.E(apperr.StorageFailure, op, "ensure container", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	status, err := n.store.Upsert(ctx, req.ID, raw)
	if err != nil {
		err = apperr.E(apperr.StorageFailure, op, "upsert delivery "+req.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return status, err
	}

	n.logger.Info("Delivery request stored",
		zap.String("order_id", req.ID),
		zap.Int("status", status),
		zap.Int("items", len(req.Items)),
	)
	return status, nil
}

// ensureContainer runs EnsureContainer until it first succeeds. Concurrent
// first requests may each create the container; the store tolerates that.
func (n *Notifier) ensureContainer(ctx context.Context) error {
	if n.ensured.Load() {
		return nil
	}
	if err := n.store.EnsureContainer(ctx); err != nil {
		return err
	}
	n.ensured.Store(true)
	return nil
}

func decodeDelivery(raw []byte) (models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, apperr.E(apperr.MalformedMessage, op, "decode payload", err)
	}
	if strings.TrimSpace(req.ID) == "" {
		return req, apperr.Errorf(apperr.MalformedMessage, op, "missing id")
	}
	return req, nil
}
