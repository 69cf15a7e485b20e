// Package reservation stages inbound reservation messages into blob storage.
//
// Delivery is at-least-once and staging is deliberately not deduplicated:
// every invocation writes a blob under a freshly generated name, so a message
// delivered twice yields two staged records. Downstream readers of the blob
// container must tolerate duplicates for the same itemId.
package reservation

import (
	"context"
	"encoding/json"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/config"
	"order-fulfillment/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const op = "HandleReservationMessage"

type BlobStore interface {
	Upload(ctx context.Context, name string, data []byte) error
}

type Consumer struct {
	blobs   BlobStore
	timeout time.Duration
	newName func() string
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewConsumer(blobs BlobStore, cfg *config.Config, logger *zap.Logger) *Consumer {
	return &Consumer{
		blobs:   blobs,
		timeout: cfg.StorageTimeout,
		newName: func() string { return uuid.NewString() + ".json" },
		logger:  logger,
		tracer:  otel.Tracer("order-fulfillment/reservation"),
	}
}

// HandleReservationMessage decodes one reservation message and uploads it under
// a new unique blob name. No record is returned unless the upload succeeded.
func (c *Consumer) HandleReservationMessage(ctx context.Context, raw []byte) (*models.StagedReservation, error) {
	ctx, span := c.tracer.Start(ctx, op)
	defer span.End()

	req, err := decodeReservation(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("reservation.item_id", req.ItemID), attribute.Int("reservation.quantity", req.Quantity))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.E(apperr.MalformedMessage, op, "encode reservation", err)
	}

	staged := &models.StagedReservation{Name: c.newName(), Order: req}

	uploadCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.blobs.Upload(uploadCtx, staged.Name, data); err != nil {
		err = apperr.E(apperr.StorageFailure, op, "upload "+staged.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.logger.Info("Reservation staged",
		zap.String("blob_name", staged.Name),
		zap.String("item_id", req.ItemID),
		zap.Int("quantity", req.Quantity),
	)
	return staged, nil
}

func decodeReservation(raw []byte) (models.ReservationRequest, error) {
	var req models.ReservationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, apperr.E(apperr.MalformedMessage, op, "decode payload", err)
	}
	if req.ItemID == "" {
		return req, apperr.Errorf(apperr.MalformedMessage, op, "missing itemId")
	}
	if req.Quantity <= 0 {
		return req, apperr.Errorf(apperr.MalformedMessage, op, "quantity must be positive, got %d", req.Quantity)
	}
	return req, nil
}
