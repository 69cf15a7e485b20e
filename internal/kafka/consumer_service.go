package kafka

import (
	"context"
	"errors"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/reservation"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	defaultBackoff    = 200 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

type MessageHandler interface {
	HandleReservationMessage(ctx context.Context, raw []byte) (*models.StagedReservation, error)
}

// ConsumerService reads reservation messages from a group reader. An offset is
// committed only once its message is staged or dropped as malformed. Staging
// failures are retried in place with capped backoff and are never committed,
// so after a restart or rebalance the message is delivered again.
type ConsumerService struct {
	consumer   Consumer
	handler    MessageHandler
	tracker    *reservation.Tracker
	logger     *zap.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumerService(consumer Consumer, handler MessageHandler, tracker *reservation.Tracker, logger *zap.Logger) *ConsumerService {
	return &ConsumerService{
		consumer:   consumer,
		handler:    handler,
		tracker:    tracker,
		logger:     logger,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

func (c *ConsumerService) Start(ctx context.Context) error {
	c.logger.Info("Kafka consumer started. Waiting for messages...")

	for {
		msg, err := c.consumer.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info("Context done, exiting Kafka read loop", zap.Error(err))
				break
			}
			c.logger.Error("Error reading from Kafka", zap.Error(err))
			continue
		}

		if !c.processMessage(ctx, msg) {
			continue
		}
		if err := c.consumer.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit offset; message will be delivered again",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("Consumer service finished")
	return nil
}

// processMessage reports whether the message's offset may be committed.
func (c *ConsumerService) processMessage(ctx context.Context, msg kafkago.Message) bool {
	msgCtx := extractTraceContext(ctx, msg.Headers)
	log := c.logger.With(
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		staged, err := c.handler.HandleReservationMessage(msgCtx, msg.Value)
		outcome := reservation.Classify(err)

		switch outcome {
		case reservation.OutcomeStaged:
			c.tracker.Record(outcome)
			log.Info("Processed reservation",
				zap.String("blob_name", staged.Name),
				zap.String("item_id", staged.Order.ItemID),
			)
			return true
		case reservation.OutcomeMalformed:
			c.tracker.Record(outcome)
			log.Error("Dropping malformed reservation message", zap.Error(err))
			return true
		}

		log.Warn("Failed to stage reservation, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			c.tracker.Record(reservation.OutcomeFailed)
			log.Warn("Stopped before reservation was staged; offset left uncommitted")
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func extractTraceContext(ctx context.Context, headers []kafkago.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range headers {
		carrier[header.Key] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
