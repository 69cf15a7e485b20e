package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/reservation"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type MessageHandler interface {
	HandleReservationMessage(ctx context.Context, raw []byte) (*models.StagedReservation, error)
}

type Worker struct {
	workerID  int
	channel   *amqp.Channel
	queueName string
	handler   MessageHandler
	tracker   *reservation.Tracker
	logger    *zap.Logger
}

func NewWorker(workerID int, conn *amqp.Connection, queueName string, handler MessageHandler, tracker *reservation.Tracker, logger *zap.Logger) (*Worker, error) {
	// Each worker gets its own channel
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for worker %d: %w", workerID, err)
	}

	// Each worker processes one message at a time
	err = ch.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS for worker %d: %w", workerID, err)
	}

	return &Worker{
		workerID:  workerID,
		channel:   ch,
		queueName: queueName,
		handler:   handler,
		tracker:   tracker,
		logger:    logger.With(zap.Int("worker_id", workerID)),
	}, nil
}

// Start consumes until ctx is done or the delivery channel closes.
func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.channel.Close()

	msgs, err := w.channel.Consume(
		w.queueName,                          // queue
		fmt.Sprintf("worker-%d", w.workerID), // consumer tag
		false,                                // auto-ack
		false,                                // exclusive
		false,                                // no-local
		false,                                // no-wait
		nil,                                  // args
	)
	if err != nil {
		w.logger.Error("Failed to register consumer", zap.Error(err))
		return
	}

	w.logger.Info("Worker started and waiting for messages")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Info("Delivery channel closed, worker stopped")
				return
			}
			w.processMessage(ctx, msg)
		}
	}
}

// processMessage acks staged messages, drops malformed ones and requeues
// messages whose staging failed.
func (w *Worker) processMessage(ctx context.Context, msg amqp.Delivery) {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier(msg.Headers))

	staged, err := w.handler.HandleReservationMessage(msgCtx, msg.Body)
	outcome := reservation.Classify(err)
	w.tracker.Record(outcome)

	switch outcome {
	case reservation.OutcomeStaged:
		if err := msg.Ack(false); err != nil {
			w.logger.Error("Failed to acknowledge message", zap.Error(err))
			return
		}
		w.logger.Info("Processed and acknowledged reservation",
			zap.String("blob_name", staged.Name),
			zap.String("item_id", staged.Order.ItemID),
		)
	case reservation.OutcomeMalformed:
		w.logger.Error("Dropping malformed reservation message",
			zap.Error(err),
			zap.String("message_id", msg.MessageId),
		)
		if err := msg.Nack(false, false); err != nil {
			w.logger.Error("Failed to reject message", zap.Error(err))
		}
	default:
		w.logger.Error("Failed to stage reservation, requeueing",
			zap.Error(err),
			zap.String("message_id", msg.MessageId),
			zap.Bool("redelivered", msg.Redelivered),
		)
		if err := msg.Nack(false, true); err != nil {
			w.logger.Error("Failed to requeue message", zap.Error(err))
		}
	}
}

// Stop closes the worker channel, which ends Start.
func (w *Worker) Stop() {
	if w.channel != nil {
		w.channel.Close()
	}
}
