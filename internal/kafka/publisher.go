package kafka

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher sends reservation messages to a Kafka topic.
type Publisher struct {
	producer Producer
	logger   *zap.Logger
}

func NewPublisher(producer Producer, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

// PublishReservation writes one message and returns once the broker has
// acknowledged it.
func (p *Publisher) PublishReservation(ctx context.Context, body []byte) error {
	messageID := uuid.NewString()
	msg := kafkago.Message{
		Key:   []byte(messageID),
		Value: body,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}

	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to write reservation message: %w", err)
	}

	p.logger.Debug("Published reservation message", zap.String("message_id", messageID))
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
