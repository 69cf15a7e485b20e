package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type Publisher struct {
	pool     *ChannelPool
	exchange string
	logger   *zap.Logger
}

func NewPublisher(pool *ChannelPool, exchange string, logger *zap.Logger) *Publisher {
	return &Publisher{
		pool:     pool,
		exchange: exchange,
		logger:   logger,
	}
}

// PublishReservation publishes one reservation message and waits for the
// broker to confirm it. ctx bounds both the channel checkout and the confirm.
func (p *Publisher) PublishReservation(ctx context.Context, body []byte) error {
	ch, err := p.pool.GetChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get channel from pool: %w", err)
	}
	defer p.pool.ReturnChannel(ch)

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(headers))

	messageID := uuid.NewString()
	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange,            // exchange
		ReservationRoutingKey, // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			Headers:      headers,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish reservation: %w", err)
	}
	if confirmation == nil {
		return fmt.Errorf("channel is not in confirm mode")
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for broker confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected reservation message %s", messageID)
	}

	p.logger.Debug("Published reservation message", zap.String("message_id", messageID), zap.String("exchange", p.exchange))
	return nil
}
