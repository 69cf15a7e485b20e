package kafka

import (
	"time"

	"order-fulfillment/internal/config"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const batchTimeout = 10 * time.Millisecond

// NewReservationWriter builds a traced writer for the reservation topic.
// Every write waits for all in-sync replicas.
func NewReservationWriter(cfg *config.Config, serviceName string) (*otelkafka.Writer, error) {
	base := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBroker),
		Topic:        cfg.KafkaReservationTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: batchTimeout,
	}

	return otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(otel.GetTracerProvider()),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(cfg.KafkaReservationTopic),
				attribute.String("messaging.kafka.client_id", serviceName),
			},
		),
	)
}

// NewReservationReader builds a group reader for the reservation topic.
// Offsets are committed explicitly by ConsumerService; trace context is read
// from the headers the traced writer injects.
func NewReservationReader(cfg *config.Config) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        []string{cfg.KafkaBroker},
		Topic:          cfg.KafkaReservationTopic,
		GroupID:        cfg.KafkaGroupID,
		CommitInterval: 0,
	})
}
