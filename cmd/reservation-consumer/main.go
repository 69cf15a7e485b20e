package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"order-fulfillment/internal/config"
	"order-fulfillment/internal/kafka"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/rabbitmq"
	"order-fulfillment/internal/reservation"
	"order-fulfillment/internal/storage"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const serviceName = "reservation-consumer"

func main() {
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.Setup(ctx, cfg, serviceName)
	if err != nil {
		panic(err)
	}
	logger := observability.NewLogger(cfg, serviceName)
	defer logger.Sync()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			logger.Error("Failed to shut down telemetry", zap.Error(err))
		}
	}()

	if err := cfg.ValidateReservationConsumer(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	blobs, err := newBlobStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create blob store", zap.Error(err))
	}

	consumer := reservation.NewConsumer(blobs, cfg, logger)
	tracker := reservation.NewTracker()

	if cfg.ReservationTransport == config.TransportKafka {
		runKafka(ctx, cfg, consumer, tracker, logger)
	} else {
		runAMQP(ctx, cfg, consumer, tracker, logger)
	}

	tracker.LogSummary(logger)
	logger.Info("Reservation consumer shut down gracefully")
}

func newBlobStore(cfg *config.Config, logger *zap.Logger) (reservation.BlobStore, error) {
	if cfg.BlobServiceURL == "" {
		logger.Warn("BLOB_SERVICE_URL not set, staging reservations in memory")
		return storage.NewMemoryBlobStore(), nil
	}
	return storage.NewAzureBlobStore(cfg.BlobServiceURL, cfg.BlobSASToken, cfg.BlobContainer)
}

func runAMQP(ctx context.Context, cfg *config.Config, consumer *reservation.Consumer, tracker *reservation.Tracker, logger *zap.Logger) {
	logger.Info("Starting reservation consumer", zap.Int("workers", cfg.NumWorkers), zap.String("queue", cfg.ReservationQueue))

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open a channel", zap.Error(err))
	}
	if err := rabbitmq.DeclareTopology(ch, cfg.ReservationExchange, cfg.ReservationQueue); err != nil {
		logger.Fatal("Failed to declare topology", zap.Error(err))
	}
	ch.Close()

	var wg sync.WaitGroup
	workers := make([]*rabbitmq.Worker, cfg.NumWorkers)
	for i := 0; i < cfg.NumWorkers; i++ {
		worker, err := rabbitmq.NewWorker(i+1, conn, cfg.ReservationQueue, consumer, tracker, logger)
		if err != nil {
			logger.Fatal("Failed to create worker", zap.Int("worker_id", i+1), zap.Error(err))
		}
		workers[i] = worker

		wg.Add(1)
		go worker.Start(ctx, &wg)
	}

	logger.Info("All workers started", zap.Int("workers", cfg.NumWorkers))

	<-ctx.Done()
	logger.Info("Received shutdown signal, stopping workers")

	for _, worker := range workers {
		worker.Stop()
	}
	wg.Wait()
}

func runKafka(ctx context.Context, cfg *config.Config, consumer *reservation.Consumer, tracker *reservation.Tracker, logger *zap.Logger) {
	logger.Info("Starting reservation consumer", zap.String("topic", cfg.KafkaReservationTopic), zap.String("group", cfg.KafkaGroupID))

	reader := kafka.NewReservationReader(cfg)
	defer reader.Close()

	if err := kafka.NewConsumerService(reader, consumer, tracker, logger).Start(ctx); err != nil {
		logger.Error("Kafka consumer stopped with error", zap.Error(err))
	}
}
