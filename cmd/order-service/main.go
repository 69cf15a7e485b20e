package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/internal/clients"
	"order-fulfillment/internal/config"
	"order-fulfillment/internal/handlers"
	"order-fulfillment/internal/kafka"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/orders"
	"order-fulfillment/internal/rabbitmq"
	"order-fulfillment/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "order-service"

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

	if err := cfg.ValidateOrderService(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting order service", zap.String("port", cfg.Port), zap.String("transport", cfg.ReservationTransport))

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := store.Open(ctx, cfg.SQLiteDSN)
	if err != nil {
		logger.Fatal("Failed to open order database", zap.Error(err))
	}
	defer db.Close()

	orderRepo := store.NewOrderRepository(db)

	publisher, closePublisher, err := newReservationPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create reservation publisher", zap.Error(err))
	}
	defer closePublisher()

	service := orders.NewOrderService(
		store.NewBasketRepository(db),
		store.NewCatalogRepository(db),
		orderRepo,
		orderRepo,
		orders.NewURIComposer(cfg.PictureBaseURL),
		publisher,
		clients.NewDeliveryClient(cfg.DeliveryEndpointURL, cfg.DeliveryTimeout, logger),
		cfg,
		logger,
	)

	go orders.NewRedriver(service, cfg.RedriveInterval, logger).Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterOrderRoutes(router, handlers.NewCheckoutHandler(service, logger))

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal, stopping order service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}

func newReservationPublisher(cfg *config.Config, logger *zap.Logger) (orders.ReservationPublisher, func(), error) {
	if cfg.ReservationTransport == config.TransportKafka {
		writer, err := kafka.NewReservationWriter(cfg, serviceName)
		if err != nil {
			return nil, nil, err
		}
		publisher := kafka.NewPublisher(writer, logger)
		return publisher, func() { publisher.Close() }, nil
	}

	pool, err := rabbitmq.NewChannelPool(cfg.RabbitMQURL, cfg.ReservationExchange, cfg.ReservationQueue, cfg.ChannelPoolSize, logger)
	if err != nil {
		return nil, nil, err
	}
	return rabbitmq.NewPublisher(pool, cfg.ReservationExchange, logger), pool.Close, nil
}
