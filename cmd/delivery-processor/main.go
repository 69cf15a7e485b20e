package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/internal/config"
	"order-fulfillment/internal/delivery"
	"order-fulfillment/internal/handlers"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "delivery-processor"

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

	if err := cfg.ValidateDeliveryProcessor(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting delivery processor", zap.String("port", cfg.Port))

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	docs, err := newDocumentStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create document store", zap.Error(err))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterDeliveryRoutes(router, handlers.NewDeliveryHandler(delivery.NewNotifier(docs, cfg, logger), logger))

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal, stopping delivery processor")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}

func newDocumentStore(cfg *config.Config, logger *zap.Logger) (delivery.DocumentStore, error) {
	if cfg.CosmosEndpoint == "" {
		logger.Warn("COSMOS_ENDPOINT not set, storing delivery requests in memory")
		store := storage.NewMemoryDocumentStore()
		return store, nil
	}
	return storage.NewCosmosDocumentStore(cfg.CosmosEndpoint, cfg.CosmosKey, cfg.CosmosDatabaseID, cfg.CosmosContainerID, cfg.CosmosPartitionKeyPath)
}
