package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecomflow/fulfillment/internal/domain"
	"github.com/ecomflow/fulfillment/internal/events"
	"github.com/ecomflow/fulfillment/internal/handler"
	"github.com/ecomflow/fulfillment/internal/repository"
	"github.com/ecomflow/fulfillment/internal/saga"
	"github.com/ecomflow/fulfillment/internal/service"
	"github.com/ecomflow/fulfillment/pkg/config"
	"github.com/ecomflow/fulfillment/pkg/logger"
	"github.com/ecomflow/fulfillment/pkg/middleware"
	"github.com/ecomflow/fulfillment/pkg/resilience"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const dedupCacheSize = 16384

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	var (
		inventoryRepo repository.InventoryRepository
		orderRepo     repository.OrderRepository
		paymentRepo   repository.PaymentRepository
	)

	var publisher events.Publisher
	var subscriber saga.Subscriber

	var kafkaProducer *events.KafkaProducer
	var kafkaConsumer *events.KafkaConsumer

	if cfg.LocalMode {
		zlog.Info("Running in local mode, using in-memory stores and bus")
		inventoryRepo = repository.NewMemoryInventoryRepository()
		orderRepo = repository.NewMemoryOrderRepository()
		paymentRepo = repository.NewMemoryPaymentRepository()

		bus := events.NewMemoryBus(zlog)
		publisher = bus
		subscriber = bus
	} else {
		dynamoClient, err := repository.NewDynamoDBClient(ctx, cfg.AWSRegion)
		if err != nil {
			zlog.Fatal("Failed to create DynamoDB client", zap.Error(err))
		}
		inventoryRepo = repository.NewDynamoInventoryRepository(dynamoClient, cfg.InventoryTableName)
		orderRepo = repository.NewDynamoOrderRepository(dynamoClient, cfg.OrderTableName)
		paymentRepo = repository.NewDynamoPaymentRepository(dynamoClient, cfg.PaymentTableName)

		kafkaProducer = events.NewKafkaProducer(cfg.KafkaBrokers, zlog)
		kafkaConsumer = events.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, zlog)
		publisher = kafkaProducer
		subscriber = kafkaConsumer
	}

	inventoryService := service.NewInventoryService(inventoryRepo, zlog, cfg.CASMaxAttempts)
	orderService := service.NewOrderService(orderRepo, publisher, zlog, cfg.CASMaxAttempts)

	paymentService := service.NewPaymentService(
		paymentRepo,
		orderRepo,
		resilience.NewBreaker[*domain.Order](resilience.Settings{
			Name:        "order-lookup",
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     time.Duration(cfg.BreakerTimeoutSecs) * time.Second,
			Interval:    time.Duration(cfg.BreakerIntervalSecs) * time.Second,
		}, zlog),
		publisher,
		zlog,
		cfg.CASMaxAttempts,
	)

	dedup, err := saga.NewDedup(dedupCacheSize)
	if err != nil {
		zlog.Fatal("Failed to create dedup cache", zap.Error(err))
	}
	coordinator := saga.NewCoordinator(inventoryService, orderService, dedup, zlog)
	coordinator.Register(subscriber)

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Start(ctx); err != nil {
			zlog.Fatal("Failed to start Kafka consumer", zap.Error(err))
		}
	}

	inventoryHandler := handler.NewInventoryHandler(inventoryService, zlog)
	orderHandler := handler.NewOrderHandler(orderService, zlog)
	paymentHandler := handler.NewPaymentHandler(paymentService, zlog)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(zlog))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})

		v1.POST("/inventory", inventoryHandler.CreateInventory)
		v1.GET("/inventory", inventoryHandler.ListInventory)
		v1.GET("/inventory/low-stock", inventoryHandler.ListLowStock)
		v1.GET("/inventory/:id", inventoryHandler.GetInventory)
		v1.PATCH("/inventory/:id", inventoryHandler.UpdateInventory)
		v1.POST("/inventory/:id/reserve", inventoryHandler.ReserveStock)
		v1.POST("/inventory/:id/release", inventoryHandler.ReleaseStock)
		v1.POST("/inventory/:id/deduct", inventoryHandler.DeductStock)
		v1.POST("/inventory/:id/adjust", inventoryHandler.AdjustInventory)
		v1.GET("/inventory/:id/availability", inventoryHandler.CheckAvailability)

		v1.GET("/payments/vnpay/callback", paymentHandler.GatewayCallback)

		authed := v1.Group("", middleware.Principal())
		{
			authed.POST("/orders", orderHandler.CreateOrder)
			authed.GET("/orders", orderHandler.ListOrders)
			authed.GET("/orders/:id", orderHandler.GetOrder)
			authed.POST("/orders/:id/cancel", orderHandler.CancelOrder)
			authed.GET("/orders/:id/payments", paymentHandler.ListByOrder)

			authed.POST("/payments", paymentHandler.CreatePayment)
			authed.GET("/payments/:id", paymentHandler.GetPayment)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info("Starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Close(); err != nil {
			zlog.Error("Failed to close Kafka consumer", zap.Error(err))
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			zlog.Error("Failed to close Kafka producer", zap.Error(err))
		}
	}
	zlog.Info("Server exited")
}
