package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/easybooktrip/loyalty-engine/internal/earning"
	"github.com/easybooktrip/loyalty-engine/internal/ledger"
	"github.com/easybooktrip/loyalty-engine/internal/vouchers"
	"github.com/easybooktrip/loyalty-engine/pkg/cache"
	"github.com/easybooktrip/loyalty-engine/pkg/common"
	"github.com/easybooktrip/loyalty-engine/pkg/config"
	"github.com/easybooktrip/loyalty-engine/pkg/database"
	"github.com/easybooktrip/loyalty-engine/pkg/eventbus"
	"github.com/easybooktrip/loyalty-engine/pkg/logger"
	"github.com/easybooktrip/loyalty-engine/pkg/middleware"
	"github.com/easybooktrip/loyalty-engine/pkg/redis"
)

const (
	serviceName = "loyalty-service"
	version     = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting loyalty service", zap.String("version", version))

	// Initialize database
	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	log.Info("Connected to database")

	// Redis-backed cache for tier and earning-rule configuration. The
	// service degrades to direct database reads when Redis is unavailable.
	var cacheManager *cache.Manager
	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Warn("Redis unavailable, running without config cache", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheManager = cache.NewManager(redisClient)
		log.Info("Connected to Redis")
	}

	// Event bus is optional: loyalty events are best-effort notifications
	var bus eventbus.Publisher
	var natsBus *eventbus.Bus
	if cfg.NATS.Enabled {
		natsBus, err = eventbus.New(eventbus.Config{
			URL:        cfg.NATS.URL,
			Name:       serviceName,
			StreamName: cfg.NATS.Stream,
		})
		if err != nil {
			log.Warn("NATS unavailable, events will not be published", zap.Error(err))
		} else {
			defer natsBus.Close()
			bus = natsBus
			log.Info("Connected to NATS", zap.String("stream", cfg.NATS.Stream))
		}
	}

	// Wire services
	ledgerRepo := ledger.NewRepository(db)
	ledgerService := ledger.NewService(ledgerRepo, cacheManager, bus)
	ledgerHandler := ledger.NewHandler(ledgerService)

	earningRepo := earning.NewRepository(db)
	earningService := earning.NewService(earningRepo, ledgerService, cacheManager, bus)
	earningHandler := earning.NewHandler(earningService)

	vouchersRepo := vouchers.NewRepository(db)
	vouchersService := vouchers.NewService(vouchersRepo, ledgerService, nil, bus)
	vouchersHandler := vouchers.NewHandler(vouchersService)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.Metrics(serviceName))

	// Health and readiness
	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/readyz", common.ReadinessProbe(serviceName, version, map[string]func() error{
		"database": func() error { return db.Ping(context.Background()) },
	}))

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Customer-facing routes (JWT)
	customer := router.Group("/api/v1/loyalty")
	customer.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	ledgerHandler.RegisterCustomerRoutes(customer)
	vouchersHandler.RegisterCustomerRoutes(customer)

	// Service-to-service routes (API key)
	internal := router.Group("/internal/v1/loyalty")
	internal.Use(middleware.InternalAPIKey())
	earningHandler.RegisterInternalRoutes(internal)
	vouchersHandler.RegisterInternalRoutes(internal)
	ledgerHandler.RegisterInternalRoutes(internal)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server starting", zap.String("port", cfg.Server.Port), zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with 30 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
