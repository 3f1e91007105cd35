package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/cache"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients/amazon"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients/flowtrac"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients/shipstation"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients/shopify"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/config"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/database"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/events"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/handlers"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/jobs"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/metrics"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/middleware"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/repository"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/secrets"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/services"
)

const redisKeyPrefix = "inventory-sync:"

func main() {
	// Initialize logger
	logger := logrus.StandardLogger()
	logger.SetOutput(os.Stdout)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database models migrated")

	// Initialize GCP Secret Manager
	var secretManager *secrets.GCPSecretManager
	if cfg.GCPProjectID != "" {
		secretManager, err = secrets.NewGCPSecretManager(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Warnf("Failed to initialize GCP Secret Manager: %v", err)
			secretManager = nil
		} else {
			logger.Info("GCP Secret Manager initialized")
			defer secretManager.Close()
		}
	}

	// Upstream clients
	warehouse := flowtrac.NewFlowtracClient()
	creds, err := secrets.WarehouseCredentials(ctx, secretManager, cfg.Warehouse)
	if err != nil {
		logger.Fatalf("Failed to resolve warehouse credentials: %v", err)
	}
	if err := warehouse.Initialize(ctx, creds); err != nil {
		logger.Fatalf("Failed to initialize warehouse client: %v", err)
	}
	channelClients := buildChannelClients(ctx, cfg, secretManager, logger)
	if len(channelClients) == 0 {
		logger.Warn("No sales channels configured, sessions will only refresh the warehouse snapshot")
	}

	m := metrics.New()

	// Initialize repositories
	syncRepo := repository.NewSyncRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	mappingRepo := repository.NewMappingRepository(db)

	// Initialize services
	mappingService := services.NewMappingService(mappingRepo)
	dispatcher := services.NewDispatcher(
		channelClients,
		services.NewChannelSemaphore(&services.ChannelConcurrencyConfig{
			MaxConcurrentPerChannel: cfg.SyncChannelConcurrency,
			QueueTimeout:            30 * time.Second,
		}),
		cfg.VerifyUpdates,
		m,
	)
	syncService := services.NewSyncService(syncRepo, inventoryRepo, mappingService, warehouse, dispatcher, cfg)
	syncService.SetMetrics(m)

	// Optional shared state
	var startLimiter middleware.Limiter = middleware.NewLocalLimiter(float64(cfg.StartThrottlePerMinute)/60, cfg.StartThrottlePerMinute)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.Connect(cfg.RedisURL)
		if err != nil {
			logger.Warnf("Failed to connect to Redis, start guard disabled: %v", err)
		} else {
			syncService.SetStartGuard(cache.NewStartGuard(redisClient, redisKeyPrefix, cfg.SyncLeaseTTL))
			startLimiter = cache.NewThrottle(redisClient, redisKeyPrefix, cfg.StartThrottlePerMinute, time.Minute)
			logger.Info("Redis start guard enabled")
		}
	}
	if cfg.StartThrottlePerMinute <= 0 {
		startLimiter = nil
	}

	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warnf("Failed to connect to NATS, session events disabled: %v", err)
		} else {
			syncService.SetPublisher(publisher)
			logger.Info("NATS session events enabled")
		}
	}

	// Scheduled sync
	jobCtx, jobCancel := context.WithCancel(ctx)
	var syncJob *jobs.SyncJob
	if cfg.SyncScheduleInterval > 0 {
		syncJob = jobs.NewSyncJob(syncService, logger, cfg.SyncScheduleInterval, cfg.SyncTimeBudget)
		go syncJob.Start(jobCtx)
	}

	router := setupRouter(cfg, logger, handlers.Routes{
		Health:       handlers.NewHealthHandler(db),
		Sync:         handlers.NewSyncHandler(syncService, cfg),
		Mapping:      handlers.NewMappingHandler(mappingService, syncService.Enricher()),
		Inventory:    handlers.NewInventoryHandler(inventoryRepo),
		Metrics:      m.Handler(),
		StartLimiter: startLimiter,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Inventory sync service starting on port %s (env: %s)", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	jobCancel()
	if syncJob != nil {
		syncJob.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	publisher.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Server exited")
}

// buildChannelClients initializes the configured channels. A channel whose
// credentials cannot be resolved is left out rather than failing startup.
func buildChannelClients(ctx context.Context, cfg *config.Config, sm *secrets.GCPSecretManager, logger *logrus.Logger) map[models.ChannelType]clients.ChannelClient {
	out := make(map[models.ChannelType]clients.ChannelClient)

	for _, name := range cfg.SyncChannels {
		channel := models.ChannelType(strings.ToUpper(name))

		var (
			client clients.ChannelClient
			creds  map[string]interface{}
			err    error
		)
		switch channel {
		case models.ChannelShopify:
			client = shopify.NewShopifyClient()
			creds, err = secrets.ShopifyCredentials(ctx, sm, cfg.Shopify)
		case models.ChannelAmazon:
			client = amazon.NewAmazonClient()
			creds, err = secrets.AmazonCredentials(ctx, sm, cfg.Amazon)
		case models.ChannelShipStation:
			client = shipstation.NewShipStationClient()
			creds, err = secrets.ShipStationCredentials(ctx, sm, cfg.ShipStation)
		default:
			logger.WithError(&clients.UnsupportedChannelError{ChannelType: name}).Warn("Skipping channel")
			continue
		}

		if err == nil {
			err = client.Initialize(ctx, creds)
		}
		if err != nil {
			logger.WithError(err).WithField("channel", channel).Warn("Channel disabled")
			continue
		}
		out[channel] = client
		logger.WithField("channel", channel).Info("Channel enabled")
	}
	return out
}

// setupRouter configures the HTTP router
func setupRouter(cfg *config.Config, logger *logrus.Logger, routes handlers.Routes) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	// Security headers middleware
	router.Use(middleware.SecurityHeaders())

	// CORS middleware
	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	var origins []string
	if allowedOrigins != "" {
		origins = strings.Split(allowedOrigins, ",")
	} else {
		origins = []string{
			"http://localhost:3000",
		}
	}
	router.Use(middleware.CORS(origins))

	routes.Register(router)
	return router
}
