package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
	"github.com/sirupsen/logrus"
)

// MissingSKUPolicy decides how products depending on unreported warehouse
// SKUs are resolved
type MissingSKUPolicy string

const (
	// MissingSKUZero treats an unreported SKU as out of stock
	MissingSKUZero MissingSKUPolicy = "zero"
	// MissingSKUSkip leaves affected products untouched on every channel
	MissingSKUSkip MissingSKUPolicy = "skip"
)

// Config holds all configuration for the inventory sync service
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string

	// Redis / NATS
	RedisURL string
	NATSURL  string

	// GCP
	GCPProjectID string

	// Sync Settings
	SyncBatchSize          int
	SyncChannelConcurrency int
	SyncLeaseTTL           time.Duration
	SyncStaleAfter         time.Duration
	SyncTimeBudget         time.Duration
	SyncAutoContinue       bool
	VerifyUpdates          bool
	MissingSKUPolicy       MissingSKUPolicy
	SyncChannels           []string
	SyncScheduleInterval   time.Duration

	// Rate Limiting
	StartThrottlePerMinute int
	DefaultRateLimit       int // requests per second

	// Warehouse
	Warehouse WarehouseConfig

	// Channels
	Shopify     ShopifyConfig
	Amazon      AmazonConfig
	ShipStation ShipStationConfig
}

// WarehouseConfig holds warehouse API connection settings
type WarehouseConfig struct {
	BaseURL        string
	Username       string
	Password       string
	PasswordSecret string
	WarehouseName  string
}

// ShopifyConfig holds Shopify Admin API settings
type ShopifyConfig struct {
	StoreURL          string
	AccessToken       string
	AccessTokenSecret string
	LocationID        string
}

// AmazonConfig holds SP-API settings
type AmazonConfig struct {
	SellerID           string
	MarketplaceID      string
	Region             string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	RefreshTokenSecret string
}

// ShipStationConfig holds ShipStation API settings
type ShipStationConfig struct {
	BaseURL             string
	APIKey              string
	APIKeySecret        string
	InventoryLocationID string
}

// Load loads configuration from environment variables
func Load() *Config {
	// Build DATABASE_URL from components using GCP Secret Manager for password
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "postgres")
		dbPassword := secrets.GetDBPassword()
		dbName := getEnv("DB_NAME", "inventory_sync")
		dbSSLMode := getEnv("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPassword, dbHost, dbPort, dbName, dbSSLMode)
	}

	config := &Config{
		Port:        getEnv("PORT", "8099"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: databaseURL,

		RedisURL: getEnv("REDIS_URL", ""),
		NATSURL:  getEnv("NATS_URL", ""),

		// GCP
		GCPProjectID: getEnv("GCP_PROJECT_ID", ""),

		// Sync Settings
		SyncBatchSize:          getEnvAsInt("SYNC_BATCH_SIZE", 25),
		SyncChannelConcurrency: getEnvAsInt("SYNC_CHANNEL_CONCURRENCY", 4),
		SyncLeaseTTL:           getEnvAsDuration("SYNC_LEASE_TTL", 2*time.Minute),
		SyncStaleAfter:         getEnvAsDuration("SYNC_STALE_AFTER", 30*time.Minute),
		SyncTimeBudget:         getEnvAsDuration("SYNC_TIME_BUDGET", 50*time.Second),
		SyncAutoContinue:       getEnvAsBool("SYNC_AUTO_CONTINUE", false),
		VerifyUpdates:          getEnvAsBool("VERIFY_UPDATES", false),
		MissingSKUPolicy:       MissingSKUPolicy(strings.ToLower(getEnv("MISSING_SKU_POLICY", string(MissingSKUZero)))),
		SyncChannels:           getEnvAsList("SYNC_CHANNELS", []string{"SHOPIFY", "AMAZON", "SHIPSTATION"}),
		SyncScheduleInterval:   getEnvAsDuration("SYNC_SCHEDULE_INTERVAL", 0),

		// Rate Limiting
		StartThrottlePerMinute: getEnvAsInt("START_THROTTLE_PER_MINUTE", 6),
		DefaultRateLimit:       getEnvAsInt("DEFAULT_RATE_LIMIT", 2),

		Warehouse: WarehouseConfig{
			BaseURL:        getEnv("FLOWTRAC_API_URL", ""),
			Username:       getEnv("FLOWTRAC_BADGE", ""),
			Password:       getEnv("FLOWTRAC_PIN", ""),
			PasswordSecret: getEnv("FLOWTRAC_PIN_SECRET", "flowtrac-pin"),
			WarehouseName:  getEnv("FLOWTRAC_WAREHOUSE", ""),
		},
		Shopify: ShopifyConfig{
			StoreURL:          getEnv("SHOPIFY_STORE_URL", ""),
			AccessToken:       getEnv("SHOPIFY_ACCESS_TOKEN", ""),
			AccessTokenSecret: getEnv("SHOPIFY_ACCESS_TOKEN_SECRET", "shopify-access-token"),
			LocationID:        getEnv("SHOPIFY_LOCATION_ID", ""),
		},
		Amazon: AmazonConfig{
			SellerID:           getEnv("AMAZON_SELLER_ID", ""),
			MarketplaceID:      getEnv("AMAZON_MARKETPLACE_ID", "ATVPDKIKX0DER"),
			Region:             getEnv("AMAZON_REGION", "na"),
			ClientID:           getEnv("AMAZON_CLIENT_ID", ""),
			ClientSecret:       getEnv("AMAZON_CLIENT_SECRET", ""),
			RefreshToken:       getEnv("AMAZON_REFRESH_TOKEN", ""),
			RefreshTokenSecret: getEnv("AMAZON_REFRESH_TOKEN_SECRET", "amazon-refresh-token"),
		},
		ShipStation: ShipStationConfig{
			BaseURL:             getEnv("SHIPSTATION_API_URL", "https://api.shipstation.com"),
			APIKey:              getEnv("SHIPSTATION_API_KEY", ""),
			APIKeySecret:        getEnv("SHIPSTATION_API_KEY_SECRET", "shipstation-api-key"),
			InventoryLocationID: getEnv("SHIPSTATION_INVENTORY_LOCATION_ID", ""),
		},
	}

	if config.GCPProjectID == "" {
		logrus.Warn("GCP_PROJECT_ID not set, secrets management will be disabled")
	}

	return config
}

// Validate checks settings the sync engine cannot run without
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SyncBatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", c.SyncBatchSize)
	}
	if c.SyncChannelConcurrency <= 0 {
		return fmt.Errorf("SYNC_CHANNEL_CONCURRENCY must be positive, got %d", c.SyncChannelConcurrency)
	}
	switch c.MissingSKUPolicy {
	case MissingSKUZero, MissingSKUSkip:
	default:
		return fmt.Errorf("MISSING_SKU_POLICY must be %q or %q, got %q", MissingSKUZero, MissingSKUSkip, c.MissingSKUPolicy)
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}
