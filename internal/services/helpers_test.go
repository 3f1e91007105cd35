package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/config"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/database"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/repository"
)

// MockChannelClient is a mock implementation of clients.ChannelClient
type MockChannelClient struct {
	mock.Mock
	channel models.ChannelType
}

var _ clients.ChannelClient = (*MockChannelClient)(nil)

func newMockChannel(channel models.ChannelType) *MockChannelClient {
	return &MockChannelClient{channel: channel}
}

func (m *MockChannelClient) GetType() models.ChannelType {
	return m.channel
}

func (m *MockChannelClient) Initialize(ctx context.Context, credentials map[string]interface{}) error {
	args := m.Called(ctx, credentials)
	return args.Error(0)
}

func (m *MockChannelClient) CheckIdentifiers(listing models.ChannelListing) error {
	args := m.Called(listing)
	return args.Error(0)
}

func (m *MockChannelClient) LookupIdentifiers(ctx context.Context, listing models.ChannelListing) (models.ChannelListing, error) {
	args := m.Called(ctx, listing)
	return args.Get(0).(models.ChannelListing), args.Error(1)
}

func (m *MockChannelClient) GetQuantity(ctx context.Context, listing models.ChannelListing) (int, error) {
	args := m.Called(ctx, listing)
	return args.Int(0), args.Error(1)
}

func (m *MockChannelClient) SetQuantity(ctx context.Context, listing models.ChannelListing, quantity int) error {
	args := m.Called(ctx, listing, quantity)
	return args.Error(0)
}

// MockWarehouseClient is a mock implementation of clients.WarehouseClient
type MockWarehouseClient struct {
	mock.Mock
}

var _ clients.WarehouseClient = (*MockWarehouseClient)(nil)

func (m *MockWarehouseClient) Initialize(ctx context.Context, credentials map[string]interface{}) error {
	args := m.Called(ctx, credentials)
	return args.Error(0)
}

func (m *MockWarehouseClient) FetchInventory(ctx context.Context, skus []string) (map[string]clients.WarehouseLevel, error) {
	args := m.Called(ctx, skus)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]clients.WarehouseLevel), args.Error(1)
}

// skuIs matches a listing by its channel SKU
func skuIs(sku string) interface{} {
	return mock.MatchedBy(func(l models.ChannelListing) bool { return l.SKU == sku })
}

func levels(quantities map[string]int) map[string]clients.WarehouseLevel {
	out := make(map[string]clients.WarehouseLevel, len(quantities))
	for sku, qty := range quantities {
		out[sku] = clients.WarehouseLevel{SKU: sku, Quantity: qty}
	}
	return out
}

// listed returns a listing with every identifier the clients need
func listed(channel models.ChannelType) models.ChannelListing {
	return models.ChannelListing{
		Channel:         channel,
		VariantID:       "var-1",
		InventoryItemID: "item-1",
		LocationID:      "loc-1",
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		SyncBatchSize:          2,
		SyncChannelConcurrency: 2,
		SyncLeaseTTL:           time.Minute,
		SyncStaleAfter:         30 * time.Minute,
		SyncTimeBudget:         time.Minute,
		MissingSKUPolicy:       config.MissingSKUZero,
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db            *gorm.DB
	syncRepo      *repository.SyncRepository
	inventoryRepo *repository.InventoryRepository
	mappingRepo   *repository.MappingRepository
	mappings      *MappingService
	warehouse     *MockWarehouseClient
	dispatcher    *Dispatcher
	service       *SyncService
	clock         *testClock
	config        *config.Config
}

func newTestEnv(t *testing.T, cfg *config.Config, channels ...*MockChannelClient) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	env := &testEnv{
		db:            db,
		syncRepo:      repository.NewSyncRepository(db),
		inventoryRepo: repository.NewInventoryRepository(db),
		mappingRepo:   repository.NewMappingRepository(db),
		warehouse:     &MockWarehouseClient{},
		clock:         newTestClock(),
		config:        cfg,
	}
	env.mappings = NewMappingService(env.mappingRepo)
	env.mappings.now = env.clock.Now

	channelClients := make(map[models.ChannelType]clients.ChannelClient, len(channels))
	for _, c := range channels {
		channelClients[c.GetType()] = c
	}
	env.dispatcher = NewDispatcher(channelClients, NewChannelSemaphore(&ChannelConcurrencyConfig{
		MaxConcurrentPerChannel: cfg.SyncChannelConcurrency,
		QueueTimeout:            5 * time.Second,
	}), cfg.VerifyUpdates, nil)
	env.service = env.newService()
	return env
}

// newService builds a second service over the same state, standing in for
// another process
func (e *testEnv) newService() *SyncService {
	svc := NewSyncService(e.syncRepo, e.inventoryRepo, e.mappings, e.warehouse, e.dispatcher, e.config)
	svc.SetClock(e.clock.Now)
	return svc
}

func (e *testEnv) seedMapping(t *testing.T, products ...models.Product) {
	t.Helper()
	_, err := e.mappings.UpdateMapping(context.Background(), products, "test", nil)
	require.NoError(t, err)
}
