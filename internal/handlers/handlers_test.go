package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/config"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/database"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/middleware"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/repository"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeChannel records the last quantity written per SKU
type fakeChannel struct {
	mu      sync.Mutex
	channel models.ChannelType
	written map[string]int
}

func newFakeChannel(channel models.ChannelType) *fakeChannel {
	return &fakeChannel{channel: channel, written: make(map[string]int)}
}

func (f *fakeChannel) GetType() models.ChannelType { return f.channel }

func (f *fakeChannel) Initialize(context.Context, map[string]interface{}) error { return nil }

func (f *fakeChannel) CheckIdentifiers(models.ChannelListing) error { return nil }

func (f *fakeChannel) LookupIdentifiers(_ context.Context, listing models.ChannelListing) (models.ChannelListing, error) {
	return listing, nil
}

func (f *fakeChannel) GetQuantity(_ context.Context, listing models.ChannelListing) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[listing.SKU], nil
}

func (f *fakeChannel) SetQuantity(_ context.Context, listing models.ChannelListing, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[listing.SKU] = quantity
	return nil
}

func (f *fakeChannel) quantity(sku string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.written[sku]
	return q, ok
}

type fakeWarehouse struct {
	levels map[string]int
}

func (f *fakeWarehouse) Initialize(context.Context, map[string]interface{}) error { return nil }

func (f *fakeWarehouse) FetchInventory(_ context.Context, skus []string) (map[string]clients.WarehouseLevel, error) {
	out := make(map[string]clients.WarehouseLevel)
	for _, sku := range skus {
		if q, ok := f.levels[sku]; ok {
			out[sku] = clients.WarehouseLevel{SKU: sku, Quantity: q, FetchedAt: time.Now()}
		}
	}
	return out, nil
}

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	shopify *fakeChannel
	config  *config.Config
}

func newTestServer(t *testing.T, limiter middleware.Limiter) *testServer {
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

	cfg := &config.Config{
		SyncBatchSize:          2,
		SyncChannelConcurrency: 2,
		SyncLeaseTTL:           time.Minute,
		SyncStaleAfter:         30 * time.Minute,
		SyncTimeBudget:         time.Minute,
		MissingSKUPolicy:       config.MissingSKUZero,
	}

	shopify := newFakeChannel(models.ChannelShopify)
	warehouse := &fakeWarehouse{levels: map[string]int{"WH-A": 7, "WH-B": 3, "WH-C": 0}}

	syncRepo := repository.NewSyncRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	mappings := services.NewMappingService(repository.NewMappingRepository(db))
	dispatcher := services.NewDispatcher(
		map[models.ChannelType]clients.ChannelClient{models.ChannelShopify: shopify},
		services.NewChannelSemaphore(services.DefaultConcurrencyConfig()),
		false,
		nil,
	)
	syncService := services.NewSyncService(syncRepo, inventoryRepo, mappings, warehouse, dispatcher, cfg)

	router := gin.New()
	Routes{
		Health:       NewHealthHandler(db),
		Sync:         NewSyncHandler(syncService, cfg),
		Mapping:      NewMappingHandler(mappings, syncService.Enricher()),
		Inventory:    NewInventoryHandler(inventoryRepo),
		Metrics:      http.NotFoundHandler(),
		StartLimiter: limiter,
	}.Register(router)

	return &testServer{router: router, db: db, shopify: shopify, config: cfg}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

type syncResponse struct {
	State   string `json:"state"`
	HasMore bool   `json:"has_more"`
	Session struct {
		ID                string `json:"session_id"`
		Status            string `json:"status"`
		CurrentBatchIndex int    `json:"current_batch_index"`
		TotalBatches      int    `json:"total_batches"`
	} `json:"session"`
	Summary *struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
	} `json:"summary"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func testMapping() models.Mapping {
	return models.Mapping{Products: []models.Product{
		models.NewSimpleProduct("SKU-A", "WH-A", models.ChannelShopify),
		models.NewSimpleProduct("SKU-B", "WH-B", models.ChannelShopify),
		models.NewBundleProduct("BUNDLE-AB", []models.BundleComponent{
			{WarehouseSKU: "WH-A", QuantityPerUnit: 2},
			{WarehouseSKU: "WH-C", QuantityPerUnit: 1},
		}, models.ChannelShopify),
	}}
}

func (s *testServer) seedMapping(t *testing.T) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/mapping", UpdateMappingRequest{Mapping: testMapping(), UpdatedBy: "test"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	sqlDB, err := srv.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w = srv.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMappingEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("not found before first write", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/mapping", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		var body errorResponse
		decode(t, w, &body)
		assert.Equal(t, "mapping_not_found", body.Code)
	})

	t.Run("write and read back", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/v1/mapping", UpdateMappingRequest{Mapping: testMapping(), UpdatedBy: "ops"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var saved struct {
			Success      bool  `json:"success"`
			Version      int64 `json:"version"`
			ProductCount int   `json:"product_count"`
		}
		decode(t, w, &saved)
		assert.True(t, saved.Success)
		assert.Equal(t, int64(1), saved.Version)
		assert.Equal(t, 3, saved.ProductCount)

		w = srv.do(t, http.MethodGet, "/api/v1/mapping", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var got struct {
			Mapping models.Mapping `json:"mapping"`
			Source  string         `json:"source"`
			Version int64          `json:"version"`
		}
		decode(t, w, &got)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, services.MappingSourceAPI, got.Source)
		assert.Len(t, got.Mapping.Products, 3)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		stale := int64(7)
		w := srv.do(t, http.MethodPost, "/api/v1/mapping", UpdateMappingRequest{Mapping: testMapping(), Version: &stale})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid mapping", func(t *testing.T) {
		bad := models.Mapping{Products: []models.Product{{Kind: models.ProductBundle, ChannelSKU: "X"}}}
		w := srv.do(t, http.MethodPost, "/api/v1/mapping", UpdateMappingRequest{Mapping: bad})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var body errorResponse
		decode(t, w, &body)
		assert.Equal(t, "invalid_mapping", body.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/mapping", bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("enrich", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/v1/mapping/enrich", nil)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func TestStartWithoutMapping(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(t, http.MethodPost, "/api/v1/sync/start", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body errorResponse
	decode(t, w, &body)
	assert.Equal(t, "configuration_error", body.Code)

	w = srv.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status syncResponse
	decode(t, w, &status)
	assert.Equal(t, "none", status.State)
}

func TestSyncStepByStep(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.seedMapping(t)

	w := srv.do(t, http.MethodPost, "/api/v1/sync/start", map[string]interface{}{"triggered_by": "api"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var started syncResponse
	decode(t, w, &started)
	assert.Equal(t, "in_progress", started.State)
	assert.True(t, started.HasMore)
	assert.Equal(t, 2, started.Session.TotalBatches)
	assert.Equal(t, 0, started.Session.CurrentBatchIndex)

	w = srv.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	var active syncResponse
	decode(t, w, &active)
	assert.Equal(t, started.Session.ID, active.Session.ID)

	w = srv.do(t, http.MethodPost, "/api/v1/sync/start", nil)
	var resumed syncResponse
	decode(t, w, &resumed)
	assert.Equal(t, started.Session.ID, resumed.Session.ID, "start resumes the active session")

	continuePath := "/api/v1/sync/sessions/" + started.Session.ID + "/continue"
	w = srv.do(t, http.MethodPost, continuePath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first syncResponse
	decode(t, w, &first)
	assert.True(t, first.HasMore)
	assert.Equal(t, 1, first.Session.CurrentBatchIndex)

	w = srv.do(t, http.MethodPost, continuePath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second syncResponse
	decode(t, w, &second)
	assert.False(t, second.HasMore)
	assert.Equal(t, "completed", second.State)
	require.NotNil(t, second.Summary)
	assert.Equal(t, 3, second.Summary.Total)
	assert.Equal(t, 3, second.Summary.Succeeded)

	for sku, want := range map[string]int{"SKU-A": 7, "SKU-B": 3, "BUNDLE-AB": 0} {
		got, ok := srv.shopify.quantity(sku)
		assert.True(t, ok, sku)
		assert.Equal(t, want, got, sku)
	}

	w = srv.do(t, http.MethodGet, "/api/v1/sync/sessions/"+started.Session.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		Data []models.SyncLog `json:"data"`
	}
	decode(t, w, &logs)
	assert.NotEmpty(t, logs.Data)

	w = srv.do(t, http.MethodGet, "/api/v1/sync/sessions?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Total int64 `json:"total"`
	}
	decode(t, w, &list)
	assert.Equal(t, int64(1), list.Total)

	w = srv.do(t, http.MethodGet, "/api/v1/sync/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Data repository.SyncStats `json:"data"`
	}
	decode(t, w, &stats)
	assert.Equal(t, int64(1), stats.Data.CompletedSessions)

	w = srv.do(t, http.MethodGet, "/api/v1/inventory/snapshot?sku=WH-A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot struct {
		Data  []models.WarehouseSnapshot `json:"data"`
		Total int64                      `json:"total"`
	}
	decode(t, w, &snapshot)
	require.Len(t, snapshot.Data, 1)
	assert.Equal(t, 7, snapshot.Data[0].Quantity)
}

func TestSyncAutoContinue(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.seedMapping(t)

	w := srv.do(t, http.MethodPost, "/api/v1/sync/start", map[string]interface{}{"auto_continue": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result syncResponse
	decode(t, w, &result)
	assert.Equal(t, "completed", result.State)
	assert.False(t, result.HasMore)
	assert.Equal(t, 2, result.Session.CurrentBatchIndex)
}

func TestSyncDryRun(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.seedMapping(t)

	w := srv.do(t, http.MethodPost, "/api/v1/sync/start", map[string]interface{}{"dry_run": true, "auto_continue": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result syncResponse
	decode(t, w, &result)
	assert.Equal(t, "completed", result.State)

	_, written := srv.shopify.quantity("SKU-A")
	assert.False(t, written, "dry run performs no channel writes")
}

func TestSessionLookupAndKill(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.seedMapping(t)

	t.Run("invalid id", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/sync/sessions/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/sync/sessions/7f1c2b0e-7a55-4c9a-9f43-0c1f7d7f2c11", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = srv.do(t, http.MethodDelete, "/api/v1/sync/sessions/7f1c2b0e-7a55-4c9a-9f43-0c1f7d7f2c11", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("kill active session", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/v1/sync/start", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var started syncResponse
		decode(t, w, &started)

		w = srv.do(t, http.MethodDelete, "/api/v1/sync/sessions/"+started.Session.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = srv.do(t, http.MethodGet, "/api/v1/sync/sessions/"+started.Session.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = srv.do(t, http.MethodPost, "/api/v1/sync/sessions/"+started.Session.ID+"/continue", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("kill all", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/v1/sync/start", nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = srv.do(t, http.MethodDelete, "/api/v1/sync/sessions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Killed []string `json:"killed"`
		}
		decode(t, w, &body)
		assert.Len(t, body.Killed, 1)

		w = srv.do(t, http.MethodDelete, "/api/v1/sync/sessions", nil)
		decode(t, w, &body)
		assert.Empty(t, body.Killed)
	})
}

func TestCollectStale(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(t, http.MethodPost, "/api/v1/sync/gc?older_than=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, http.MethodPost, "/api/v1/sync/gc?older_than=5m", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Collected []string `json:"collected"`
		OlderThan string   `json:"older_than"`
	}
	decode(t, w, &body)
	assert.Empty(t, body.Collected)
	assert.Equal(t, "5m0s", body.OlderThan)
}

func TestStartIsThrottled(t *testing.T) {
	srv := newTestServer(t, middleware.NewLocalLimiter(0.001, 1))
	srv.seedMapping(t)

	w := srv.do(t, http.MethodPost, "/api/v1/sync/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodPost, "/api/v1/sync/start", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
