package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/middleware"
)

// Routes groups the handlers mounted on the router
type Routes struct {
	Health    *HealthHandler
	Sync      *SyncHandler
	Mapping   *MappingHandler
	Inventory *InventoryHandler

	// Metrics serves /metrics when set
	Metrics http.Handler
	// StartLimiter throttles POST /sync/start when set
	StartLimiter middleware.Limiter
}

// Register mounts every route on router
func (r Routes) Register(router *gin.Engine) {
	router.GET("/health", r.Health.Health)
	router.GET("/ready", r.Health.Ready)
	if r.Metrics != nil {
		router.GET("/metrics", gin.WrapH(r.Metrics))
	}

	v1 := router.Group("/api/v1")
	{
		sync := v1.Group("/sync")
		{
			start := []gin.HandlerFunc{r.Sync.Start}
			if r.StartLimiter != nil {
				start = append([]gin.HandlerFunc{middleware.RateLimit(r.StartLimiter, "sync-start")}, start...)
			}
			sync.POST("/start", start...)
			sync.GET("/status", r.Sync.GetStatus)
			sync.GET("/stats", r.Sync.GetStats)
			sync.POST("/gc", r.Sync.CollectStale)

			sync.GET("/sessions", r.Sync.ListSessions)
			sync.DELETE("/sessions", r.Sync.KillAll)
			sync.GET("/sessions/:id", r.Sync.GetSession)
			sync.DELETE("/sessions/:id", r.Sync.KillSession)
			sync.POST("/sessions/:id/continue", r.Sync.Continue)
			sync.GET("/sessions/:id/logs", r.Sync.GetSessionLogs)
		}

		mapping := v1.Group("/mapping")
		{
			mapping.GET("", r.Mapping.GetMapping)
			mapping.POST("", r.Mapping.UpdateMapping)
			mapping.POST("/enrich", r.Mapping.Enrich)
		}

		v1.GET("/inventory/snapshot", r.Inventory.ListSnapshot)
	}
}
