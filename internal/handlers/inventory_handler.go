package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/repository"
)

// InventoryHandler exposes the persisted warehouse snapshot
type InventoryHandler struct {
	repo *repository.InventoryRepository
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(repo *repository.InventoryRepository) *InventoryHandler {
	return &InventoryHandler{repo: repo}
}

// ListSnapshot lists snapshot rows, optionally filtered by sku or to
// SKUs the warehouse did not report
func (h *InventoryHandler) ListSnapshot(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	missing, _ := strconv.ParseBool(c.DefaultQuery("missing", "false"))

	rows, total, err := h.repo.ListSnapshots(c.Request.Context(), repository.SnapshotListOptions{
		SKU:         c.Query("sku"),
		MissingOnly: missing,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   rows,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
