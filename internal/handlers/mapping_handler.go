package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/services"
)

// MappingHandler serves the product mapping
type MappingHandler struct {
	mappings *services.MappingService
	enricher *services.Enricher
}

// NewMappingHandler creates a new mapping handler
func NewMappingHandler(mappings *services.MappingService, enricher *services.Enricher) *MappingHandler {
	return &MappingHandler{
		mappings: mappings,
		enricher: enricher,
	}
}

// UpdateMappingRequest is the body of POST /mapping
type UpdateMappingRequest struct {
	Mapping   models.Mapping `json:"mapping"`
	UpdatedBy string         `json:"updated_by"`
	Version   *int64         `json:"version,omitempty"`
}

// GetMapping returns the stored mapping with its version and source
func (h *MappingHandler) GetMapping(c *gin.Context) {
	stored, err := h.mappings.GetMapping(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"mapping": stored.Mapping,
		"source":  stored.Source,
		"version": stored.Version,
	})
}

// UpdateMapping replaces the mapping. When version is supplied the write
// only succeeds if it still matches the stored version.
func (h *MappingHandler) UpdateMapping(c *gin.Context) {
	var req UpdateMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UpdatedBy == "" {
		req.UpdatedBy = "api"
	}

	stored, err := h.mappings.UpdateMapping(c.Request.Context(), req.Mapping.Products, req.UpdatedBy, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"version":       stored.Version,
		"product_count": len(stored.Products),
		"updated_at":    stored.UpdatedAt,
	})
}

// Enrich looks up missing channel identifiers and persists what it finds
func (h *MappingHandler) Enrich(c *gin.Context) {
	report, err := h.enricher.Enrich(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}
