package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// MappingRepository handles database operations for the product mapping
type MappingRepository struct {
	db *gorm.DB
}

// NewMappingRepository creates a new mapping repository
func NewMappingRepository(db *gorm.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// GetMapping retrieves the mapping row by name
func (r *MappingRepository) GetMapping(ctx context.Context, name string) (*models.InventoryMapping, error) {
	var mapping models.InventoryMapping
	err := r.db.WithContext(ctx).First(&mapping, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// SaveMapping writes products if the stored version still equals
// expectedVersion. Version 0 means the row must not exist yet.
func (r *MappingRepository) SaveMapping(ctx context.Context, name string, products []models.Product, updatedBy, source string, expectedVersion int64, now time.Time) (*models.InventoryMapping, error) {
	if expectedVersion == 0 {
		row := &models.InventoryMapping{
			Name:      name,
			Products:  models.ProductList(products),
			Version:   1,
			UpdatedBy: updatedBy,
			Source:    source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(row)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, ErrMappingVersionConflict
		}
		return row, nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.InventoryMapping{}).
		Where("name = ? AND version = ?", name, expectedVersion).
		Updates(map[string]interface{}{
			"products":   models.ProductList(products),
			"version":    expectedVersion + 1,
			"updated_by": updatedBy,
			"source":     source,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrMappingVersionConflict
	}
	return r.GetMapping(ctx, name)
}
