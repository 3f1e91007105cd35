package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// InventoryRepository handles the persisted warehouse quantity snapshot
type InventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// UpsertSnapshots creates or replaces snapshot rows keyed by warehouse SKU
func (r *InventoryRepository) UpsertSnapshots(ctx context.Context, rows []models.WarehouseSnapshot) error {
	return upsertSnapshots(r.db.WithContext(ctx), rows)
}

func upsertSnapshots(db *gorm.DB, rows []models.WarehouseSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "warehouse_sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "missing", "bins", "session_id", "updated_at"}),
	}).Create(&rows).Error
}

// GetSnapshots retrieves snapshot rows for the given SKUs keyed by SKU
func (r *InventoryRepository) GetSnapshots(ctx context.Context, skus []string) (map[string]models.WarehouseSnapshot, error) {
	out := make(map[string]models.WarehouseSnapshot, len(skus))
	if len(skus) == 0 {
		return out, nil
	}

	var rows []models.WarehouseSnapshot
	if err := r.db.WithContext(ctx).Where("warehouse_sku IN ?", skus).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.WarehouseSKU] = row
	}
	return out, nil
}

// ListSnapshots retrieves snapshot rows with pagination and filtering
func (r *InventoryRepository) ListSnapshots(ctx context.Context, opts SnapshotListOptions) ([]models.WarehouseSnapshot, int64, error) {
	var rows []models.WarehouseSnapshot
	var total int64

	query := r.db.WithContext(ctx).Model(&models.WarehouseSnapshot{})
	if opts.SKU != "" {
		query = query.Where("warehouse_sku = ?", opts.SKU)
	}
	if opts.MissingOnly {
		query = query.Where("missing = ?", true)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	if err := query.Order("warehouse_sku ASC").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// SnapshotListOptions contains options for listing snapshot rows
type SnapshotListOptions struct {
	SKU         string
	MissingOnly bool
	Limit       int
	Offset      int
}
