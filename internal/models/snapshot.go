package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BinQuantity is the quantity held in one warehouse bin
type BinQuantity struct {
	Warehouse string `json:"warehouse,omitempty"`
	Bin       string `json:"bin"`
	Quantity  int    `json:"quantity"`
}

// BinList is the JSON column holding a bin breakdown
type BinList []BinQuantity

func (b BinList) Value() (driver.Value, error) {
	if b == nil {
		return json.Marshal([]BinQuantity{})
	}
	return json.Marshal([]BinQuantity(b))
}

func (b *BinList) Scan(value interface{}) error {
	if value == nil {
		*b = nil
		return nil
	}
	return scanJSON(value, b)
}

// WarehouseSnapshot is the last known warehouse quantity of one SKU. Missing
// marks SKUs that were requested but not reported by the warehouse.
type WarehouseSnapshot struct {
	WarehouseSKU string     `gorm:"column:warehouse_sku;type:varchar(255);primaryKey" json:"warehouse_sku"`
	Quantity     int        `gorm:"not null;default:0" json:"quantity"`
	Missing      bool       `gorm:"not null;default:false" json:"missing"`
	Bins         BinList    `gorm:"type:jsonb" json:"bins,omitempty"`
	SessionID    *uuid.UUID `gorm:"type:uuid;index:idx_snapshots_session" json:"session_id,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name for WarehouseSnapshot
func (WarehouseSnapshot) TableName() string {
	return "warehouse_inventory_snapshots"
}
