package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrProductMissingChannelSKU  = errors.New("product: channel_sku is required")
	ErrProductInvalidKind        = errors.New("product: kind must be simple or bundle")
	ErrSimpleProductShape        = errors.New("product: simple product needs warehouse_sku and no bundle components")
	ErrBundleProductShape        = errors.New("product: bundle product needs components and no warehouse_sku")
	ErrInvalidComponentQuantity  = errors.New("product: bundle component quantity_per_unit must be positive")
	ErrComponentMissingSKU       = errors.New("product: bundle component warehouse_sku is required")
	ErrDuplicateChannelSKU       = errors.New("mapping: duplicate channel sku")
	ErrListingUnsupportedChannel = errors.New("mapping: listing references an unsupported channel")
)

// ProductKind discriminates simple products from bundles
type ProductKind string

const (
	ProductSimple ProductKind = "simple"
	ProductBundle ProductKind = "bundle"
)

// BundleComponent is one warehouse SKU consumed by a bundle
type BundleComponent struct {
	WarehouseSKU    string `json:"warehouse_sku"`
	QuantityPerUnit int    `json:"quantity_per_unit"`
}

// ChannelListing holds the channel-side identifiers for a product. Identifiers
// are filled lazily by the enricher.
type ChannelListing struct {
	Channel         ChannelType `json:"channel"`
	SKU             string      `json:"sku,omitempty"`
	VariantID       string      `json:"variant_id,omitempty"`
	InventoryItemID string      `json:"inventory_item_id,omitempty"`
	LocationID      string      `json:"location_id,omitempty"`
}

// Product is a single mapping row. Kind decides which of WarehouseSKU and
// Components is meaningful.
type Product struct {
	Kind         ProductKind       `json:"kind"`
	ChannelSKU   string            `json:"channel_sku"`
	WarehouseSKU string            `json:"warehouse_sku,omitempty"`
	Components   []BundleComponent `json:"bundle_components,omitempty"`
	Listings     []ChannelListing  `json:"listings,omitempty"`
}

// NewSimpleProduct creates a product backed by a single warehouse SKU
func NewSimpleProduct(channelSKU, warehouseSKU string, channels ...ChannelType) Product {
	p := Product{Kind: ProductSimple, ChannelSKU: channelSKU, WarehouseSKU: warehouseSKU}
	for _, ch := range channels {
		p.Listings = append(p.Listings, ChannelListing{Channel: ch})
	}
	return p
}

// NewBundleProduct creates a product assembled from warehouse components
func NewBundleProduct(channelSKU string, components []BundleComponent, channels ...ChannelType) Product {
	p := Product{Kind: ProductBundle, ChannelSKU: channelSKU, Components: components}
	for _, ch := range channels {
		p.Listings = append(p.Listings, ChannelListing{Channel: ch})
	}
	return p
}

// Validate enforces the simple/bundle invariant
func (p Product) Validate() error {
	if p.ChannelSKU == "" {
		return ErrProductMissingChannelSKU
	}
	switch p.Kind {
	case ProductSimple:
		if p.WarehouseSKU == "" || len(p.Components) > 0 {
			return fmt.Errorf("%s: %w", p.ChannelSKU, ErrSimpleProductShape)
		}
	case ProductBundle:
		if p.WarehouseSKU != "" || len(p.Components) == 0 {
			return fmt.Errorf("%s: %w", p.ChannelSKU, ErrBundleProductShape)
		}
		for _, c := range p.Components {
			if c.WarehouseSKU == "" {
				return fmt.Errorf("%s: %w", p.ChannelSKU, ErrComponentMissingSKU)
			}
			if c.QuantityPerUnit <= 0 {
				return fmt.Errorf("%s component %s: %w", p.ChannelSKU, c.WarehouseSKU, ErrInvalidComponentQuantity)
			}
		}
	default:
		return fmt.Errorf("%s: %w", p.ChannelSKU, ErrProductInvalidKind)
	}
	for _, l := range p.Listings {
		if !l.Channel.IsValid() {
			return fmt.Errorf("%s (%s): %w", p.ChannelSKU, l.Channel, ErrListingUnsupportedChannel)
		}
	}
	return nil
}

// WarehouseSKUs returns the warehouse SKUs this product depends on, in order
func (p Product) WarehouseSKUs() []string {
	if p.Kind == ProductSimple {
		return []string{p.WarehouseSKU}
	}
	skus := make([]string, 0, len(p.Components))
	for _, c := range p.Components {
		skus = append(skus, c.WarehouseSKU)
	}
	return skus
}

// Listing returns the listing for a channel. The SKU falls back to ChannelSKU.
func (p Product) Listing(channel ChannelType) (ChannelListing, bool) {
	for _, l := range p.Listings {
		if l.Channel == channel {
			if l.SKU == "" {
				l.SKU = p.ChannelSKU
			}
			return l, true
		}
	}
	return ChannelListing{}, false
}

// SetListing replaces the listing for listing.Channel, appending if absent
func (p *Product) SetListing(listing ChannelListing) {
	for i, l := range p.Listings {
		if l.Channel == listing.Channel {
			p.Listings[i] = listing
			return
		}
	}
	p.Listings = append(p.Listings, listing)
}

// Mapping is the versioned product list owned by the mapping store
type Mapping struct {
	Products  []Product `json:"products"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Validate checks every product and that channel SKUs are unique per channel
func (m Mapping) Validate() error {
	seen := make(map[string]bool, len(m.Products))
	perChannel := make(map[ChannelType]map[string]bool)
	for _, p := range m.Products {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ChannelSKU] {
			return fmt.Errorf("%s: %w", p.ChannelSKU, ErrDuplicateChannelSKU)
		}
		seen[p.ChannelSKU] = true

		for _, ch := range AllChannels {
			l, ok := p.Listing(ch)
			if !ok {
				continue
			}
			if perChannel[ch] == nil {
				perChannel[ch] = make(map[string]bool)
			}
			if perChannel[ch][l.SKU] {
				return fmt.Errorf("%s on %s: %w", l.SKU, ch, ErrDuplicateChannelSKU)
			}
			perChannel[ch][l.SKU] = true
		}
	}
	return nil
}

// ProductList is the JSON column holding mapping products
type ProductList []Product

func (l ProductList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]Product{})
	}
	return json.Marshal([]Product(l))
}

func (l *ProductList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSON(value, l)
}

// DefaultMappingName is the key of the single mapping row
const DefaultMappingName = "default"

// InventoryMapping persists the mapping as one versioned row
type InventoryMapping struct {
	Name      string      `gorm:"type:varchar(100);primaryKey" json:"name"`
	Products  ProductList `gorm:"type:jsonb;not null" json:"products"`
	Version   int64       `gorm:"not null;default:0" json:"version"`
	UpdatedBy string      `gorm:"type:varchar(255)" json:"updatedBy,omitempty"`
	Source    string      `gorm:"type:varchar(50)" json:"source,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// TableName specifies the table name for InventoryMapping
func (InventoryMapping) TableName() string {
	return "inventory_mappings"
}

// ToMapping converts the row into the domain mapping
func (m *InventoryMapping) ToMapping() Mapping {
	products := make([]Product, len(m.Products))
	copy(products, m.Products)
	return Mapping{
		Products:  products,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
		UpdatedBy: m.UpdatedBy,
	}
}
