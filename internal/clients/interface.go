package clients

import (
	"context"
	"errors"
	"time"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// ErrMissingIdentifier is returned when a listing lacks a channel-side
// identifier required for an update
var ErrMissingIdentifier = errors.New("missing channel identifier")

// ChannelClient defines the interface that all sales channel clients must implement
type ChannelClient interface {
	// GetType returns the channel type
	GetType() models.ChannelType

	// Initialize sets up the client with credentials
	Initialize(ctx context.Context, credentials map[string]interface{}) error

	// CheckIdentifiers returns ErrMissingIdentifier (wrapped with the field
	// name) if the listing cannot be updated as-is
	CheckIdentifiers(listing models.ChannelListing) error

	// LookupIdentifiers resolves channel-side identifiers for a listing
	LookupIdentifiers(ctx context.Context, listing models.ChannelListing) (models.ChannelListing, error)

	// GetQuantity reads the quantity the channel currently exposes
	GetQuantity(ctx context.Context, listing models.ChannelListing) (int, error)

	// SetQuantity sets the available quantity for a listing
	SetQuantity(ctx context.Context, listing models.ChannelListing, quantity int) error
}

// WarehouseClient defines the inventory source of truth
type WarehouseClient interface {
	// Initialize sets up the client with credentials
	Initialize(ctx context.Context, credentials map[string]interface{}) error

	// FetchInventory returns levels for the SKUs the warehouse knows about.
	// SKUs it does not report are absent from the map.
	FetchInventory(ctx context.Context, skus []string) (map[string]WarehouseLevel, error)
}

// WarehouseLevel is the on-hand quantity of one warehouse SKU
type WarehouseLevel struct {
	SKU       string               `json:"sku"`
	Quantity  int                  `json:"quantity"`
	Bins      []models.BinQuantity `json:"bins,omitempty"`
	FetchedAt time.Time            `json:"fetched_at"`
}

// TokenResult contains the result of a token refresh operation
type TokenResult struct {
	AccessToken string
	ExpiresAt   time.Time
}

// UnsupportedChannelError is returned when a channel type is not supported
type UnsupportedChannelError struct {
	ChannelType string
}

func (e *UnsupportedChannelError) Error() string {
	return "unsupported channel: " + e.ChannelType
}
