package secrets

import (
	"context"
	"strings"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/config"
)

// Resolver returns an explicit credential value or looks it up by secret ID
type Resolver interface {
	Resolve(ctx context.Context, value, secretID string) (string, error)
}

// WarehouseCredentials builds the credential map for the warehouse client
func WarehouseCredentials(ctx context.Context, r Resolver, cfg config.WarehouseConfig) (map[string]interface{}, error) {
	pin, err := r.Resolve(ctx, cfg.Password, cfg.PasswordSecret)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"base_url":  cfg.BaseURL,
		"badge":     cfg.Username,
		"pin":       pin,
		"warehouse": cfg.WarehouseName,
	}, nil
}

// ShopifyCredentials builds the credential map for the Shopify client.
// StoreURL may be a full URL or a bare shop name.
func ShopifyCredentials(ctx context.Context, r Resolver, cfg config.ShopifyConfig) (map[string]interface{}, error) {
	token, err := r.Resolve(ctx, cfg.AccessToken, cfg.AccessTokenSecret)
	if err != nil {
		return nil, err
	}
	creds := map[string]interface{}{
		"access_token": token,
		"location_id":  cfg.LocationID,
	}
	if strings.Contains(cfg.StoreURL, "://") {
		creds["store_url"] = cfg.StoreURL
	} else {
		creds["store"] = strings.TrimSuffix(cfg.StoreURL, ".myshopify.com")
	}
	return creds, nil
}

// AmazonCredentials builds the credential map for the SP-API client
func AmazonCredentials(ctx context.Context, r Resolver, cfg config.AmazonConfig) (map[string]interface{}, error) {
	refreshToken, err := r.Resolve(ctx, cfg.RefreshToken, cfg.RefreshTokenSecret)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"client_id":      cfg.ClientID,
		"client_secret":  cfg.ClientSecret,
		"refresh_token":  refreshToken,
		"seller_id":      cfg.SellerID,
		"marketplace_id": cfg.MarketplaceID,
		"region":         cfg.Region,
	}, nil
}

// ShipStationCredentials builds the credential map for the ShipStation client
func ShipStationCredentials(ctx context.Context, r Resolver, cfg config.ShipStationConfig) (map[string]interface{}, error) {
	apiKey, err := r.Resolve(ctx, cfg.APIKey, cfg.APIKeySecret)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"base_url":              cfg.BaseURL,
		"api_key":               apiKey,
		"inventory_location_id": cfg.InventoryLocationID,
	}, nil
}
