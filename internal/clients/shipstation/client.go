package shipstation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

const (
	defaultBaseURL = "https://api.shipstation.com"
)

// ShipStationClient implements ChannelClient for the ShipStation v2 inventory API
type ShipStationClient struct {
	httpClient  *http.Client
	retrier     *clients.Retrier
	rateLimiter *rate.Limiter
	baseURL     string
	apiKey      string
	locationID  string
}

// NewShipStationClient creates a new ShipStation API client
func NewShipStationClient(opts ...clients.Option) *ShipStationClient {
	o := clients.BuildHTTPOptions(3, opts) // 200 requests per minute
	return &ShipStationClient{
		httpClient:  o.HTTPClient,
		retrier:     o.Retrier,
		rateLimiter: rate.NewLimiter(o.RateLimit, o.Burst),
		baseURL:     defaultBaseURL,
	}
}

// GetType returns the channel type
func (c *ShipStationClient) GetType() models.ChannelType {
	return models.ChannelShipStation
}

// Initialize sets up the client with credentials
func (c *ShipStationClient) Initialize(ctx context.Context, credentials map[string]interface{}) error {
	c.apiKey = clients.CredentialString(credentials, "api_key")
	if c.apiKey == "" {
		return fmt.Errorf("missing api_key")
	}
	if baseURL := clients.CredentialString(credentials, "base_url"); baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	c.locationID = clients.CredentialString(credentials, "inventory_location_id")
	return nil
}

// CheckIdentifiers requires an inventory location
func (c *ShipStationClient) CheckIdentifiers(listing models.ChannelListing) error {
	if listing.SKU == "" {
		return fmt.Errorf("%w: sku", clients.ErrMissingIdentifier)
	}
	if c.location(listing) == "" {
		return fmt.Errorf("%w: inventory_location_id", clients.ErrMissingIdentifier)
	}
	return nil
}

// LookupIdentifiers fills the inventory location from the default or the
// account's first location
func (c *ShipStationClient) LookupIdentifiers(ctx context.Context, listing models.ChannelListing) (models.ChannelListing, error) {
	if listing.LocationID != "" {
		return listing, nil
	}
	if c.locationID != "" {
		listing.LocationID = c.locationID
		return listing, nil
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/v2/inventory_locations", nil, nil)
	if err != nil {
		return listing, err
	}
	var response struct {
		InventoryLocations []struct {
			InventoryLocationID string `json:"inventory_location_id"`
			Name                string `json:"name"`
		} `json:"inventory_locations"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return listing, fmt.Errorf("failed to parse inventory locations response: %w", err)
	}
	if len(response.InventoryLocations) == 0 {
		return listing, &clients.ChannelError{Source: "ShipStation", Kind: models.UpdateErrorNotFound, Message: "no inventory locations"}
	}
	listing.LocationID = response.InventoryLocations[0].InventoryLocationID
	return listing, nil
}

// GetQuantity reads the on-hand quantity of the SKU at the listing's location
func (c *ShipStationClient) GetQuantity(ctx context.Context, listing models.ChannelListing) (int, error) {
	if err := c.CheckIdentifiers(listing); err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("sku", listing.SKU)
	params.Set("inventory_location_id", c.location(listing))

	body, err := c.doRequest(ctx, http.MethodGet, "/v2/inventory", params, nil)
	if err != nil {
		return 0, err
	}

	var response struct {
		Inventory []struct {
			SKU                 string `json:"sku"`
			OnHand              int    `json:"on_hand"`
			Available           int    `json:"available"`
			InventoryLocationID string `json:"inventory_location_id"`
		} `json:"inventory"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("failed to parse inventory response: %w", err)
	}
	for _, inv := range response.Inventory {
		if inv.SKU == listing.SKU {
			return inv.OnHand, nil
		}
	}
	return 0, &clients.ChannelError{Source: "ShipStation", Kind: models.UpdateErrorNotFound, Message: "no inventory record for sku " + listing.SKU}
}

// SetQuantity sets the absolute on-hand quantity with a modify transaction
func (c *ShipStationClient) SetQuantity(ctx context.Context, listing models.ChannelListing, quantity int) error {
	if err := c.CheckIdentifiers(listing); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"transaction_type":      "modify",
		"inventory_location_id": c.location(listing),
		"sku":                   listing.SKU,
		"quantity":              quantity,
		"reason":                "warehouse sync",
	}
	_, err := c.doRequest(ctx, http.MethodPut, "/v2/inventory", nil, payload)
	return err
}

func (c *ShipStationClient) location(listing models.ChannelListing) string {
	if listing.LocationID != "" {
		return listing.LocationID
	}
	return c.locationID
}

// doRequest performs an authenticated HTTP request
func (c *ShipStationClient) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var jsonBody []byte
	if body != nil {
		var err error
		if jsonBody, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	resp, err := c.retrier.DoHTTP(ctx, "shipstation "+method+" "+path, func(ctx context.Context) (*http.Response, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("API-Key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, clients.NewHTTPError("ShipStation", resp.StatusCode, respBody)
	}

	return respBody, nil
}
