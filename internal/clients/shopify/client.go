package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

const (
	apiVersion = "2024-01"
)

// ShopifyClient implements ChannelClient for the Shopify Admin API
type ShopifyClient struct {
	httpClient  *http.Client
	retrier     *clients.Retrier
	rateLimiter *rate.Limiter
	storeURL    string
	accessToken string
	locationID  string
}

// NewShopifyClient creates a new Shopify Admin API client
func NewShopifyClient(opts ...clients.Option) *ShopifyClient {
	o := clients.BuildHTTPOptions(2, opts) // 2 requests per second
	return &ShopifyClient{
		httpClient:  o.HTTPClient,
		retrier:     o.Retrier,
		rateLimiter: rate.NewLimiter(o.RateLimit, o.Burst),
	}
}

// GetType returns the channel type
func (c *ShopifyClient) GetType() models.ChannelType {
	return models.ChannelShopify
}

// Initialize sets up the client with credentials. "store" is the shop name
// without .myshopify.com; "store_url" overrides it with a full base URL.
func (c *ShopifyClient) Initialize(ctx context.Context, credentials map[string]interface{}) error {
	if storeURL := clients.CredentialString(credentials, "store_url"); storeURL != "" {
		c.storeURL = strings.TrimRight(storeURL, "/")
	} else if store := clients.CredentialString(credentials, "store"); store != "" {
		c.storeURL = fmt.Sprintf("https://%s.myshopify.com", store)
	} else {
		return fmt.Errorf("missing store name")
	}

	c.accessToken = clients.CredentialString(credentials, "access_token")
	if c.accessToken == "" {
		return fmt.Errorf("missing access_token")
	}

	c.locationID = clients.CredentialString(credentials, "location_id")
	return nil
}

// CheckIdentifiers requires an inventory item and a location
func (c *ShopifyClient) CheckIdentifiers(listing models.ChannelListing) error {
	if listing.InventoryItemID == "" {
		return fmt.Errorf("%w: inventory_item_id", clients.ErrMissingIdentifier)
	}
	if c.location(listing) == "" {
		return fmt.Errorf("%w: location_id", clients.ErrMissingIdentifier)
	}
	return nil
}

// LookupIdentifiers resolves the variant and inventory item for the listing
// SKU, and fills the location from the default or the shop's primary location
func (c *ShopifyClient) LookupIdentifiers(ctx context.Context, listing models.ChannelListing) (models.ChannelListing, error) {
	if listing.InventoryItemID == "" {
		variantID, inventoryItemID, err := c.findVariantBySKU(ctx, listing.SKU)
		if err != nil {
			return listing, err
		}
		listing.VariantID = variantID
		listing.InventoryItemID = inventoryItemID
	}

	if c.location(listing) == "" {
		locationID, err := c.primaryLocation(ctx)
		if err != nil {
			return listing, err
		}
		listing.LocationID = locationID
	} else if listing.LocationID == "" {
		listing.LocationID = c.locationID
	}
	return listing, nil
}

// GetQuantity reads the available quantity at the listing's location
func (c *ShopifyClient) GetQuantity(ctx context.Context, listing models.ChannelListing) (int, error) {
	if err := c.CheckIdentifiers(listing); err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("inventory_item_ids", listing.InventoryItemID)
	params.Set("location_ids", c.location(listing))

	body, err := c.doRequest(ctx, http.MethodGet, "/inventory_levels.json", params, nil)
	if err != nil {
		return 0, err
	}

	var response struct {
		InventoryLevels []shopifyInventoryLevel `json:"inventory_levels"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("failed to parse inventory levels response: %w", err)
	}
	if len(response.InventoryLevels) == 0 {
		return 0, &clients.ChannelError{
			Source:  "Shopify",
			Kind:    models.UpdateErrorNotFound,
			Message: fmt.Sprintf("no inventory level for item %s at location %s", listing.InventoryItemID, c.location(listing)),
		}
	}

	level := response.InventoryLevels[0]
	if level.Available == nil {
		return 0, nil
	}
	return *level.Available, nil
}

// SetQuantity sets the available quantity at the listing's location
func (c *ShopifyClient) SetQuantity(ctx context.Context, listing models.ChannelListing, quantity int) error {
	if err := c.CheckIdentifiers(listing); err != nil {
		return err
	}

	inventoryItemID, err := parseID(listing.InventoryItemID)
	if err != nil {
		return err
	}
	locationID, err := parseID(c.location(listing))
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"location_id":       locationID,
		"inventory_item_id": inventoryItemID,
		"available":         quantity,
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/inventory_levels/set.json", nil, payload)
	return err
}

func (c *ShopifyClient) location(listing models.ChannelListing) string {
	if listing.LocationID != "" {
		return listing.LocationID
	}
	return c.locationID
}

// findVariantBySKU looks the SKU up through the GraphQL Admin API
func (c *ShopifyClient) findVariantBySKU(ctx context.Context, sku string) (string, string, error) {
	payload := map[string]interface{}{
		"query": `query($q: String!) {
  productVariants(first: 1, query: $q) {
    edges { node { legacyResourceId sku inventoryItem { legacyResourceId } } }
  }
}`,
		"variables": map[string]interface{}{"q": "sku:" + sku},
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/graphql.json", nil, payload)
	if err != nil {
		return "", "", err
	}

	var response struct {
		Data struct {
			ProductVariants struct {
				Edges []struct {
					Node struct {
						LegacyResourceID string `json:"legacyResourceId"`
						SKU              string `json:"sku"`
						InventoryItem    struct {
							LegacyResourceID string `json:"legacyResourceId"`
						} `json:"inventoryItem"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"productVariants"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", "", fmt.Errorf("failed to parse variant lookup response: %w", err)
	}
	if len(response.Errors) > 0 {
		return "", "", &clients.ChannelError{Source: "Shopify", Kind: models.UpdateErrorValidation, Message: response.Errors[0].Message}
	}

	for _, edge := range response.Data.ProductVariants.Edges {
		// the search query is a prefix match, so confirm the exact SKU
		if edge.Node.SKU == sku {
			return edge.Node.LegacyResourceID, edge.Node.InventoryItem.LegacyResourceID, nil
		}
	}
	return "", "", &clients.ChannelError{Source: "Shopify", Kind: models.UpdateErrorNotFound, Message: "no variant with sku " + sku}
}

func (c *ShopifyClient) primaryLocation(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/locations.json", nil, nil)
	if err != nil {
		return "", err
	}

	var response struct {
		Locations []struct {
			ID     int64 `json:"id"`
			Active bool  `json:"active"`
		} `json:"locations"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse locations response: %w", err)
	}
	for _, loc := range response.Locations {
		if loc.Active {
			return strconv.FormatInt(loc.ID, 10), nil
		}
	}
	return "", &clients.ChannelError{Source: "Shopify", Kind: models.UpdateErrorNotFound, Message: "no active location"}
}

// doRequest performs an authenticated, rate limited and retried HTTP request
func (c *ShopifyClient) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	fullURL := fmt.Sprintf("%s/admin/api/%s%s", c.storeURL, apiVersion, path)
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

	resp, err := c.retrier.DoHTTP(ctx, "shopify "+method+" "+path, func(ctx context.Context) (*http.Response, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)
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
		return nil, clients.NewHTTPError("Shopify", resp.StatusCode, respBody)
	}

	return respBody, nil
}

func parseID(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, &clients.ChannelError{Source: "Shopify", Kind: models.UpdateErrorValidation, Message: "invalid numeric id " + strconv.Quote(id)}
	}
	return v, nil
}

type shopifyInventoryLevel struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	Available       *int  `json:"available"`
}
