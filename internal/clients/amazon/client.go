package amazon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

const (
	// Amazon SP-API regional endpoints
	naEndpoint = "https://sellingpartnerapi-na.amazon.com"
	euEndpoint = "https://sellingpartnerapi-eu.amazon.com"
	feEndpoint = "https://sellingpartnerapi-fe.amazon.com"

	// Amazon LWA token endpoint
	lwaTokenEndpoint = "https://api.amazon.com/auth/o2/token"

	listingsPath = "/listings/2021-08-01/items"

	// merchant-fulfilled stock
	fulfillmentChannelDefault = "DEFAULT"
)

// AmazonClient implements ChannelClient for the Selling Partner Listings API
type AmazonClient struct {
	httpClient    *http.Client
	retrier       *clients.Retrier
	rateLimiter   *rate.Limiter
	baseURL       string
	tokenURL      string
	clientID      string
	clientSecret  string
	refreshToken  string
	sellerID      string
	marketplaceID string
	productType   string

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewAmazonClient creates a new Amazon SP-API client
func NewAmazonClient(opts ...clients.Option) *AmazonClient {
	o := clients.BuildHTTPOptions(5, opts) // listings API allows 5 requests per second
	return &AmazonClient{
		httpClient:  o.HTTPClient,
		retrier:     o.Retrier,
		rateLimiter: rate.NewLimiter(o.RateLimit, o.Burst),
		tokenURL:    lwaTokenEndpoint,
		productType: "PRODUCT",
	}
}

// GetType returns the channel type
func (c *AmazonClient) GetType() models.ChannelType {
	return models.ChannelAmazon
}

// Initialize sets up the client with credentials
func (c *AmazonClient) Initialize(ctx context.Context, credentials map[string]interface{}) error {
	for key, dest := range map[string]*string{
		"client_id":      &c.clientID,
		"client_secret":  &c.clientSecret,
		"refresh_token":  &c.refreshToken,
		"seller_id":      &c.sellerID,
		"marketplace_id": &c.marketplaceID,
	} {
		*dest = clients.CredentialString(credentials, key)
		if *dest == "" {
			return fmt.Errorf("missing %s", key)
		}
	}

	c.baseURL = getRegionalEndpoint(clients.CredentialString(credentials, "region"))
	if baseURL := clients.CredentialString(credentials, "base_url"); baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	if tokenURL := clients.CredentialString(credentials, "token_url"); tokenURL != "" {
		c.tokenURL = tokenURL
	}
	if productType := clients.CredentialString(credentials, "product_type"); productType != "" {
		c.productType = productType
	}

	// Existing access token (optional)
	if accessToken := clients.CredentialString(credentials, "access_token"); accessToken != "" {
		c.accessToken = accessToken
		if expiresAt := clients.CredentialString(credentials, "token_expires_at"); expiresAt != "" {
			c.tokenExpiry, _ = time.Parse(time.RFC3339, expiresAt)
		}
	}

	return nil
}

// CheckIdentifiers only needs the seller SKU, which always defaults to the channel SKU
func (c *AmazonClient) CheckIdentifiers(listing models.ChannelListing) error {
	if listing.SKU == "" {
		return fmt.Errorf("%w: sku", clients.ErrMissingIdentifier)
	}
	return nil
}

// LookupIdentifiers confirms the listing exists and records its ASIN as the variant id
func (c *AmazonClient) LookupIdentifiers(ctx context.Context, listing models.ChannelListing) (models.ChannelListing, error) {
	item, err := c.getListing(ctx, listing.SKU, "summaries")
	if err != nil {
		return listing, err
	}
	for _, s := range item.Summaries {
		if s.MarketplaceID == c.marketplaceID && s.ASIN != "" {
			listing.VariantID = s.ASIN
			break
		}
	}
	return listing, nil
}

// GetQuantity reads the merchant-fulfilled quantity of the listing
func (c *AmazonClient) GetQuantity(ctx context.Context, listing models.ChannelListing) (int, error) {
	if err := c.CheckIdentifiers(listing); err != nil {
		return 0, err
	}
	item, err := c.getListing(ctx, listing.SKU, "fulfillmentAvailability")
	if err != nil {
		return 0, err
	}
	for _, fa := range item.FulfillmentAvailability {
		if fa.FulfillmentChannelCode == fulfillmentChannelDefault {
			return fa.Quantity, nil
		}
	}
	return 0, nil
}

// SetQuantity patches fulfillment_availability on the listing
func (c *AmazonClient) SetQuantity(ctx context.Context, listing models.ChannelListing, quantity int) error {
	if err := c.CheckIdentifiers(listing); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"productType": c.productType,
		"patches": []map[string]interface{}{{
			"op":   "replace",
			"path": "/attributes/fulfillment_availability",
			"value": []map[string]interface{}{{
				"fulfillment_channel_code": fulfillmentChannelDefault,
				"quantity":                 quantity,
			}},
		}},
	}

	params := url.Values{}
	params.Set("marketplaceIds", c.marketplaceID)

	body, err := c.doRequest(ctx, http.MethodPatch, c.itemPath(listing.SKU), params, payload)
	if err != nil {
		return err
	}

	var response struct {
		Status string `json:"status"`
		Issues []struct {
			Code     string `json:"code"`
			Message  string `json:"message"`
			Severity string `json:"severity"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("failed to parse listings patch response: %w", err)
	}
	if response.Status != "ACCEPTED" {
		msg := "listing patch " + strings.ToLower(response.Status)
		for _, issue := range response.Issues {
			if issue.Severity == "ERROR" {
				msg = issue.Code + ": " + issue.Message
				break
			}
		}
		return &clients.ChannelError{Source: "Amazon", Kind: models.UpdateErrorValidation, Message: msg}
	}
	return nil
}

// RefreshToken exchanges the LWA refresh token for an access token
func (c *AmazonClient) RefreshToken(ctx context.Context) (*clients.TokenResult, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *AmazonClient) refreshLocked(ctx context.Context) (*clients.TokenResult, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", c.refreshToken)
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, clients.NewHTTPError("Amazon LWA", resp.StatusCode, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	return &clients.TokenResult{
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   c.tokenExpiry,
	}, nil
}

// token returns a valid access token, refreshing five minutes before expiry
func (c *AmazonClient) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken == "" || time.Now().After(c.tokenExpiry.Add(-5*time.Minute)) {
		if _, err := c.refreshLocked(ctx); err != nil {
			return "", fmt.Errorf("token refresh failed: %w", err)
		}
	}
	return c.accessToken, nil
}

type listingItem struct {
	SKU       string `json:"sku"`
	Summaries []struct {
		MarketplaceID string `json:"marketplaceId"`
		ASIN          string `json:"asin"`
	} `json:"summaries"`
	FulfillmentAvailability []struct {
		FulfillmentChannelCode string `json:"fulfillmentChannelCode"`
		Quantity               int    `json:"quantity"`
	} `json:"fulfillmentAvailability"`
}

func (c *AmazonClient) getListing(ctx context.Context, sku, includedData string) (*listingItem, error) {
	params := url.Values{}
	params.Set("marketplaceIds", c.marketplaceID)
	params.Set("includedData", includedData)

	body, err := c.doRequest(ctx, http.MethodGet, c.itemPath(sku), params, nil)
	if err != nil {
		return nil, err
	}

	var item listingItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("failed to parse listing response: %w", err)
	}
	return &item, nil
}

func (c *AmazonClient) itemPath(sku string) string {
	return fmt.Sprintf("%s/%s/%s", listingsPath, url.PathEscape(c.sellerID), url.PathEscape(sku))
}

// doRequest performs an authenticated HTTP request to the Amazon SP-API
func (c *AmazonClient) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	accessToken, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var jsonBody []byte
	if body != nil {
		if jsonBody, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	resp, err := c.retrier.DoHTTP(ctx, "amazon "+method+" "+path, func(ctx context.Context) (*http.Response, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-amz-access-token", accessToken)
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
		return nil, clients.NewHTTPError("Amazon", resp.StatusCode, respBody)
	}

	return respBody, nil
}

// getRegionalEndpoint returns the SP-API endpoint for a region
func getRegionalEndpoint(region string) string {
	switch strings.ToLower(region) {
	case "eu":
		return euEndpoint
	case "fe":
		return feEndpoint
	default:
		return naEndpoint
	}
}
