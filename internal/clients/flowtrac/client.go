package flowtrac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

var errUnauthorized = errors.New("flowtrac session expired")

// FlowtracClient implements WarehouseClient for the Flowtrac device API
type FlowtracClient struct {
	httpClient  *http.Client
	retrier     *clients.Retrier
	rateLimiter *rate.Limiter
	logger      *logrus.Entry
	baseURL     string
	badge       string
	pin         string
	warehouse   string

	sessionMu sync.Mutex
	cookies   []*http.Cookie
}

// NewFlowtracClient creates a new Flowtrac API client
func NewFlowtracClient(opts ...clients.Option) *FlowtracClient {
	o := clients.BuildHTTPOptions(5, opts)
	return &FlowtracClient{
		httpClient:  o.HTTPClient,
		retrier:     o.Retrier,
		rateLimiter: rate.NewLimiter(o.RateLimit, o.Burst),
		logger:      logrus.WithField("component", "flowtrac"),
	}
}

// Initialize sets up the client with credentials. "warehouse" optionally
// restricts which warehouse's bins are counted.
func (c *FlowtracClient) Initialize(ctx context.Context, credentials map[string]interface{}) error {
	c.baseURL = strings.TrimRight(clients.CredentialString(credentials, "base_url"), "/")
	if c.baseURL == "" {
		return fmt.Errorf("missing base_url")
	}
	c.badge = clients.CredentialString(credentials, "badge")
	c.pin = clients.CredentialString(credentials, "pin")
	if c.badge == "" || c.pin == "" {
		return fmt.Errorf("missing badge or pin")
	}
	c.warehouse = clients.CredentialString(credentials, "warehouse")
	return nil
}

// FetchInventory looks up each SKU and sums its bins that count toward
// available stock. Unknown SKUs are left out of the result.
func (c *FlowtracClient) FetchInventory(ctx context.Context, skus []string) (map[string]clients.WarehouseLevel, error) {
	levels := make(map[string]clients.WarehouseLevel, len(skus))
	for _, sku := range skus {
		level, found, err := c.fetchOne(ctx, sku)
		if err != nil {
			return nil, fmt.Errorf("fetch inventory for %s: %w", sku, err)
		}
		if !found {
			c.logger.WithField("sku", sku).Debug("SKU not known to warehouse")
			continue
		}
		levels[sku] = level
	}
	return levels, nil
}

func (c *FlowtracClient) fetchOne(ctx context.Context, sku string) (clients.WarehouseLevel, bool, error) {
	productID, found, err := c.findProduct(ctx, sku)
	if err != nil || !found {
		return clients.WarehouseLevel{}, found, err
	}

	params := url.Values{}
	params.Set("product_id", productID)
	body, err := c.get(ctx, "/product-warehouse", params)
	if err != nil {
		return clients.WarehouseLevel{}, false, err
	}

	var rows []productWarehouse
	if err := json.Unmarshal(body, &rows); err != nil {
		return clients.WarehouseLevel{}, false, fmt.Errorf("failed to parse product-warehouse response: %w", err)
	}

	level := clients.WarehouseLevel{SKU: sku, FetchedAt: time.Now().UTC()}
	for _, row := range rows {
		if c.warehouse != "" && !strings.EqualFold(row.Warehouse, c.warehouse) {
			continue
		}
		if !row.countsTowardAvailable() {
			continue
		}
		qty := int(row.Quantity)
		if qty < 0 {
			qty = 0
		}
		level.Quantity += qty
		level.Bins = append(level.Bins, models.BinQuantity{
			Warehouse: row.Warehouse,
			Bin:       row.Bin,
			Quantity:  qty,
		})
	}
	return level, true, nil
}

func (c *FlowtracClient) findProduct(ctx context.Context, sku string) (string, bool, error) {
	params := url.Values{}
	params.Set("barcode", sku)
	body, err := c.get(ctx, "/product", params)
	if err != nil {
		var chErr *clients.ChannelError
		if errors.As(err, &chErr) && chErr.Kind == models.UpdateErrorNotFound {
			return "", false, nil
		}
		return "", false, err
	}

	var products []struct {
		ProductID flexString `json:"product_id"`
		Product   string     `json:"product"`
		Barcode   string     `json:"barcode"`
	}
	if err := json.Unmarshal(body, &products); err != nil {
		return "", false, fmt.Errorf("failed to parse product response: %w", err)
	}
	for _, p := range products {
		if p.Product == sku || p.Barcode == sku {
			return string(p.ProductID), true, nil
		}
	}
	return "", false, nil
}

// get issues an authenticated GET, logging in first and once more on 401
func (c *FlowtracClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, err := c.doRequest(ctx, path, params)
	if errors.Is(err, errUnauthorized) {
		c.sessionMu.Lock()
		c.cookies = nil
		c.sessionMu.Unlock()
		body, err = c.doRequest(ctx, path, params)
	}
	return body, err
}

func (c *FlowtracClient) session(ctx context.Context) ([]*http.Cookie, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if len(c.cookies) > 0 {
		return c.cookies, nil
	}

	form := url.Values{}
	form.Set("badge", c.badge)
	form.Set("pin", c.pin)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/device-login/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flowtrac login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, clients.NewHTTPError("Flowtrac login", resp.StatusCode, body)
	}
	if len(resp.Cookies()) == 0 {
		return nil, fmt.Errorf("flowtrac login returned no session cookie")
	}

	c.cookies = resp.Cookies()
	c.logger.Debug("Flowtrac session established")
	return c.cookies, nil
}

func (c *FlowtracClient) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	cookies, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	resp, err := c.retrier.DoHTTP(ctx, "flowtrac GET "+path, func(ctx context.Context) (*http.Response, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		for _, cookie := range cookies {
			req.AddCookie(cookie)
		}
		req.Header.Set("Accept", "application/json")
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

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errUnauthorized
	}
	if resp.StatusCode >= 400 {
		return nil, clients.NewHTTPError("Flowtrac", resp.StatusCode, respBody)
	}

	return respBody, nil
}

type productWarehouse struct {
	Warehouse          string  `json:"warehouse"`
	Bin                string  `json:"bin"`
	Quantity           flexInt `json:"quantity"`
	IncludeInAvailable string  `json:"include_in_available"`
}

func (r productWarehouse) countsTowardAvailable() bool {
	switch strings.ToLower(strings.TrimSpace(r.IncludeInAvailable)) {
	case "", "yes", "true", "1":
		return true
	default:
		return false
	}
}

// flexInt accepts numbers and numeric strings
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %q", s)
	}
	*f = flexInt(v)
	return nil
}

// flexString accepts strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	*f = flexString(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	return nil
}
