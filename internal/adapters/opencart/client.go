// Package opencart provides the Opencart admin-module marketplace adapter.
//
// Opencart has no token API: every call logs in to the admin panel and rides
// the login redirect to a store_sync module endpoint, whose response body is
// the payload.
package opencart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
)

const (
	DefaultTimeout   = 60 * time.Second
	DefaultRateLimit = 2 // requests per second

	loginEndpoint         = "common/login"
	listProductsEndpoint  = "module/store_sync/listlocalproducts"
	updateStocksEndpoint  = "module/store_sync/setlocalquantity"
	successErrorCode      = "0"
	successLogDescription = "SUCCESS"
)

// Client implements the MarketplaceAdapter contract for Opencart.
type Client struct {
	// domain includes the admin route prefix, e.g.
	// "https://shop.example.com/admin/index.php?route=".
	domain     string
	username   string
	password   string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter

	products []models.Product
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit sets the request rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// NewClient creates a new Opencart client.
func NewClient(domain, username, password string, opts ...ClientOption) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		domain:     domain,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: DefaultTimeout, Jar: jar},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// System returns the marketplace code.
func (c *Client) System() models.System { return models.SystemOpencart }

// request logs in and follows the redirect to the target endpoint. The extra
// query string, if any, is appended to the redirect target.
func (c *Client) request(ctx context.Context, endpoint, payload string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if payload != "" {
		payload = "&" + payload
	}
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
		"redirect": {c.domain + endpoint + payload},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.domain+loginEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug().Str("endpoint", endpoint).Msg("Opencart request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.NewCommunicationError(string(models.SystemOpencart), endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewCommunicationError(string(models.SystemOpencart), "reading response", err)
	}
	if resp.StatusCode >= 300 {
		return nil, common.NewCommunicationError(string(models.SystemOpencart),
			fmt.Sprintf("%s: status %d", endpoint, resp.StatusCode), nil)
	}
	return body, nil
}

// quantity tolerates both JSON numbers and quoted numbers; the module emits
// either depending on build.
type quantity int

func (q *quantity) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return fmt.Errorf("invalid quantity %s: %w", data, err)
	}
	*q = quantity(value)
	return nil
}

func (c *Client) fetchProducts(ctx context.Context) ([]models.Product, error) {
	body, err := c.request(ctx, listProductsEndpoint, "")
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Model    string   `json:"model"`
		Quantity quantity `json:"quantity"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, common.NewCommunicationError(string(models.SystemOpencart), "malformed product list", err)
	}

	items := make([]models.Product, 0, len(raw))
	for _, product := range raw {
		items = append(items, models.Product{
			Model:  product.Model,
			Stocks: int(product.Quantity),
		})
	}
	return items, nil
}

// Refresh repopulates product records from Opencart. An empty list is treated
// as a failed fetch: the store is never actually empty, so zero items means
// the login or the module endpoint silently broke.
func (c *Client) Refresh(ctx context.Context) error {
	items, err := c.fetchProducts(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return common.NewCommunicationError(string(models.SystemOpencart),
			"zero items retrieved from Opencart", nil)
	}

	c.logger.Info().Int("count", len(items)).Msg("Fetched Opencart products")
	c.products = items
	return nil
}

// ListProducts returns a copy of the in-memory snapshot.
func (c *Client) ListProducts() []models.Product {
	out := make([]models.Product, len(c.products))
	copy(out, c.products)
	return out
}

// GetProduct looks up a product in the snapshot.
func (c *Client) GetProduct(model string) (*models.Product, error) {
	var matches []models.Product
	for _, p := range c.products {
		if p.Model == model {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("not found in Opencart: %s: %w", model, common.ErrNotFound)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("multiple results in Opencart: %s: %w", model, common.ErrMultipleResults)
	}
	product := matches[0]
	return &product, nil
}

// GetProductDirect re-fetches the product list and looks the model up in the
// fresh copy. The store_sync module has no single-product endpoint.
func (c *Client) GetProductDirect(ctx context.Context, model string) (*models.Product, error) {
	items, err := c.fetchProducts(ctx)
	if err != nil {
		return nil, err
	}

	var matches []models.Product
	for _, p := range items {
		if p.Model == model {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("not found in Opencart: %s: %w", model, common.ErrNotFound)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("multiple results in Opencart: %s: %w", model, common.ErrMultipleResults)
	}
	product := matches[0]
	return &product, nil
}

// UpdateProductStocks writes a new stock count for a model.
func (c *Client) UpdateProductStocks(ctx context.Context, model string, stocks int) (*models.WriteResult, error) {
	if _, err := c.GetProduct(model); err != nil {
		return nil, err
	}

	payload := url.Values{
		"model":    {model},
		"quantity": {fmt.Sprintf("%d", stocks)},
	}
	if _, err := c.request(ctx, updateStocksEndpoint, payload.Encode()); err != nil {
		return nil, err
	}

	// The module endpoint reports nothing machine-readable; reaching it at
	// all is the success signal.
	return &models.WriteResult{
		ErrorCode:        successErrorCode,
		ErrorDescription: successLogDescription,
	}, nil
}

// Compile-time check
var _ interfaces.MarketplaceAdapter = (*Client)(nil)
