// Package woocommerce provides the WooCommerce REST API marketplace adapter.
package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second

	apiBasePath     = "/wp-json/wc/v3/"
	productsPerPage = 100
)

// Client implements the MarketplaceAdapter contract for WooCommerce, against
// the wc/v3 REST API.
type Client struct {
	domain         string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	logger         *common.Logger
	limiter        *rate.Limiter

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

// NewClient creates a new WooCommerce client.
func NewClient(domain, consumerKey, consumerSecret string, opts ...ClientOption) *Client {
	c := &Client{
		domain:         domain,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		limiter:        rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:         common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// System returns the marketplace code.
func (c *Client) System() models.System { return models.SystemWooCommerce }

// request sends an authenticated call to a wc/v3 resource and returns the
// body plus response headers. WooCommerce reports errors as JSON with a
// "code" and "message"; those come back inside the returned WriteResult.
func (c *Client) request(ctx context.Context, method, resource string, params url.Values, payload any) ([]byte, http.Header, *models.WriteResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("consumer_key", c.consumerKey)
	params.Set("consumer_secret", c.consumerSecret)
	fullURL := c.domain + apiBasePath + resource + "?" + params.Encode()

	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("resource", resource).Str("method", method).Msg("WooCommerce API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, nil, common.NewCommunicationError(string(models.SystemWooCommerce), resource, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, nil, nil, common.NewCommunicationError(string(models.SystemWooCommerce), "reading response", err)
	}

	if resp.StatusCode >= 300 {
		var apiError struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(buf.Bytes(), &apiError); err != nil || apiError.Code == "" {
			apiError.Code = strconv.Itoa(resp.StatusCode)
			apiError.Message = http.StatusText(resp.StatusCode)
		}
		return nil, resp.Header, &models.WriteResult{
			ErrorCode:        apiError.Code,
			ErrorDescription: apiError.Message,
		}, nil
	}
	return buf.Bytes(), resp.Header, nil, nil
}

type productRecord struct {
	ID            json.Number `json:"id"`
	Sku           string      `json:"sku"`
	StockQuantity *int        `json:"stock_quantity"`
}

// Refresh repopulates product records from WooCommerce, paging until the
// X-WP-TotalPages header is exhausted. Products without a SKU or with
// unmanaged stock are skipped.
func (c *Client) Refresh(ctx context.Context) error {
	var items []models.Product
	page := 1

	for {
		params := url.Values{
			"per_page": {strconv.Itoa(productsPerPage)},
			"page":     {strconv.Itoa(page)},
		}
		body, headers, apiError, err := c.request(ctx, http.MethodGet, "products", params, nil)
		if err != nil {
			return err
		}
		if apiError != nil {
			return common.NewCommunicationError(string(models.SystemWooCommerce), apiError.ErrorDescription, nil)
		}

		var records []productRecord
		if err := json.Unmarshal(body, &records); err != nil {
			return common.NewCommunicationError(string(models.SystemWooCommerce), "malformed products page", err)
		}

		for _, record := range records {
			if record.Sku == "" || record.StockQuantity == nil {
				c.logger.Debug().
					Str("id", record.ID.String()).
					Str("sku", record.Sku).
					Msg("Skipping WooCommerce item without sku or managed stock")
				continue
			}
			items = append(items, models.Product{
				Model:  record.Sku,
				Stocks: *record.StockQuantity,
				ItemID: record.ID.String(),
			})
		}

		totalPages, err := strconv.Atoi(headers.Get("X-WP-TotalPages"))
		if err != nil {
			return common.NewCommunicationError(string(models.SystemWooCommerce), "missing X-WP-TotalPages header", err)
		}
		page++
		if page > totalPages {
			break
		}
	}

	c.logger.Info().Int("count", len(items)).Msg("Fetched WooCommerce products")
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
		return nil, fmt.Errorf("not found in WooCommerce: %s: %w", model, common.ErrNotFound)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("multiple results in WooCommerce: %s: %w", model, common.ErrMultipleResults)
	}
	product := matches[0]
	return &product, nil
}

// GetProductDirect queries the products resource filtered by SKU, bypassing
// the snapshot.
func (c *Client) GetProductDirect(ctx context.Context, model string) (*models.Product, error) {
	params := url.Values{"sku": {model}}
	body, _, apiError, err := c.request(ctx, http.MethodGet, "products", params, nil)
	if err != nil {
		return nil, err
	}
	if apiError != nil {
		return nil, common.NewCommunicationError(string(models.SystemWooCommerce), apiError.ErrorDescription, nil)
	}

	var records []productRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, common.NewCommunicationError(string(models.SystemWooCommerce), "malformed product lookup", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("not found in WooCommerce: %s: %w", model, common.ErrNotFound)
	}
	if len(records) > 1 {
		return nil, fmt.Errorf("multiple results in WooCommerce: %s: %w", model, common.ErrMultipleResults)
	}

	record := records[0]
	stocks := 0
	if record.StockQuantity != nil {
		stocks = *record.StockQuantity
	}
	return &models.Product{
		Model:  record.Sku,
		Stocks: stocks,
		ItemID: record.ID.String(),
	}, nil
}

// UpdateProductStocks writes a new stock count for a model.
func (c *Client) UpdateProductStocks(ctx context.Context, model string, stocks int) (*models.WriteResult, error) {
	product, err := c.GetProduct(model)
	if err != nil {
		return nil, err
	}

	resource := "products/" + product.ItemID
	_, _, apiError, err := c.request(ctx, http.MethodPut, resource, nil, map[string]any{
		"stock_quantity": stocks,
	})
	if err != nil {
		return nil, err
	}
	if apiError != nil {
		return apiError, nil
	}
	return &models.WriteResult{ErrorCode: "0"}, nil
}

// Compile-time check
var _ interfaces.MarketplaceAdapter = (*Client)(nil)
