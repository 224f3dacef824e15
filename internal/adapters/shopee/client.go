// Package shopee provides the Shopee partner API marketplace adapter.
package shopee

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
)

const (
	DefaultBaseURL   = "https://partner.shopeemobile.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second

	authResource   = "/api/v1/shop/auth_partner"
	entriesPerPage = 100

	// Shopee's item-detail endpoint intermittently returns garbage; the
	// fetch is retried this many times before the item is skipped.
	itemFetchRetries = 10
)

// Client implements the MarketplaceAdapter contract for Shopee.
type Client struct {
	baseURL    string
	shopID     int64
	partnerID  int64
	partnerKey string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter

	products []models.Product
	// variation id -> parent item id, so stock updates can target the
	// variation endpoint. Flattening is invisible to the engine.
	variationToItem map[string]string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

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

// NewClient creates a new Shopee client.
func NewClient(shopID, partnerID int64, partnerKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:         DefaultBaseURL,
		shopID:          shopID,
		partnerID:       partnerID,
		partnerKey:      partnerKey,
		httpClient:      &http.Client{Timeout: DefaultTimeout},
		limiter:         rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:          common.NewSilentLogger(),
		variationToItem: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// System returns the marketplace code.
func (c *Client) System() models.System { return models.SystemShopee }

// GenerateShopAuthorizationURL builds the partner-signed URL that connects a
// Shopee shop to a Shopee app.
func (c *Client) GenerateShopAuthorizationURL() string {
	redirectURL := fmt.Sprintf("https://shopee.ph/shop/%d", c.shopID)
	digest := sha256.Sum256([]byte(c.partnerKey + redirectURL))
	token := hex.EncodeToString(digest[:])
	return fmt.Sprintf("%s%s?id=%d&token=%s&redirect=%s",
		c.baseURL, authResource, c.partnerID, token, redirectURL)
}

// constructPayload attaches the partner id, shop id, and timestamp that every
// Shopee call requires.
func (c *Client) constructPayload(input map[string]any) ([]byte, error) {
	payload := make(map[string]any, len(input)+3)
	for key, value := range input {
		payload[key] = value
	}
	payload["partner_id"] = c.partnerID
	payload["shopid"] = c.shopID
	payload["timestamp"] = time.Now().UTC().Unix()
	return json.Marshal(payload)
}

type requestResult struct {
	body             []byte
	errorCode        string
	errorDescription string
}

func (r *requestResult) failed() bool { return r.errorCode != "" }

// request signs and POSTs a payload: the signature is HMAC-SHA256 of
// "<url>|<payload>" under the partner key, sent as the Authorization header.
func (c *Client) request(ctx context.Context, endpoint string, payload []byte) (*requestResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	fullURL := c.baseURL + endpoint
	mac := hmac.New(sha256.New, []byte(c.partnerKey))
	mac.Write([]byte(fullURL + "|" + string(payload)))
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", signature)

	c.logger.Debug().Str("endpoint", endpoint).Msg("Shopee API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.NewCommunicationError(string(models.SystemShopee), endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewCommunicationError(string(models.SystemShopee), "reading response", err)
	}

	var envelope struct {
		Error string `json:"error"`
		Msg   string `json:"msg"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, common.NewCommunicationError(string(models.SystemShopee), "malformed response", err)
	}

	if resp.StatusCode >= 300 || envelope.Error != "" {
		description := envelope.Msg
		if description == "" {
			description = envelope.Error
		}
		if description == "" {
			description = "request error"
		}
		return &requestResult{
			body:             body,
			errorCode:        strconv.Itoa(resp.StatusCode),
			errorDescription: description,
		}, nil
	}
	return &requestResult{body: body}, nil
}

type itemsPage struct {
	Items []struct {
		ItemID json.Number `json:"item_id"`
	} `json:"items"`
	More bool `json:"more"`
}

type itemDetail struct {
	Item struct {
		ItemID     json.Number `json:"item_id"`
		ItemSku    string      `json:"item_sku"`
		Stock      int         `json:"stock"`
		Variations []struct {
			VariationID  json.Number `json:"variation_id"`
			VariationSku string      `json:"variation_sku"`
			Stock        int         `json:"stock"`
		} `json:"variations"`
	} `json:"item"`
}

// fetchItem retrieves one item's detail, retrying transient failures.
func (c *Client) fetchItem(ctx context.Context, itemID string) (*itemDetail, error) {
	var detail itemDetail

	operation := func() error {
		payload, err := c.constructPayload(map[string]any{"item_id": json.Number(itemID)})
		if err != nil {
			return backoff.Permanent(err)
		}
		result, err := c.request(ctx, "/api/v1/item/get", payload)
		if err != nil {
			return err
		}
		if result.failed() {
			return common.NewCommunicationError(string(models.SystemShopee), result.errorDescription, nil)
		}
		if err := json.Unmarshal(result.body, &detail); err != nil {
			return common.NewCommunicationError(string(models.SystemShopee), "malformed item detail", err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), itemFetchRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Refresh repopulates product records from Shopee, paging the item list and
// fetching each item's detail. Items with more than one variation are
// flattened: each variation becomes its own product under its own model.
func (c *Client) Refresh(ctx context.Context) error {
	offset := 0
	var itemIDs []string

	for {
		payload, err := c.constructPayload(map[string]any{
			"pagination_entries_per_page": entriesPerPage,
			"pagination_offset":           offset,
		})
		if err != nil {
			return fmt.Errorf("failed to build payload: %w", err)
		}
		result, err := c.request(ctx, "/api/v1/items/get", payload)
		if err != nil {
			return err
		}
		if result.failed() {
			return common.NewCommunicationError(string(models.SystemShopee), result.errorDescription, nil)
		}

		var page itemsPage
		if err := json.Unmarshal(result.body, &page); err != nil {
			return common.NewCommunicationError(string(models.SystemShopee), "malformed items page", err)
		}
		for _, item := range page.Items {
			itemIDs = append(itemIDs, item.ItemID.String())
		}

		if !page.More {
			break
		}
		offset += entriesPerPage
	}

	c.logger.Info().Int("count", len(itemIDs)).Msg("Listing Shopee items")

	var items []models.Product
	variationToItem := make(map[string]string)
	for _, itemID := range itemIDs {
		detail, err := c.fetchItem(ctx, itemID)
		if err != nil {
			c.logger.Warn().Str("item_id", itemID).Err(err).Msg("Skipping Shopee item")
			continue
		}

		raw := detail.Item
		if len(raw.Variations) > 1 {
			for _, variation := range raw.Variations {
				items = append(items, models.Product{
					Model:       variation.VariationSku,
					Stocks:      variation.Stock,
					ItemID:      raw.ItemID.String(),
					VariationID: variation.VariationID.String(),
				})
				variationToItem[variation.VariationID.String()] = raw.ItemID.String()
			}
			c.logger.Debug().
				Int("variations", len(raw.Variations)).
				Str("item_id", raw.ItemID.String()).
				Msg("Found Shopee variations")
		} else {
			items = append(items, models.Product{
				Model:  raw.ItemSku,
				Stocks: raw.Stock,
				ItemID: raw.ItemID.String(),
			})
		}
	}

	c.products = items
	c.variationToItem = variationToItem
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
		return nil, fmt.Errorf("not found in Shopee: %s: %w", model, common.ErrNotFound)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("multiple results in Shopee: %s: %w", model, common.ErrMultipleResults)
	}
	product := matches[0]
	return &product, nil
}

// GetProductDirect re-fetches a product's item detail from Shopee. The model
// must be known from the last refresh (Shopee has no SKU search).
func (c *Client) GetProductDirect(ctx context.Context, model string) (*models.Product, error) {
	product, err := c.GetProduct(model)
	if err != nil {
		return nil, err
	}

	detail, err := c.fetchItem(ctx, product.ItemID)
	if err != nil {
		return nil, err
	}

	raw := detail.Item
	if product.VariationID != "" {
		for _, variation := range raw.Variations {
			if variation.VariationSku == model {
				return &models.Product{
					Model:       variation.VariationSku,
					Stocks:      variation.Stock,
					ItemID:      raw.ItemID.String(),
					VariationID: variation.VariationID.String(),
				}, nil
			}
		}
		return nil, fmt.Errorf("variation %s gone from item %s: %w", model, product.ItemID, common.ErrNotFound)
	}
	return &models.Product{
		Model:  raw.ItemSku,
		Stocks: raw.Stock,
		ItemID: raw.ItemID.String(),
	}, nil
}

// UpdateProductStocks writes a new stock count for a model. Variation SKUs
// are routed to the variation stock endpoint against their parent item.
func (c *Client) UpdateProductStocks(ctx context.Context, model string, stocks int) (*models.WriteResult, error) {
	product, err := c.GetProduct(model)
	if err != nil {
		return nil, err
	}

	var endpoint string
	var input map[string]any
	if parentID, ok := c.variationToItem[product.VariationID]; ok && product.VariationID != "" {
		endpoint = "/api/v1/items/update_variation_stock"
		input = map[string]any{
			"item_id":      json.Number(parentID),
			"variation_id": json.Number(product.VariationID),
			"stock":        stocks,
		}
	} else {
		endpoint = "/api/v1/items/update_stock"
		input = map[string]any{
			"item_id": json.Number(product.ItemID),
			"stock":   stocks,
		}
	}

	payload, err := c.constructPayload(input)
	if err != nil {
		return nil, fmt.Errorf("failed to build payload: %w", err)
	}
	result, err := c.request(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if result.failed() {
		return &models.WriteResult{
			ErrorCode:        result.errorCode,
			ErrorDescription: result.errorDescription,
		}, nil
	}
	return &models.WriteResult{ErrorCode: "0"}, nil
}

// CreateProduct lists a new product on Shopee. Used by the cross-marketplace
// listing pass only.
func (c *Client) CreateProduct(ctx context.Context, listing *models.ProductListing) (string, error) {
	images := make([]map[string]string, 0, len(listing.Images))
	for _, img := range listing.Images {
		images = append(images, map[string]string{"url": img})
	}

	weight := listing.WeightKG
	if weight == 0 {
		weight = 0.2
	}

	payload, err := c.constructPayload(map[string]any{
		"category_id": 5067,
		"name":        listing.Name,
		"description": listing.Description,
		"item_sku":    listing.Model,
		"price":       listing.Price,
		"stock":       listing.Stocks,
		"weight":      weight,
		"images":      images,
		"logistics": []map[string]any{
			{
				"logistic_id": 40013, // Black Arrow Integrated
				"enabled":     true,
				"size_id":     1,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to build payload: %w", err)
	}

	result, err := c.request(ctx, "/api/v1/item/add", payload)
	if err != nil {
		return "", err
	}
	if result.failed() {
		return "", common.NewCommunicationError(string(models.SystemShopee), result.errorDescription, nil)
	}

	var created struct {
		ItemID json.Number `json:"item_id"`
	}
	if err := json.Unmarshal(result.body, &created); err != nil {
		return "", common.NewCommunicationError(string(models.SystemShopee), "malformed create response", err)
	}
	return created.ItemID.String(), nil
}

// Compile-time checks
var (
	_ interfaces.MarketplaceAdapter = (*Client)(nil)
	_ interfaces.ProductCreator     = (*Client)(nil)
)
