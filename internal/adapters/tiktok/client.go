// Package tiktok provides the TikTok Shop API marketplace adapter.
package tiktok

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
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
)

const (
	DefaultAuthDomain = "https://auth.tiktok-shops.com"
	DefaultTimeout    = 30 * time.Second
	DefaultRateLimit  = 5 // requests per second

	productsPageSize = 100

	// TikTok distinguishes sales warehouses (type 1) from return warehouses.
	salesWarehouseType = 1
)

// Client implements the MarketplaceAdapter contract for TikTok Shop.
type Client struct {
	domain      string
	authDomain  string
	appKey      string
	appSecret   string
	accessToken string
	shopID      string
	warehouseID string
	httpClient  *http.Client
	logger      *common.Logger
	limiter     *rate.Limiter

	products []models.Product
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithAuthDomain overrides the OAuth2 token endpoint domain.
func WithAuthDomain(domain string) ClientOption {
	return func(c *Client) { c.authDomain = domain }
}

// WithAccessToken installs the access token used to sign API calls.
func WithAccessToken(token string) ClientOption {
	return func(c *Client) { c.accessToken = token }
}

// WithShopID sets the shop id sent with every call.
func WithShopID(shopID string) ClientOption {
	return func(c *Client) { c.shopID = shopID }
}

// WithWarehouseID pins the warehouse stocks are read from and written to.
// When unset, Refresh resolves the first sales warehouse.
func WithWarehouseID(warehouseID string) ClientOption {
	return func(c *Client) { c.warehouseID = warehouseID }
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

// NewClient creates a new TikTok Shop client.
func NewClient(domain, appKey, appSecret string, opts ...ClientOption) *Client {
	c := &Client{
		domain:     domain,
		authDomain: DefaultAuthDomain,
		appKey:     appKey,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// System returns the marketplace code.
func (c *Client) System() models.System { return models.SystemTiktok }

// SetAccessToken installs the access token used to sign API calls.
func (c *Client) SetAccessToken(token string) { c.accessToken = token }

// sign computes the TikTok request signature: HMAC-SHA256 under the app
// secret of secret + path + concatenated sorted key/value pairs + secret.
func (c *Client) sign(path string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var base strings.Builder
	base.WriteString(c.appSecret)
	base.WriteString(path)
	for _, key := range keys {
		base.WriteString(key)
		base.WriteString(params[key])
	}
	base.WriteString(c.appSecret)

	mac := hmac.New(sha256.New, []byte(c.appSecret))
	mac.Write([]byte(base.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

type responseEnvelope struct {
	Code    json.Number     `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (r *responseEnvelope) failed() bool {
	return r.Code.String() != "" && r.Code.String() != "0"
}

// request signs and sends a call. The signature covers the common query
// parameters only; access_token and sign are appended afterwards. GET when
// the payload is nil, otherwise the given method with a JSON body.
func (c *Client) request(ctx context.Context, method, domain, endpoint string, payload any) (*responseEnvelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if domain == "" {
		domain = c.domain
	}

	params := map[string]string{
		"timestamp": fmt.Sprintf("%d", time.Now().UTC().Unix()),
		"app_key":   c.appKey,
		"shop_id":   c.shopID,
	}
	signature := c.sign(endpoint, params)
	params["access_token"] = c.accessToken
	params["sign"] = signature

	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	fullURL := domain + endpoint + "?" + query.Encode()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
		if method == "" {
			method = http.MethodPost
		}
	} else {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("endpoint", endpoint).Str("method", method).Msg("TikTok API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.NewCommunicationError(string(models.SystemTiktok), endpoint, err)
	}
	defer resp.Body.Close()

	var envelope responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, common.NewCommunicationError(string(models.SystemTiktok), "malformed response", err)
	}
	return &envelope, nil
}

// resolveWarehouse fills in the warehouse id from the shop's first sales
// warehouse.
func (c *Client) resolveWarehouse(ctx context.Context) error {
	if c.warehouseID != "" {
		return nil
	}

	result, err := c.request(ctx, "", "", "/api/logistics/get_warehouse_list", nil)
	if err != nil {
		return err
	}
	if result.failed() {
		return common.NewCommunicationError(string(models.SystemTiktok), result.Message, nil)
	}

	var data struct {
		WarehouseList []struct {
			WarehouseID   string `json:"warehouse_id"`
			WarehouseType int    `json:"warehouse_type"`
		} `json:"warehouse_list"`
	}
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return common.NewCommunicationError(string(models.SystemTiktok), "malformed warehouse list", err)
	}

	for _, warehouse := range data.WarehouseList {
		if warehouse.WarehouseType == salesWarehouseType {
			c.warehouseID = warehouse.WarehouseID
			c.logger.Info().Str("warehouse_id", c.warehouseID).Msg("TikTok warehouse resolved")
			return nil
		}
	}
	return fmt.Errorf("no sales warehouse in TikTok shop: %w", common.ErrNotFound)
}

type productsPage struct {
	Total    int `json:"total"`
	Products []struct {
		ID   json.Number `json:"id"`
		Skus []struct {
			ID         json.Number `json:"id"`
			SellerSku  string      `json:"seller_sku"`
			StockInfos []struct {
				WarehouseID    string `json:"warehouse_id"`
				AvailableStock int    `json:"available_stock"`
			} `json:"stock_infos"`
		} `json:"skus"`
	} `json:"products"`
}

// Refresh repopulates product records from TikTok. A product's SKUs each
// become their own record; stocks are summed over a SKU's warehouses.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.resolveWarehouse(ctx); err != nil {
		return err
	}

	var items []models.Product
	pageNumber := 1

	for {
		result, err := c.request(ctx, http.MethodPost, "", "/api/products/search", map[string]any{
			"page_number": pageNumber,
			"page_size":   productsPageSize,
		})
		if err != nil {
			return err
		}
		if result.failed() {
			return common.NewCommunicationError(string(models.SystemTiktok), result.Message, nil)
		}

		var page productsPage
		if err := json.Unmarshal(result.Data, &page); err != nil {
			return common.NewCommunicationError(string(models.SystemTiktok), "malformed products page", err)
		}

		for _, product := range page.Products {
			for _, sku := range product.Skus {
				stocks := 0
				for _, info := range sku.StockInfos {
					stocks += info.AvailableStock
				}
				items = append(items, models.Product{
					Model:  sku.SellerSku,
					Stocks: stocks,
					ItemID: product.ID.String(),
					SkuID:  sku.ID.String(),
				})
			}
		}

		if pageNumber*productsPageSize >= page.Total {
			break
		}
		pageNumber++
	}

	c.logger.Info().Int("count", len(items)).Msg("Fetched TikTok products")
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
		return nil, fmt.Errorf("not found in TikTok: %s: %w", model, common.ErrNotFound)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("multiple results in TikTok: %s: %w", model, common.ErrMultipleResults)
	}
	product := matches[0]
	return &product, nil
}

// GetProductDirect is not supported: TikTok has no single-SKU lookup worth
// the round trip, and reconciliation never needs it here. TikTok does not
// post-verify writes and is not a listing source.
func (c *Client) GetProductDirect(ctx context.Context, model string) (*models.Product, error) {
	return nil, common.NewCommunicationError(string(models.SystemTiktok), "direct product lookup not supported", nil)
}

// UpdateProductStocks writes a new stock count for a model into the resolved
// warehouse.
func (c *Client) UpdateProductStocks(ctx context.Context, model string, stocks int) (*models.WriteResult, error) {
	product, err := c.GetProduct(model)
	if err != nil {
		return nil, err
	}

	result, err := c.request(ctx, http.MethodPut, "", "/api/products/stocks", map[string]any{
		"product_id": product.ItemID,
		"skus": []map[string]any{
			{
				"id": product.SkuID,
				"stock_infos": []map[string]any{
					{
						"warehouse_id":    c.warehouseID,
						"available_stock": stocks,
					},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if result.failed() {
		return &models.WriteResult{
			ErrorCode:        result.Code.String(),
			ErrorDescription: result.Message,
		}, nil
	}
	return &models.WriteResult{ErrorCode: "0"}, nil
}

type tokenData struct {
	AccessToken         string      `json:"access_token"`
	RefreshToken        string      `json:"refresh_token"`
	AccessTokenExpireIn json.Number `json:"access_token_expire_in"`
}

func (c *Client) tokenRequest(ctx context.Context, endpoint string, payload map[string]string) (*models.OAuth2Token, error) {
	result, err := c.request(ctx, http.MethodPost, c.authDomain, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if result.failed() {
		return nil, common.NewCommunicationError(string(models.SystemTiktok),
			fmt.Sprintf("token request failed: %s", result.Message), nil)
	}

	var data tokenData
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return nil, common.NewCommunicationError(string(models.SystemTiktok), "malformed token response", err)
	}

	// access_token_expire_in is an absolute unix timestamp.
	expireAt, _ := data.AccessTokenExpireIn.Int64()
	return &models.OAuth2Token{
		System:       models.SystemTiktok,
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		ExpiresOn:    time.Unix(expireAt, 0).UTC(),
	}, nil
}

// ExchangeAuthCode trades an authorization code for OAuth2 tokens.
func (c *Client) ExchangeAuthCode(ctx context.Context, code string) (*models.OAuth2Token, error) {
	return c.tokenRequest(ctx, "/api/token/getAccessToken", map[string]string{
		"app_key":    c.appKey,
		"app_secret": c.appSecret,
		"auth_code":  code,
		"grant_type": "authorized_code",
	})
}

// RefreshTokens trades a refresh token for a fresh token pair.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*models.OAuth2Token, error) {
	return c.tokenRequest(ctx, "/api/token/refreshToken", map[string]string{
		"app_key":       c.appKey,
		"app_secret":    c.appSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
}

// Compile-time checks
var (
	_ interfaces.MarketplaceAdapter  = (*Client)(nil)
	_ interfaces.OAuth2Authenticator = (*Client)(nil)
)
