// Package lazada provides the Lazada Open Platform marketplace adapter.
package lazada

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
)

const (
	DefaultAuthDomain = "https://auth.lazada.com/rest"
	DefaultTimeout    = 30 * time.Second
	DefaultRateLimit  = 5 // requests per second

	pageSize  = 50
	partnerID = "lazop-sdk-go-20180424"
)

// Client implements the MarketplaceAdapter contract for Lazada.
type Client struct {
	domain      string
	authDomain  string
	appKey      string
	appSecret   string
	accessToken string
	httpClient  *http.Client
	logger      *common.Logger
	limiter     *rate.Limiter

	// Post-write confirmation: re-read the product after an update and raise
	// PlatformNotBehavingError when the remote kept the old value. Lazada is
	// the known liar among the supported marketplaces.
	withConfirm bool

	products []models.Product
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithAuthDomain overrides the OAuth2 endpoint domain.
func WithAuthDomain(domain string) ClientOption {
	return func(c *Client) { c.authDomain = domain }
}

// WithAccessToken installs the signed-call access token.
func WithAccessToken(token string) ClientOption {
	return func(c *Client) { c.accessToken = token }
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

// WithoutConfirm disables the post-write read-back check.
func WithoutConfirm() ClientOption {
	return func(c *Client) { c.withConfirm = false }
}

// NewClient creates a new Lazada client.
func NewClient(domain, appKey, appSecret string, opts ...ClientOption) *Client {
	c := &Client{
		domain:      domain,
		authDomain:  DefaultAuthDomain,
		appKey:      appKey,
		appSecret:   appSecret,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:      common.NewSilentLogger(),
		withConfirm: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// System returns the marketplace code.
func (c *Client) System() models.System { return models.SystemLazada }

// SetAccessToken installs the access token used to sign API calls.
func (c *Client) SetAccessToken(token string) { c.accessToken = token }

// sign computes the Lazada request signature: HMAC-SHA256 over the API path
// followed by the sorted key-value concatenation, upper-cased hex.
func sign(secret, apiPath string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(apiPath)
	for _, key := range keys {
		sb.WriteString(key)
		sb.WriteString(params[key])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// response is the Lazada envelope. A non-"0" code is a platform error. The
// token endpoints return their fields at the top level rather than under
// "data", so the raw body is kept for those callers.
type response struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`

	raw []byte
}

func (r *response) failed() bool { return r.Code != "" && r.Code != "0" }

// request signs and sends a call to the given endpoint. When raw is true the
// access token is not attached (used by the token endpoints, which are signed
// with app credentials only).
func (c *Client) request(ctx context.Context, domain, endpoint string, apiParams map[string]string, payload string, raw bool) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := map[string]string{
		"app_key":     c.appKey,
		"sign_method": "sha256",
		"timestamp":   strconv.FormatInt(time.Now().Unix(), 10) + "000",
		"partner_id":  partnerID,
	}
	if c.accessToken != "" && !raw {
		params["access_token"] = c.accessToken
	}
	if payload != "" {
		params["payload"] = payload
	}
	for key, value := range apiParams {
		params[key] = value
	}
	params["sign"] = sign(c.appSecret, endpoint, params)

	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}

	var req *http.Request
	var err error
	if payload != "" {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, domain+endpoint,
			strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet,
			domain+endpoint+"?"+values.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("endpoint", endpoint).Msg("Lazada API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.NewCommunicationError(string(models.SystemLazada), endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewCommunicationError(string(models.SystemLazada), "reading response", err)
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, common.NewCommunicationError(string(models.SystemLazada), "malformed response", err)
	}
	parsed.raw = body
	return &parsed, nil
}

// productsPage mirrors the /products/get response body. Lazada is loose with
// number-vs-string typing, hence json.Number throughout.
type productsPage struct {
	TotalProducts int `json:"total_products"`
	Products      []struct {
		ItemID json.Number `json:"item_id"`
		Skus   []struct {
			SellerSku string       `json:"SellerSku"`
			Quantity  json.Number  `json:"quantity"`
			Available *json.Number `json:"Available"`
			SkuID     json.Number  `json:"SkuId"`
		} `json:"skus"`
	} `json:"products"`
}

func parsePage(data json.RawMessage) ([]models.Product, int, error) {
	var page productsPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, 0, err
	}

	var items []models.Product
	for _, product := range page.Products {
		for _, sku := range product.Skus {
			quantity := numberToInt(sku.Quantity)

			// Lazada has ditched the "Available" keyword more than once;
			// missing means nothing is reserved.
			available := quantity
			if sku.Available != nil {
				available = numberToInt(*sku.Available)
			}

			items = append(items, models.Product{
				Model:    sku.SellerSku,
				Stocks:   available,
				Reserved: quantity - available,
				ItemID:   product.ItemID.String(),
				SkuID:    sku.SkuID.String(),
			})
		}
	}
	return items, page.TotalProducts, nil
}

func numberToInt(n json.Number) int {
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return int(v)
}

// Refresh repopulates product records from Lazada, paging until exhaustion.
func (c *Client) Refresh(ctx context.Context) error {
	offset := 0
	total := 0
	var items []models.Product

	for {
		params := map[string]string{
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(pageSize),
		}
		result, err := c.request(ctx, c.domain, "/products/get", params, "", false)
		if err != nil {
			return err
		}
		if result.failed() {
			return common.NewCommunicationError(string(models.SystemLazada), result.Message, nil)
		}

		page, pageTotal, err := parsePage(result.Data)
		if err != nil {
			return common.NewCommunicationError(string(models.SystemLazada), "malformed products page", err)
		}
		total = pageTotal
		items = append(items, page...)

		c.logger.Info().Int("loaded", len(items)).Int("total", total).Msg("Loading Lazada items")

		offset += pageSize
		if offset >= total {
			break
		}
	}

	c.logger.Info().Int("total", len(items)).Msg("Lazada refresh complete")
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
		return nil, fmt.Errorf("not found in Lazada: %s: %w", model, common.ErrNotFound)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("multiple results in Lazada: %s: %w", model, common.ErrMultipleResults)
	}
	product := matches[0]
	return &product, nil
}

// GetProductDirect re-queries Lazada for a model instead of consulting the
// snapshot. Duplicate search hits are tolerated here (search is fuzzy); the
// exact-model match wins.
func (c *Client) GetProductDirect(ctx context.Context, model string) (*models.Product, error) {
	result, err := c.request(ctx, c.domain, "/products/get", map[string]string{"search": model}, "", false)
	if err != nil {
		return nil, err
	}
	if result.failed() {
		return nil, common.NewCommunicationError(string(models.SystemLazada), result.Message, nil)
	}

	page, _, err := parsePage(result.Data)
	if err != nil {
		return nil, common.NewCommunicationError(string(models.SystemLazada), "malformed products page", err)
	}

	var matches []models.Product
	for _, p := range page {
		if p.Model == model {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no results for %s: %w", model, common.ErrNotFound)
	}
	if len(matches) > 1 {
		c.logger.Warn().Str("model", model).Msg("Lazada has multiple results, using first")
	}
	return &matches[0], nil
}

// updatePayload is the XML body of /product/price_quantity/update. ItemId and
// SkuId are required alongside the seller SKU.
type updatePayload struct {
	XMLName xml.Name `xml:"Request"`
	Product struct {
		Skus struct {
			Sku struct {
				SellerSku string `xml:"SellerSku"`
				Quantity  int    `xml:"Quantity"`
				ItemID    string `xml:"ItemId"`
				SkuID     string `xml:"SkuId"`
			} `xml:"Sku"`
		} `xml:"Skus"`
	} `xml:"Product"`
}

func buildUpdatePayload(product *models.Product, quantity int) (string, error) {
	var payload updatePayload
	payload.Product.Skus.Sku.SellerSku = product.Model
	payload.Product.Skus.Sku.Quantity = quantity
	payload.Product.Skus.Sku.ItemID = product.ItemID
	payload.Product.Skus.Sku.SkuID = product.SkuID

	content, err := xml.Marshal(payload)
	if err != nil {
		return "", err
	}
	return `<?xml version="1.0" encoding="utf-8" ?>` + string(content), nil
}

// UpdateProductStocks writes a new stock count for a model. Lazada tracks
// reserved units, so the uploaded quantity is stocks plus the reservation
// observed at refresh. With confirmation enabled, a read-back mismatch raises
// PlatformNotBehavingError.
func (c *Client) UpdateProductStocks(ctx context.Context, model string, stocks int) (*models.WriteResult, error) {
	product, err := c.GetProduct(model)
	if err != nil {
		return nil, err
	}

	payload, err := buildUpdatePayload(product, stocks+product.Reserved)
	if err != nil {
		return nil, fmt.Errorf("failed to build update payload: %w", err)
	}

	result, err := c.request(ctx, c.domain, "/product/price_quantity/update", nil, payload, false)
	if err != nil {
		return nil, err
	}

	if c.withConfirm && !result.failed() {
		updated, err := c.GetProductDirect(ctx, model)
		if err != nil {
			return nil, err
		}
		if updated.Stocks != stocks {
			return nil, &common.PlatformNotBehavingError{
				System: string(models.SystemLazada),
				Model:  model,
			}
		}
	}

	return &models.WriteResult{
		ErrorCode:        result.Code,
		ErrorDescription: result.Message,
	}, nil
}

// tokenResponse mirrors the /auth/token/* response bodies.
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
}

func (c *Client) tokenRequest(ctx context.Context, endpoint string, params map[string]string) (*models.OAuth2Token, error) {
	result, err := c.request(ctx, c.authDomain, endpoint, params, "", true)
	if err != nil {
		return nil, err
	}
	if result.failed() {
		return nil, common.NewCommunicationError(string(models.SystemLazada), result.Message, nil)
	}

	// Token endpoint fields live at the top level of the body.
	var tokens tokenResponse
	if err := json.Unmarshal(result.raw, &tokens); err != nil {
		return nil, common.NewCommunicationError(string(models.SystemLazada), "malformed token response", err)
	}
	if tokens.AccessToken == "" {
		return nil, common.NewCommunicationError(string(models.SystemLazada), "token response missing access_token", nil)
	}

	expiresIn := numberToInt(tokens.ExpiresIn)
	return &models.OAuth2Token{
		System:       models.SystemLazada,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		CreatedOn:    time.Now().UTC(),
		ExpiresOn:    time.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// ExchangeAuthCode trades an authorization code for OAuth2 tokens.
func (c *Client) ExchangeAuthCode(ctx context.Context, code string) (*models.OAuth2Token, error) {
	return c.tokenRequest(ctx, "/auth/token/create", map[string]string{"code": code})
}

// RefreshTokens trades a refresh token for a fresh token pair.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*models.OAuth2Token, error) {
	return c.tokenRequest(ctx, "/auth/token/refresh", map[string]string{"refresh_token": refreshToken})
}

// Compile-time checks
var (
	_ interfaces.MarketplaceAdapter  = (*Client)(nil)
	_ interfaces.OAuth2Authenticator = (*Client)(nil)
)
