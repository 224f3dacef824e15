// Package interfaces defines service contracts for stocksync.
package interfaces

import (
	"context"

	"github.com/skeolabs/stocksync/internal/models"
)

// MarketplaceAdapter is the uniform read/write surface the reconciliation
// engine consumes. Concrete adapters hide signing, pagination, retries, and
// variant explosion. Adapters are owned by a single batch and their calls are
// synchronous from the engine's perspective.
type MarketplaceAdapter interface {
	// System returns the marketplace code this adapter serves.
	System() models.System

	// Refresh repopulates the in-memory product list from the remote
	// marketplace, paging until exhaustion. Variant SKUs are flattened into
	// the list, each under its own model.
	Refresh(ctx context.Context) error

	// ListProducts returns a copy of the in-memory snapshot.
	ListProducts() []models.Product

	// GetProduct looks up a product in the snapshot. Returns
	// common.ErrNotFound if absent and common.ErrMultipleResults if the
	// model is ambiguous.
	GetProduct(model string) (*models.Product, error)

	// GetProductDirect bypasses the snapshot and re-queries the marketplace.
	// Used for post-write verification and cross-marketplace listing.
	GetProductDirect(ctx context.Context, model string) (*models.Product, error)

	// UpdateProductStocks writes a new stock count for a model. Adapters that
	// post-validate (read-after-write) return PlatformNotBehavingError when
	// the remote did not take the write.
	UpdateProductStocks(ctx context.Context, model string, stocks int) (*models.WriteResult, error)
}

// ProductCreator is implemented by adapters that can list new products.
// Used only by the cross-marketplace listing pass, not by reconciliation.
type ProductCreator interface {
	CreateProduct(ctx context.Context, listing *models.ProductListing) (string, error)
}

// OAuth2Authenticator is implemented by adapters whose marketplace requires
// an OAuth2 token lifecycle.
type OAuth2Authenticator interface {
	// ExchangeAuthCode trades a user-supplied authorization code for tokens.
	ExchangeAuthCode(ctx context.Context, code string) (*models.OAuth2Token, error)

	// RefreshTokens trades a refresh token for a fresh token pair.
	RefreshTokens(ctx context.Context, refreshToken string) (*models.OAuth2Token, error)

	// SetAccessToken installs the access token used to sign API calls.
	SetAccessToken(token string)
}
