// Package app wires configuration, storage, adapters, and services into
// runnable batch operations.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/skeolabs/stocksync/internal/adapters/lazada"
	"github.com/skeolabs/stocksync/internal/adapters/opencart"
	"github.com/skeolabs/stocksync/internal/adapters/shopee"
	"github.com/skeolabs/stocksync/internal/adapters/tiktok"
	"github.com/skeolabs/stocksync/internal/adapters/woocommerce"
	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
	"github.com/skeolabs/stocksync/internal/services/auth"
	syncsvc "github.com/skeolabs/stocksync/internal/services/sync"
	"github.com/skeolabs/stocksync/internal/storage"
)

// ErrAllAdaptersFailed means no enabled marketplace survived Refresh, so the
// batch had nothing to reconcile against.
var ErrAllAdaptersFailed = errors.New("all marketplace adapters failed to refresh")

// App owns one batch's resources: config, logger, store, and the adapters
// for every enabled marketplace. Exactly one App may own a store file at a
// time.
type App struct {
	Config *common.Config
	Logger *common.Logger

	store *storage.Store
	auth  *auth.Service
}

// NewApp loads configuration, sets up logging with a per-run correlation id,
// and opens the store.
func NewApp(configPath string) (*App, error) {
	config, err := common.LoadConfig(common.ResolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}

	logger := common.NewLogger(config.Common.LogLevel)
	runLogger := logger.With().Str("run_id", uuid.NewString()).Logger()
	logger = &common.Logger{Logger: runLogger}

	store, err := storage.Open(logger, config.Common.Store)
	if err != nil {
		return nil, err
	}

	return &App{
		Config: config,
		Logger: logger,
		store:  store,
		auth:   auth.NewService(store, logger),
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// buildAdapter constructs the adapter for one enabled config section. OAuth2
// marketplaces get their stored access token installed; token refresh is a
// separate step.
func (a *App) buildAdapter(ctx context.Context, section string) (interfaces.MarketplaceAdapter, error) {
	switch section {
	case "Lazada":
		token, err := a.auth.Tokens(ctx, models.SystemLazada)
		if err != nil {
			return nil, fmt.Errorf("Lazada has no stored tokens, run lazada-reauth first: %w", err)
		}
		return lazada.NewClient(
			a.Config.Lazada.Domain, a.Config.Lazada.AppKey, a.Config.Lazada.AppSecret,
			lazada.WithLogger(a.Logger),
			lazada.WithAccessToken(token.AccessToken),
		), nil
	case "Shopee":
		return shopee.NewClient(
			a.Config.Shopee.ShopID, a.Config.Shopee.PartnerID, a.Config.Shopee.PartnerKey,
			shopee.WithLogger(a.Logger),
		), nil
	case "Tiktok":
		token, err := a.auth.Tokens(ctx, models.SystemTiktok)
		if err != nil {
			return nil, fmt.Errorf("TikTok has no stored tokens, run tiktok-reauth first: %w", err)
		}
		return tiktok.NewClient(
			a.Config.Tiktok.Domain, a.Config.Tiktok.AppKey, a.Config.Tiktok.AppSecret,
			tiktok.WithLogger(a.Logger),
			tiktok.WithAccessToken(token.AccessToken),
			tiktok.WithShopID(a.Config.Tiktok.ShopID),
			tiktok.WithWarehouseID(a.Config.Tiktok.WarehouseID),
		), nil
	case "Opencart":
		return opencart.NewClient(
			a.Config.Opencart.Domain, a.Config.Opencart.Username, a.Config.Opencart.Password,
			opencart.WithLogger(a.Logger),
		), nil
	case "WooCommerce":
		return woocommerce.NewClient(
			a.Config.WooCommerce.Domain, a.Config.WooCommerce.ConsumerKey, a.Config.WooCommerce.ConsumerSecret,
			woocommerce.WithLogger(a.Logger),
		), nil
	}
	return nil, &common.UnhandledSystemError{System: section}
}

// buildAdapters constructs and refreshes every enabled adapter. A failing
// adapter is dropped from the batch; its SKUs contribute no deltas. Token
// refresh is skipped in read-only mode so an observe run burns nothing.
func (a *App) buildAdapters(ctx context.Context, readOnly bool) ([]interfaces.MarketplaceAdapter, error) {
	var adapters []interfaces.MarketplaceAdapter
	for _, section := range a.Config.EnabledSections() {
		adapter, err := a.buildAdapter(ctx, section)
		if err != nil {
			a.Logger.Error().Str("section", section).Err(err).Msg("Skipping marketplace")
			continue
		}

		if authenticator, ok := adapter.(interfaces.OAuth2Authenticator); ok && !readOnly {
			system := adapter.System()
			if err := a.auth.Refresh(ctx, system, authenticator); err != nil {
				a.Logger.Error().Str("system", string(system)).Err(err).
					Msg("Skipping marketplace: token refresh failed")
				continue
			}
		}

		if err := adapter.Refresh(ctx); err != nil {
			a.Logger.Error().Str("system", string(adapter.System())).Err(err).
				Msg("Skipping marketplace: refresh failed")
			continue
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, ErrAllAdaptersFailed
	}
	return adapters, nil
}

// defaultAdapter resolves the DefaultSystem config entry against the live
// adapters.
func (a *App) defaultAdapter(adapters []interfaces.MarketplaceAdapter) (interfaces.MarketplaceAdapter, error) {
	system, err := models.ParseSystem(a.Config.Common.DefaultSystem)
	if err != nil {
		return nil, err
	}
	for _, adapter := range adapters {
		if adapter.System() == system {
			return adapter, nil
		}
	}
	return nil, fmt.Errorf("default marketplace %s did not survive refresh: %w", system, ErrAllAdaptersFailed)
}

// RunSync executes one reconciliation batch, then the optional listing pass.
func (a *App) RunSync(ctx context.Context, readOnly bool) error {
	adapters, err := a.buildAdapters(ctx, readOnly)
	if err != nil {
		return err
	}
	defaultAdapter, err := a.defaultAdapter(adapters)
	if err != nil {
		return err
	}

	engine := syncsvc.NewEngine(a.store, adapters, defaultAdapter, a.Logger)
	if err := engine.Sync(ctx, readOnly); err != nil {
		return err
	}

	if a.Config.Common.EnableLazadaToShopeeUpload {
		var source interfaces.MarketplaceAdapter
		var target interfaces.ProductCreator
		for _, adapter := range adapters {
			switch adapter.System() {
			case models.SystemLazada:
				source = adapter
			case models.SystemShopee:
				target, _ = adapter.(interfaces.ProductCreator)
			}
		}
		if source == nil || target == nil {
			a.Logger.Info().Msg("Skipping listing upload: Lazada or Shopee not available")
			return nil
		}
		return engine.UploadMissingListings(ctx, source, target, models.SystemShopee, readOnly)
	}
	return nil
}

// RunCleanup prunes local inventory of SKUs the default marketplace no
// longer lists.
func (a *App) RunCleanup(ctx context.Context) error {
	system, err := models.ParseSystem(a.Config.Common.DefaultSystem)
	if err != nil {
		return err
	}

	adapter, err := a.buildAdapter(ctx, system.ConfigSection())
	if err != nil {
		return err
	}
	if err := adapter.Refresh(ctx); err != nil {
		return err
	}

	engine := syncsvc.NewEngine(a.store, []interfaces.MarketplaceAdapter{adapter}, adapter, a.Logger)
	return engine.Cleanup(ctx, system)
}

// Reauthorize exchanges an authorization code for OAuth2 tokens and persists
// them for the given marketplace.
func (a *App) Reauthorize(ctx context.Context, system models.System, code string) error {
	if !a.Config.Enabled(system.ConfigSection()) {
		return fmt.Errorf("%s is not enabled in configuration", system.ConfigSection())
	}

	var authenticator interfaces.OAuth2Authenticator
	switch system {
	case models.SystemLazada:
		authenticator = lazada.NewClient(
			a.Config.Lazada.Domain, a.Config.Lazada.AppKey, a.Config.Lazada.AppSecret,
			lazada.WithLogger(a.Logger),
		)
	case models.SystemTiktok:
		authenticator = tiktok.NewClient(
			a.Config.Tiktok.Domain, a.Config.Tiktok.AppKey, a.Config.Tiktok.AppSecret,
			tiktok.WithLogger(a.Logger),
			tiktok.WithShopID(a.Config.Tiktok.ShopID),
		)
	default:
		return &common.UnhandledSystemError{System: string(system)}
	}

	return a.auth.Authorize(ctx, system, authenticator, code)
}

// ShopeeAuthURL returns the shop authorization URL for connecting the
// configured Shopee shop to the configured Shopee app.
func (a *App) ShopeeAuthURL() (string, error) {
	if a.Config.Shopee == nil {
		return "", fmt.Errorf("Shopee is not enabled in configuration")
	}
	client := shopee.NewClient(
		a.Config.Shopee.ShopID, a.Config.Shopee.PartnerID, a.Config.Shopee.PartnerKey,
		shopee.WithLogger(a.Logger),
	)
	return client.GenerateShopAuthorizationURL(), nil
}

// MarketplaceStatus is one row of the chkconfig report.
type MarketplaceStatus struct {
	Section   string
	Default   bool
	OAuth2    bool
	TokenInfo string
}

// CheckConfig reports enabled marketplaces and stored OAuth2 token state.
func (a *App) CheckConfig(ctx context.Context) []MarketplaceStatus {
	var report []MarketplaceStatus
	for _, section := range a.Config.EnabledSections() {
		status := MarketplaceStatus{
			Section: section,
			Default: section == a.Config.Common.DefaultSystem,
		}

		system, err := models.ParseSystem(section)
		if err == nil && (system == models.SystemLazada || system == models.SystemTiktok) {
			status.OAuth2 = true
			token, err := a.auth.Tokens(ctx, system)
			switch {
			case err != nil:
				status.TokenInfo = "no tokens stored"
			case token.ExpiresOn.IsZero():
				status.TokenInfo = "tokens stored"
			default:
				status.TokenInfo = fmt.Sprintf("tokens stored, access expires %s",
					token.ExpiresOn.Format("2006-01-02 15:04:05 MST"))
			}
		}
		report = append(report, status)
	}
	return report
}
