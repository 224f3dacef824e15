// Package auth manages the OAuth2 token lifecycle for marketplaces that
// require one.
package auth

import (
	"context"
	"fmt"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
)

// Service persists OAuth2 token pairs per marketplace. It performs no expiry
// checks itself: adapters decide when tokens need refreshing.
type Service struct {
	store  interfaces.OAuth2Store
	logger *common.Logger
}

// NewService creates an OAuth2 token service.
func NewService(store interfaces.OAuth2Store, logger *common.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Tokens returns the stored token pair for a system. Returns
// common.ErrNotFound when the system was never authorized.
func (s *Service) Tokens(ctx context.Context, system models.System) (*models.OAuth2Token, error) {
	return s.store.GetTokens(ctx, system)
}

// Authorize exchanges a user-supplied authorization code for a token pair
// and persists it.
func (s *Service) Authorize(ctx context.Context, system models.System, authenticator interfaces.OAuth2Authenticator, code string) error {
	token, err := authenticator.ExchangeAuthCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code for %s: %w", system, err)
	}
	if err := s.store.SaveTokens(ctx, system, token.AccessToken, token.RefreshToken, token.ExpiresOn); err != nil {
		return err
	}
	s.logger.Info().Str("system", string(system)).
		Time("expires_on", token.ExpiresOn).Msg("Authorized")
	return nil
}

// Refresh rotates the stored token pair for a system and installs the new
// access token on the authenticator.
func (s *Service) Refresh(ctx context.Context, system models.System, authenticator interfaces.OAuth2Authenticator) error {
	stored, err := s.store.GetTokens(ctx, system)
	if err != nil {
		return err
	}

	token, err := authenticator.RefreshTokens(ctx, stored.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh tokens for %s: %w", system, err)
	}
	if err := s.store.SaveTokens(ctx, system, token.AccessToken, token.RefreshToken, token.ExpiresOn); err != nil {
		return err
	}
	authenticator.SetAccessToken(token.AccessToken)

	s.logger.Info().Str("system", string(system)).
		Time("expires_on", token.ExpiresOn).Msg("Refreshed OAuth2 tokens")
	return nil
}
