package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/models"
)

type fakeTokenStore struct {
	tokens map[models.System]*models.OAuth2Token
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[models.System]*models.OAuth2Token)}
}

func (s *fakeTokenStore) SaveTokens(_ context.Context, system models.System, access, refresh string, expiresOn time.Time) error {
	s.tokens[system] = &models.OAuth2Token{
		System: system, AccessToken: access, RefreshToken: refresh, ExpiresOn: expiresOn,
	}
	return nil
}

func (s *fakeTokenStore) GetTokens(_ context.Context, system models.System) (*models.OAuth2Token, error) {
	token, ok := s.tokens[system]
	if !ok {
		return nil, common.ErrNotFound
	}
	return token, nil
}

type fakeAuthenticator struct {
	issued        *models.OAuth2Token
	exchangeErr   error
	seenCode      string
	seenRefresh   string
	currentAccess string
}

func (f *fakeAuthenticator) ExchangeAuthCode(_ context.Context, code string) (*models.OAuth2Token, error) {
	f.seenCode = code
	return f.issued, f.exchangeErr
}

func (f *fakeAuthenticator) RefreshTokens(_ context.Context, refreshToken string) (*models.OAuth2Token, error) {
	f.seenRefresh = refreshToken
	return f.issued, f.exchangeErr
}

func (f *fakeAuthenticator) SetAccessToken(token string) { f.currentAccess = token }

func TestAuthorizePersistsTokens(t *testing.T) {
	store := newFakeTokenStore()
	service := NewService(store, common.NewSilentLogger())
	expires := time.Now().Add(7 * 24 * time.Hour)
	authenticator := &fakeAuthenticator{
		issued: &models.OAuth2Token{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresOn: expires},
	}

	err := service.Authorize(context.Background(), models.SystemLazada, authenticator, "code-1")
	require.NoError(t, err)

	assert.Equal(t, "code-1", authenticator.seenCode)
	saved := store.tokens[models.SystemLazada]
	require.NotNil(t, saved)
	assert.Equal(t, "at-1", saved.AccessToken)
	assert.Equal(t, "rt-1", saved.RefreshToken)
}

func TestAuthorizeExchangeFailure(t *testing.T) {
	store := newFakeTokenStore()
	service := NewService(store, common.NewSilentLogger())
	authenticator := &fakeAuthenticator{exchangeErr: errors.New("consent expired")}

	err := service.Authorize(context.Background(), models.SystemLazada, authenticator, "stale")
	assert.Error(t, err)
	assert.Empty(t, store.tokens)
}

func TestRefreshRotatesAndInstallsToken(t *testing.T) {
	store := newFakeTokenStore()
	require.NoError(t, store.SaveTokens(context.Background(), models.SystemTiktok, "old-at", "old-rt", time.Now()))

	service := NewService(store, common.NewSilentLogger())
	authenticator := &fakeAuthenticator{
		issued: &models.OAuth2Token{AccessToken: "new-at", RefreshToken: "new-rt"},
	}

	err := service.Refresh(context.Background(), models.SystemTiktok, authenticator)
	require.NoError(t, err)

	assert.Equal(t, "old-rt", authenticator.seenRefresh)
	assert.Equal(t, "new-at", authenticator.currentAccess)
	assert.Equal(t, "new-rt", store.tokens[models.SystemTiktok].RefreshToken)
}

func TestRefreshWithoutStoredTokens(t *testing.T) {
	service := NewService(newFakeTokenStore(), common.NewSilentLogger())
	err := service.Refresh(context.Background(), models.SystemTiktok, &fakeAuthenticator{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}
