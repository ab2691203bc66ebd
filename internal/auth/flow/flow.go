// Package flow implements the Google token lifecycle: code exchange, refresh
// and the session probe. It owns every write to the token store.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brizzai/fluo/internal/auth/models"
	"github.com/brizzai/fluo/internal/auth/providers"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/tokens"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	// ErrRefreshTokenRequired is returned by Refresh for an empty refresh token.
	ErrRefreshTokenRequired = errors.New("refresh token is required")
	// ErrUserValidation is returned when userinfo rejects a freshly issued access token.
	ErrUserValidation = errors.New("user validation failed")
	// ErrNoIdentity is returned when neither the ID token nor userinfo names the account.
	ErrNoIdentity = errors.New("could not determine google account")
)

type Flow struct {
	provider providers.Provider
	store    tokens.Store
	now      func() time.Time
}

func New(provider providers.Provider, store tokens.Store) *Flow {
	return &Flow{provider: provider, store: store, now: time.Now}
}

// Exchange trades an authorization code for tokens. Provider rejections come
// back as *providers.ProviderError.
func (f *Flow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return f.provider.ExchangeCode(ctx, code)
}

// Identify names the Google account behind a freshly exchanged token. The
// verified ID token is preferred; userinfo is the fallback.
func (f *Flow) Identify(ctx context.Context, token *oauth2.Token) (*models.UserInfo, error) {
	info, err := f.provider.ValidateToken(ctx, token)
	if err == nil && info.Key() != "" {
		return info, nil
	}
	if err != nil && !errors.Is(err, providers.ErrNoIDToken) {
		logger.FromContext(ctx).Warn("ID token rejected, falling back to userinfo", zap.Error(err))
	}

	info, err = f.provider.ValidateAccessToken(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoIdentity, err)
	}
	if info.Key() == "" {
		return nil, ErrNoIdentity
	}
	return info, nil
}

// Save stores an exchanged token for userID. grantedScope is the scope
// reported on the callback; the token's own scope is used when it is empty.
func (f *Flow) Save(ctx context.Context, userID string, token *oauth2.Token, grantedScope string) (*tokens.Record, error) {
	scope := strings.TrimSpace(grantedScope)
	if scope == "" {
		scope = providers.GrantedScope(token)
	}

	rec, err := f.store.Write(ctx, userID, tokens.Input{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    providers.ExpiresIn(token),
		Scope:        scope,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}

	logger.FromContext(ctx).Info("Stored Google tokens",
		zap.String("user_id", userID),
		zap.Bool("has_refresh_token", rec.RefreshToken != ""),
		zap.Int64("expires_in", rec.ExpiresIn),
	)
	return rec, nil
}

// RefreshResult is the outcome of a successful refresh.
type RefreshResult struct {
	AccessToken string
	UserInfo    *models.UserInfo
	Record      *tokens.Record
}

// Refresh runs the refresh grant, checks the new access token against
// userinfo and only then replaces the stored record. The input refresh token
// is kept on the record.
func (f *Flow) Refresh(ctx context.Context, userID, refreshToken string) (*RefreshResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrRefreshTokenRequired
	}

	token, err := f.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh grant failed: %w", err)
	}

	info, err := f.provider.ValidateAccessToken(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserValidation, err)
	}

	rec, err := f.store.Write(ctx, userID, tokens.Input{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    providers.ExpiresIn(token),
		Scope:        providers.GrantedScope(token),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}

	logger.FromContext(ctx).Info("Refreshed Google access token",
		zap.String("user_id", userID),
		zap.Int64("expires_in", rec.ExpiresIn),
	)
	return &RefreshResult{AccessToken: token.AccessToken, UserInfo: info, Record: rec}, nil
}

// Disconnect removes the stored record for userID.
func (f *Flow) Disconnect(ctx context.Context, userID string) error {
	if err := f.store.Delete(ctx, userID); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Disconnected Google account", zap.String("user_id", userID))
	return nil
}

// Stored returns the stored record for userID.
func (f *Flow) Stored(ctx context.Context, userID string) (*tokens.Record, error) {
	return f.store.Read(ctx, userID)
}
