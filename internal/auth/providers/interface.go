package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/brizzai/fluo/internal/auth/models"
	"golang.org/x/oauth2"
)

// ErrInvalidAccessToken is returned when the userinfo endpoint rejects an
// access token.
var ErrInvalidAccessToken = errors.New("access token rejected by userinfo endpoint")

// ErrNoIDToken is returned when a token response carries no id_token.
var ErrNoIDToken = errors.New("no id_token in token response")

// ProviderError is an OAuth error response from the token endpoint.
type ProviderError struct {
	Code        string
	Description string
	Status      int
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth provider error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth provider error %s", e.Code)
}

// Rejected reports whether the token endpoint refused the grant outright.
// Server errors and unparsed non-4xx answers are not rejections.
func (e *ProviderError) Rejected() bool {
	switch e.Code {
	case "invalid_grant", "unauthorized_client":
		return true
	}
	return e.Status >= 400 && e.Status < 500
}

// Provider defines the interface that all OAuth providers must implement
type Provider interface {
	// AuthURL returns the authorization URL for the given state
	AuthURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// ValidateToken verifies the ID token of a token response and returns its claims
	ValidateToken(ctx context.Context, token *oauth2.Token) (*models.UserInfo, error)

	// RefreshToken runs the refresh grant
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// ValidateAccessToken calls userinfo with a raw access token
	ValidateAccessToken(ctx context.Context, token string) (*models.UserInfo, error)
}
