package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brizzai/fluo/internal/auth/constants"
	"github.com/brizzai/fluo/internal/auth/models"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// GoogleOptions overrides the endpoints and transport of a GoogleProvider.
// Zero values fall back to Google's production endpoints.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	HTTPClient   *http.Client
	// Verifier checks ID tokens. When nil, ValidateToken always fails.
	Verifier *oidc.IDTokenVerifier
}

type GoogleProvider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	userInfoURL  string
	client       *http.Client
}

// NewGoogleProvider builds the provider from the google section of the config.
// Keys for ID token verification are fetched lazily from Google's JWKS endpoint,
// so construction never touches the network.
func NewGoogleProvider(cfg *config.Config) *GoogleProvider {
	timeout := cfg.Google.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), client), constants.GoogleJWKSURL)
	verifier := oidc.NewVerifier(constants.GoogleIssuer, keySet, &oidc.Config{ClientID: cfg.Google.ClientID})

	return NewGoogleProviderWithOptions(GoogleOptions{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.RedirectURI(),
		Scopes:       cfg.Google.ScopeList(),
		HTTPClient:   client,
		Verifier:     verifier,
	})
}

func NewGoogleProviderWithOptions(opts GoogleOptions) *GoogleProvider {
	if opts.AuthURL == "" {
		opts.AuthURL = constants.GoogleAuthURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = constants.GoogleTokenURL
	}
	if opts.UserInfoURL == "" {
		opts.UserInfoURL = constants.GoogleUserInfoURL
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = constants.DefaultScopes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &GoogleProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier:    opts.Verifier,
		userInfoURL: opts.UserInfoURL,
		client:      opts.HTTPClient,
	}
}

// AuthURL asks for offline access and forces the consent screen so Google
// always returns a refresh token.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (p *GoogleProvider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.oauth2Config.Exchange(p.withClient(ctx), code, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, asProviderError(err)
	}
	return token, nil
}

func (p *GoogleProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	token, err := p.oauth2Config.TokenSource(p.withClient(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
	}).Token()
	if err != nil {
		return nil, asProviderError(err)
	}
	return token, nil
}

func (p *GoogleProvider) ValidateToken(ctx context.Context, token *oauth2.Token) (*models.UserInfo, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrNoIDToken
	}
	if p.verifier == nil {
		return nil, errors.New("id token verification is not configured")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims models.UserInfo
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	return &claims, nil
}

func (p *GoogleProvider) ValidateAccessToken(ctx context.Context, token string) (*models.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set(constants.AuthHeaderName, constants.AuthHeaderPrefix+token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		logger.Error("Failed to call userinfo endpoint", zap.Error(err))
		return nil, fmt.Errorf("failed to call userinfo endpoint: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("Failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidAccessToken, resp.StatusCode)
	}

	var userInfo models.UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return &userInfo, nil
}

// asProviderError turns an OAuth error response into a *ProviderError.
// Transport failures are returned unchanged.
func asProviderError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}

	pe := &ProviderError{
		Code:        re.ErrorCode,
		Description: re.ErrorDescription,
	}
	if re.Response != nil {
		pe.Status = re.Response.StatusCode
	}
	if pe.Code == "" {
		pe.Code = fmt.Sprintf("http_%d", pe.Status)
	}
	return pe
}

// ExpiresIn returns the lifetime in seconds reported with a token.
func ExpiresIn(token *oauth2.Token) int64 {
	if token.ExpiresIn > 0 {
		return token.ExpiresIn
	}
	if !token.Expiry.IsZero() {
		if d := time.Until(token.Expiry).Round(time.Second); d > 0 {
			return int64(d / time.Second)
		}
	}
	return 0
}

// GrantedScope returns the scope string reported with a token, if any.
func GrantedScope(token *oauth2.Token) string {
	scope, _ := token.Extra("scope").(string)
	return scope
}
