// Package auth wires the Google OAuth routes: authorization, callback,
// refresh, session probe and the token API.
package auth

import (
	"fmt"
	"net/http"

	"github.com/brizzai/fluo/internal/auth/constants"
	"github.com/brizzai/fluo/internal/auth/flow"
	"github.com/brizzai/fluo/internal/auth/handlers"
	"github.com/brizzai/fluo/internal/auth/middleware"
	"github.com/brizzai/fluo/internal/auth/providers"
	"github.com/brizzai/fluo/internal/auth/session"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/tokens"
	"go.uber.org/fx"
)

// Service represents the OAuth service
type Service struct {
	config   *config.Config
	sessions *session.Manager
	handler  *handlers.Handler
	tokens   *handlers.TokenHandler
}

// NewService creates a new OAuth service
func NewService(cfg *config.Config, provider providers.Provider, store tokens.Store, sessions *session.Manager) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if provider == nil || store == nil || sessions == nil {
		return nil, fmt.Errorf("provider, token store and session manager are required")
	}

	f := flow.New(provider, store)

	return &Service{
		config:   cfg,
		sessions: sessions,
		handler:  handlers.NewHandler(cfg, provider, f, sessions),
		tokens:   handlers.NewTokenHandler(store),
	}, nil
}

// RegisterRoutes registers all OAuth-related routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(constants.AuthConfigPath, s.handler.HandleAuthConfig)

	// Google OAuth endpoints
	mux.HandleFunc(constants.LoginPath, s.handler.HandleLogin)
	mux.Handle(constants.CallbackPath, middleware.SecurityHeaders(http.HandlerFunc(s.handler.HandleCallback)))
	mux.HandleFunc(constants.RefreshPath, s.handler.HandleRefresh)
	mux.HandleFunc(constants.SessionPath, s.handler.HandleSession)
	mux.HandleFunc(constants.DisconnectPath, s.handler.HandleDisconnect)

	// Token API
	mux.Handle(constants.TokensPath, middleware.NoStore(s.tokens))
}

// Identity returns the middleware that binds the request's user key
func (s *Service) Identity() func(http.Handler) http.Handler {
	return middleware.Identity(s.sessions, s.config.Tokens.DefaultUserID)
}

// Module provides the Google provider, the session manager and the service
var Module = fx.Module("auth",
	fx.Provide(
		fx.Annotate(
			providers.NewGoogleProvider,
			fx.As(new(providers.Provider)),
		),
		session.NewManager,
		NewService,
	),
)
