// Package server runs the Fluo HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/brizzai/fluo/internal/auth"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/drive"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/search"
	"github.com/brizzai/fluo/internal/server/handler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// shutdownTimeout is the maximum time to wait for server shutdown
	shutdownTimeout = 5 * time.Second
)

// Server serves the OAuth, token and search routes.
type Server struct {
	config  *config.Config
	auth    *auth.Service
	search  *search.Handler
	drive   *drive.Handler
	handler *handler.Handler
}

// NewServer creates a new server instance with the provided configuration.
func NewServer(cfg *config.Config, authService *auth.Service, searchHandler *search.Handler, driveHandler *drive.Handler) *Server {
	if cfg == nil {
		logger.Fatal("Config cannot be nil")
	}
	if authService == nil {
		logger.Fatal("Auth service cannot be nil")
	}
	if searchHandler == nil {
		logger.Fatal("Search handler cannot be nil")
	}
	if driveHandler == nil {
		logger.Fatal("Drive handler cannot be nil")
	}

	return &Server{
		config:  cfg,
		auth:    authService,
		search:  searchHandler,
		drive:   driveHandler,
		handler: handler.NewHandler(authService, searchHandler, driveHandler, cfg.CORS.AllowOrigins),
	}
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
}

// Handler returns the full middleware stack
func (s *Server) Handler() http.Handler {
	return s.handler.CreateHTTPHandler()
}

func (s *Server) serveHTTP(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.config.Server.Timeout > 0 {
		server.ReadTimeout = s.config.Server.Timeout
		server.WriteTimeout = s.config.Server.Timeout
	}

	// Channel for server errors
	errChan := make(chan error, 1)

	go func() {
		logger.Info("Starting server",
			zap.String("address", ln.Addr().String()),
			zap.String("site_url", s.config.SiteURL),
		)

		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server",
			zap.Duration("timeout", shutdownTimeout),
		)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}

// Start listens on server.host:server.port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.serveHTTP(ctx, ln)
}

// Module provides the server dependencies
var Module = fx.Module("server",
	fx.Provide(
		NewServer,
	),
)
