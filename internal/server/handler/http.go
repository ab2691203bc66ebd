// Package handler assembles the HTTP routes and middleware stack.
package handler

import (
	"net/http"

	"github.com/brizzai/fluo/internal/auth"
	"github.com/brizzai/fluo/internal/auth/middleware"
	"github.com/brizzai/fluo/internal/drive"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/search"
	"github.com/brizzai/fluo/internal/utils"
	"go.uber.org/zap"
)

// Handler manages HTTP request handling and middleware configuration.
type Handler struct {
	auth         *auth.Service
	search       *search.Handler
	drive        *drive.Handler
	allowOrigins []string
}

// NewHandler creates a new HTTP handler.
func NewHandler(auth *auth.Service, search *search.Handler, drive *drive.Handler, allowOrigins []string) *Handler {
	return &Handler{
		auth:         auth,
		search:       search,
		drive:        drive,
		allowOrigins: allowOrigins,
	}
}

// CreateHTTPHandler registers every route and wraps the mux with request
// logging, CORS and identity resolution, in that order.
func (h *Handler) CreateHTTPHandler() http.Handler {
	mux := http.NewServeMux()

	h.auth.RegisterRoutes(mux)
	logger.Info("Registered authentication routes")

	h.search.RegisterRoutes(mux)
	logger.Info("Registered search routes")

	h.drive.RegisterRoutes(mux)
	logger.Info("Registered drive routes")

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if len(h.allowOrigins) == 0 {
		logger.Warn("cors.allow_origins is empty, allowing any origin")
	} else {
		logger.Info("CORS enabled", zap.Strings("allow_origins", h.allowOrigins))
	}

	return middleware.Chain(mux,
		middleware.Logging,
		middleware.CORS(h.allowOrigins),
		h.auth.Identity(),
	)
}
