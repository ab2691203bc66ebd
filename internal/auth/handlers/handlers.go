package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/brizzai/fluo/internal/auth/constants"
	"github.com/brizzai/fluo/internal/auth/flow"
	"github.com/brizzai/fluo/internal/auth/middleware"
	"github.com/brizzai/fluo/internal/auth/models"
	"github.com/brizzai/fluo/internal/auth/providers"
	"github.com/brizzai/fluo/internal/auth/session"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/tokens"
	"github.com/brizzai/fluo/internal/utils"
	"go.uber.org/zap"
)

const (
	msgConfigError     = "Server configuration error"
	msgExchangeFailed  = "Failed to exchange code for tokens"
	msgRefreshFailed   = "Failed to refresh token"
	msgMissingCode     = "Missing authorization code"
	msgInvalidState    = "Invalid state"
	msgStoreFailed     = "Failed to store tokens"
	msgIdentifyFailed  = "Failed to identify Google account"
	msgClientIDMissing = "Google Client ID is not configured"
	msgBodyTooLarge    = "Request body too large"
	msgInvalidBody     = "Invalid request body"

	// detailNoUser explains a request that resolved no user key. With
	// tokens.default_user_id set every request resolves one.
	detailNoUser = "tokens.default_user_id is not set and no Google account is bound to this session"
)

const maxBodyBytes = 1 << 20

// Handler handles the Google OAuth routes
type Handler struct {
	config   *config.Config
	provider providers.Provider
	flow     *flow.Flow
	sessions *session.Manager
}

// NewHandler creates a new Handler instance
func NewHandler(cfg *config.Config, provider providers.Provider, f *flow.Flow, sessions *session.Manager) *Handler {
	return &Handler{
		config:   cfg,
		provider: provider,
		flow:     f,
		sessions: sessions,
	}
}

// HandleLogin handles /api/auth/google/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}

	if err := h.config.CheckAuthorize(); err != nil {
		logger.FromContext(r.Context()).Error("Cannot start Google authorization", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgConfigError, nil)
		return
	}

	state, err := h.sessions.IssueState(w, r)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to issue OAuth state", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to start authorization", nil)
		return
	}

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusFound)
}

// HandleAuthConfig handles /api/auth/config
func (h *Handler) HandleAuthConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}

	resp := map[string]string{
		"clientId":    h.config.Google.ClientID,
		"redirectUri": h.config.RedirectURI(),
	}
	if h.config.Google.ClientID == "" {
		resp["warning"] = msgClientIDMissing
	} else {
		resp["authUrl"] = constants.LoginPath
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

// redirectToApps sends the browser back to the dashboard apps page
func (h *Handler) redirectToApps(w http.ResponseWriter, r *http.Request, status, message string) {
	q := url.Values{"auth_status": {status}}
	if message != "" {
		q.Set("message", message)
	}
	target := strings.TrimRight(h.config.SiteURL, "/") + constants.AppsPath + "?" + q.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleCallback handles /api/auth/google/callback
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx)
	q := r.URL.Query()

	if oauthErr := q.Get("error"); oauthErr != "" {
		message := q.Get("error_description")
		if message == "" {
			message = oauthErr
		}
		log.Warn("Google authorization denied", zap.String("error", oauthErr))
		h.redirectToApps(w, r, constants.AuthStatusError, message)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.redirectToApps(w, r, constants.AuthStatusError, msgMissingCode)
		return
	}

	if err := h.config.CheckExchange(); err != nil {
		log.Error("Cannot complete Google authorization", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgConfigError, nil)
		return
	}

	if err := h.sessions.ConsumeState(w, r, q.Get("state")); err != nil {
		log.Warn("Rejected OAuth callback", zap.Error(err))
		h.redirectToApps(w, r, constants.AuthStatusError, msgInvalidState)
		return
	}

	token, err := h.flow.Exchange(ctx, code)
	if err != nil {
		var pe *providers.ProviderError
		if errors.As(err, &pe) {
			log.Error("Google rejected the authorization code", zap.String("code", pe.Code), zap.String("description", pe.Description))
			message := pe.Description
			if message == "" {
				message = msgExchangeFailed
			}
			utils.WriteError(w, http.StatusInternalServerError, message, pe.Code)
			return
		}
		log.Error("Failed to exchange code", zap.Error(err))
		h.redirectToApps(w, r, constants.AuthStatusError, msgExchangeFailed)
		return
	}

	userID := middleware.UserID(ctx)
	if userID == "" {
		info, err := h.flow.Identify(ctx, token)
		if err != nil {
			log.Error("Failed to identify Google account", zap.Error(err))
			h.redirectToApps(w, r, constants.AuthStatusError, msgIdentifyFailed)
			return
		}
		userID = info.Key()
	}
	if err := h.sessions.BindUser(w, r, userID); err != nil {
		log.Warn("Failed to bind user to session", zap.Error(err))
	}

	if _, err := h.flow.Save(ctx, userID, token, q.Get("scope")); err != nil {
		log.Error("Failed to store tokens", zap.Error(err))
		h.redirectToApps(w, r, constants.AuthStatusError, msgStoreFailed)
		return
	}

	h.redirectToApps(w, r, constants.AuthStatusSuccess, "")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string           `json:"access_token"`
	UserInfo    *models.UserInfo `json:"userInfo"`
}

// HandleRefresh handles /api/auth/google/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.MethodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		utils.WriteError(w, http.StatusBadRequest, "Refresh token is required", nil)
		return
	}

	if err := h.config.CheckExchange(); err != nil {
		log.Error("Cannot refresh Google token", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgConfigError, nil)
		return
	}

	userID := middleware.UserID(ctx)
	if userID == "" {
		writeNoUser(w, r)
		return
	}

	res, err := h.flow.Refresh(ctx, userID, req.RefreshToken)
	if err != nil {
		h.writeRefreshError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, refreshResponse{
		AccessToken: res.AccessToken,
		UserInfo:    res.UserInfo,
	})
}

func (h *Handler) writeRefreshError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var pe *providers.ProviderError
	switch {
	case errors.As(err, &pe):
		log.Error("Google rejected the refresh token", zap.String("code", pe.Code), zap.String("description", pe.Description))
		message := pe.Description
		if message == "" {
			message = msgRefreshFailed
		}
		utils.WriteError(w, http.StatusInternalServerError, message, pe.Code)
	case errors.Is(err, flow.ErrUserValidation):
		log.Error("Refreshed access token failed user validation", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgRefreshFailed, "user validation failed")
	case errors.Is(err, config.ErrMissing):
		log.Error("Token store is not configured", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgConfigError, nil)
	case errors.Is(err, tokens.ErrUnavailable):
		log.Error("Failed to store refreshed token", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgRefreshFailed, "failed to store refreshed token")
	default:
		log.Error("Failed to refresh token", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgRefreshFailed, err.Error())
	}
}

// HandleSession handles /api/auth/google/session
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()

	probe, err := h.flow.Probe(ctx, middleware.UserID(ctx))
	if err != nil {
		logger.FromContext(ctx).Error("Session probe failed", zap.Error(err))
		switch {
		case errors.Is(err, config.ErrMissing):
			utils.WriteError(w, http.StatusInternalServerError, msgConfigError, nil)
		case errors.Is(err, tokens.ErrUnavailable):
			utils.WriteError(w, http.StatusInternalServerError, "Failed to retrieve token", err.Error())
		default:
			utils.WriteError(w, http.StatusBadGateway, "Failed to check session", err.Error())
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	utils.WriteJSON(w, http.StatusOK, probe)
}

// HandleDisconnect handles /api/auth/google/disconnect
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		utils.MethodNotAllowed(w, http.MethodPost, http.MethodDelete)
		return
	}
	ctx := r.Context()

	userID := middleware.UserID(ctx)
	if userID == "" {
		utils.WriteError(w, http.StatusNotFound, msgTokenNotFound, nil)
		return
	}

	if err := h.flow.Disconnect(ctx, userID); err != nil {
		writeStoreError(w, r, err, "delete")
		return
	}
	utils.WriteJSON(w, http.StatusOK, flow.Probe{State: flow.StateDisconnected})
}

// decodeJSON reads at most maxBodyBytes of the request body into v. On
// failure it has already answered the request.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		utils.WriteError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge, nil)
		return false
	}
	utils.WriteError(w, http.StatusBadRequest, msgInvalidBody, nil)
	return false
}

func writeNoUser(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Error("No user key resolved for request", zap.String("path", r.URL.Path))
	utils.WriteError(w, http.StatusInternalServerError, msgConfigError, detailNoUser)
}
