package handlers

import (
	"errors"
	"net/http"

	"github.com/brizzai/fluo/internal/auth/middleware"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/tokens"
	"github.com/brizzai/fluo/internal/utils"
	"go.uber.org/zap"
)

const msgTokenNotFound = "Token not found"

// TokenHandler serves /api/tokens for the request's user key
type TokenHandler struct {
	store tokens.Store
}

func NewTokenHandler(store tokens.Store) *TokenHandler {
	return &TokenHandler{store: store}
}

// ServeHTTP dispatches on the request method
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	userID := middleware.UserID(r.Context())
	if userID == "" && r.Method != http.MethodOptions {
		writeNoUser(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.save(w, r, userID)
	case http.MethodGet:
		h.get(w, r, userID)
	case http.MethodDelete:
		h.delete(w, r, userID)
	default:
		utils.MethodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (h *TokenHandler) save(w http.ResponseWriter, r *http.Request, userID string) {
	var in tokens.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.AccessToken == "" {
		utils.WriteError(w, http.StatusBadRequest, "Access token is required", nil)
		return
	}

	if _, err := h.store.Write(r.Context(), userID, in); err != nil {
		writeStoreError(w, r, err, "save")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *TokenHandler) get(w http.ResponseWriter, r *http.Request, userID string) {
	rec, err := h.store.Read(r.Context(), userID)
	if err != nil {
		writeStoreError(w, r, err, "retrieve")
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (h *TokenHandler) delete(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.store.Delete(r.Context(), userID); err != nil {
		writeStoreError(w, r, err, "delete")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeStoreError maps token store errors to responses. action completes
// "Failed to <action> token".
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, tokens.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, msgTokenNotFound, nil)
	case errors.Is(err, config.ErrMissing):
		logger.FromContext(r.Context()).Error("Token store is not configured", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgConfigError, nil)
	case errors.Is(err, tokens.ErrAccessTokenRequired):
		utils.WriteError(w, http.StatusBadRequest, "Access token is required", nil)
	default:
		logger.FromContext(r.Context()).Error("Token store operation failed", zap.String("action", action), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to "+action+" token", err.Error())
	}
}
