package utils

import (
	"encoding/json"
	"net/http"

	"github.com/brizzai/fluo/internal/logger"
	"go.uber.org/zap"
)

// ErrorBody is the JSON error shape of every API route.
type ErrorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// WriteError writes {error, details?}
func WriteError(w http.ResponseWriter, status int, message string, details any) {
	WriteJSON(w, status, ErrorBody{Error: message, Details: details})
}

// MethodNotAllowed answers 405 listing the accepted methods
func MethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
}
