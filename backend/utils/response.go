package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse is the failure envelope every payments action returns.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("failed to encode response", zap.Int("status", statusCode), zap.Error(err))
	}
}

func RespondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	writeJSON(w, statusCode, body)
}

func RespondError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// RespondInternal logs err with a stack trace and hides it behind message.
func RespondInternal(w http.ResponseWriter, logger *zap.Logger, err error, message string) {
	logger.Error(message, zap.Error(err), zap.Stack("stack"))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: message})
}
