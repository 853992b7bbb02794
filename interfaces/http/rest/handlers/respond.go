package handlers

import (
	"encoding/json"
	"net/http"

	pkgerrors "graphledger-backend/pkg/errors"

	"go.uber.org/zap"
)

// errorResponse is the uniform error body
type errorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps application error types onto HTTP statuses. Internal
// details never leave the process; only the type, code, and message do.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case pkgerrors.IsValidation(err):
		status = http.StatusBadRequest
		message = err.Error()
	case pkgerrors.IsNotFound(err):
		status = http.StatusNotFound
		message = err.Error()
	case pkgerrors.IsConflict(err):
		status = http.StatusConflict
		message = err.Error()
	case pkgerrors.IsCorruption(err):
		status = http.StatusInternalServerError
		message = err.Error()
	case pkgerrors.IsUnavailable(err):
		status = http.StatusServiceUnavailable
		message = err.Error()
	default:
		if logger != nil {
			logger.Error("unclassified handler error", zap.Error(err))
		}
	}

	respondJSON(w, status, errorResponse{
		Error:   true,
		Code:    string(pkgerrors.CodeOf(err)),
		Message: message,
	})
}
