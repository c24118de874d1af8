// Package middleware provides the gateway's HTTP middleware chain: recovery,
// tracing, metrics, authentication, rate limiting, authorization, and audit
// logging, plus the ambient CORS/security-header/body-limit/timeout hygiene.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/logging"
)

// ErrorResponse is the standard JSON error envelope written by WriteError.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError maps a ServiceError (or a bare error) to the standard envelope.
func WriteError(w http.ResponseWriter, log *logging.Logger, err error) {
	if se := apperrors.GetServiceError(err); se != nil {
		WriteJSON(w, se.HTTPStatus, ErrorResponse{Code: string(se.Code), Message: se.Message, Details: se.Details})
		return
	}
	if log != nil {
		log.WithError(err).Error("unclassified error")
	}
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "internal error"})
}
