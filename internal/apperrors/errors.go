// Package apperrors provides the gateway's unified error taxonomy.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of error independent of its HTTP representation.
type Code string

const (
	// Authentication errors (1xxx)
	CodeUnauthorized  Code = "AUTH_1001"
	CodeInvalidToken  Code = "AUTH_1002"
	CodeTokenExpired  Code = "AUTH_1003"
	CodeInvalidAPIKey Code = "AUTH_1004"

	// Authorization errors (2xxx)
	CodeForbidden        Code = "AUTHZ_2001"
	CodeToolNotAllowed   Code = "AUTHZ_2002"
	CodeResourceDenied   Code = "AUTHZ_2003"

	// Validation errors (3xxx)
	CodeInvalidInput     Code = "VAL_3001"
	CodeMissingParameter Code = "VAL_3002"
	CodeInvalidFormat    Code = "VAL_3003"

	// Resource errors (4xxx)
	CodeNotFound      Code = "RES_4001"
	CodeAlreadyExists Code = "RES_4002"
	CodeConflict      Code = "RES_4003"

	// Service/routing errors (5xxx)
	CodeInternal          Code = "SVC_5001"
	CodeDatabaseError     Code = "SVC_5002"
	CodeUpstreamError     Code = "SVC_5003"
	CodeTimeout           Code = "SVC_5004"
	CodeRateLimitExceeded Code = "SVC_5005"
	CodeNoHealthyServer   Code = "SVC_5006"
	CodeCircuitOpen       Code = "SVC_5007"
)

// ServiceError is a structured error carrying a stable code, an HTTP
// projection, and optional machine-readable details.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code Code, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Authentication

func Unauthorized(message string) *ServiceError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(CodeInvalidToken, "invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(CodeTokenExpired, "authentication token has expired", http.StatusUnauthorized)
}

func InvalidAPIKey() *ServiceError {
	return New(CodeInvalidAPIKey, "invalid API key", http.StatusUnauthorized)
}

// Authorization

func Forbidden(message string) *ServiceError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

func ToolNotAllowed(tool string) *ServiceError {
	return New(CodeToolNotAllowed, "tool not permitted for this principal", http.StatusForbidden).
		WithDetails("tool", tool)
}

func ResourceDenied(uri string) *ServiceError {
	return New(CodeResourceDenied, "resource access denied", http.StatusForbidden).
		WithDetails("resource", uri)
}

// Validation

func InvalidInput(field, reason string) *ServiceError {
	return New(CodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(CodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(CodeInvalidFormat, "invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

// Resource

func NotFound(resource, id string) *ServiceError {
	return New(CodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(CodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(CodeConflict, message, http.StatusConflict)
}

// Service / routing

func Internal(message string, err error) *ServiceError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(CodeDatabaseError, "database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func UpstreamError(serverID string, err error) *ServiceError {
	return Wrap(CodeUpstreamError, "upstream server error", http.StatusBadGateway, err).
		WithDetails("server_id", serverID)
}

func Timeout(operation string) *ServiceError {
	return New(CodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func NoHealthyServer(capability string) *ServiceError {
	return New(CodeNoHealthyServer, "no healthy server available", http.StatusServiceUnavailable).
		WithDetails("capability", capability)
}

func CircuitOpen(serverID string) *ServiceError {
	return New(CodeCircuitOpen, "circuit breaker open for server", http.StatusServiceUnavailable).
		WithDetails("server_id", serverID)
}

// Helpers

func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
