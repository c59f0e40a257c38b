// Package api exposes the HTTP ingress edge: enqueue, queue status, and
// health endpoints behind API-key auth and a per-client rate limiter.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/odiseo-io/email-service/pkg/logger"
)

// ErrorCode is a stable machine-readable error identifier, distinct from the
// HTTP status and from the human-readable message.
type ErrorCode string

const (
	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeInternal    ErrorCode = "INTERNAL_ERROR"
)

// errorBody is the flat wire shape every error response shares: no nested
// "error" object, just the four fields side by side.
type errorBody struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      ErrorCode `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// writeError sends the flat error shape. cause, when non-nil, is logged in
// full but never reaches message — internal detail (driver names,
// hostnames, ports, stack frames) must not leak to the client.
func writeError(w http.ResponseWriter, status int, code ErrorCode, message string, cause error) {
	if cause != nil {
		logger.Logger.Error("request failed", "code", string(code), "status", status, "error", cause.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     string(code),
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	})
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, message, nil)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message, nil)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded", nil)
}

// writeInternalError always sends the same generic message; cause is logged,
// never serialised.
func writeInternalError(w http.ResponseWriter, cause error) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "an internal error occurred", cause)
}
