// Package handlers – response utilities.
//
// Standard response envelopes shared by the webhook endpoints: a structured
// error shape carrying the request correlation id, and small helpers so
// success and failure responses stay uniform.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nollarcash/tipbot-backend/internal/http/middleware"
)

// Stable machine-readable error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// RequestID correlates server logs and client errors.
	RequestID string `json:"request_id,omitempty"`
	// Code is a stable, machine-readable string.
	Code string `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
}

// Fail aborts the request with a structured error, logging 5xx responses
// through the request-scoped logger.
func Fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("webhook error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// OK writes a 200 JSON response.
func OK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

// lower is a local alias kept so handler code reads naturally.
func lower(s string) string { return strings.ToLower(s) }
