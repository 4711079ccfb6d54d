package rest

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/smilemakc/workflow-engine/internal/logger"
)

const (
	requestIDHeader     = "X-Request-ID"
	contextKeyRequestID = "request_id"
	contextKeyUserID    = "user_id"
)

// GetRequestID returns the id assigned to this request by RequestLogger.
func GetRequestID(c *gin.Context) string {
	v, ok := c.Get(contextKeyRequestID)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// RequestLogger assigns a request id (honoring one supplied by the caller)
// and logs request/response lines at a level that tracks the status code.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(contextKeyRequestID, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		args := []any{
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
		}
		switch {
		case status >= 500:
			log.Error("request completed", args...)
		case status >= 400:
			log.Warn("request completed", args...)
		default:
			log.Info("request completed", args...)
		}
	}
}

// Recovery converts a panic in a handler into a 500 APIError instead of
// crashing the process.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID := GetRequestID(c)
				log.Error("panic recovered",
					"request_id", requestID,
					"path", c.Request.URL.Path,
					"error", r,
					"stack", string(debug.Stack()),
				)
				apiErr := NewAPIError("INTERNAL_ERROR", fmt.Sprintf("internal server error (request_id: %s)", requestID), http.StatusInternalServerError)
				c.AbortWithStatusJSON(apiErr.HTTPStatus, apiErr)
			}
		}()
		c.Next()
	}
}

// RequireUser extracts the caller's identity from X-User-ID. This module
// has no authentication subsystem of its own (§6 "HasPermission" is the
// only permission surface the facade consumes) — a gateway in front of
// this service is expected to have already authenticated the caller and
// forwarded their id.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, NewAPIError("UNAUTHORIZED", "X-User-ID header is required", http.StatusUnauthorized))
			return
		}
		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}
