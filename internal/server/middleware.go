package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/intakehq/docpipe/internal/common"
)

// Correlation attaches a request ID to every request, minting one when the
// caller did not send X-Request-ID. The ID is echoed back and flows through
// the request context so service logs can be stitched together.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// RequestLogger emits one structured line per request after it settles.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", common.RequestIDFromContext(c.Request.Context()),
		)
	}
}

// Identity resolves the calling user from the X-User-ID header. The gateway
// in front of this service authenticates callers and forwards their identity;
// this service only scopes data by it.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.JSON(http.StatusUnauthorized, errorResponse{
				Error:   "UNAUTHORIZED",
				Message: "X-User-ID header is required",
			})
			c.Abort()
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse{
				Error:   "UNAUTHORIZED",
				Message: "X-User-ID must be a UUID",
			})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(common.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// ErrorHandler turns errors pushed onto the gin error stack into JSON
// responses. Handlers call c.Error(err) and return; the mapping from
// sentinel to status lives here in one place.
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		status := statusFor(err)
		code := "INTERNAL_ERROR"
		message := "internal error"

		var appErr *common.AppError
		if errors.As(err, &appErr) {
			code = appErr.Code
			message = appErr.Message
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err,
				"request_id", common.RequestIDFromContext(c.Request.Context()),
			)
		}

		c.JSON(status, errorResponse{Error: code, Message: message})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict),
		errors.Is(err, common.ErrInvalidTransition),
		errors.Is(err, common.ErrJobNotComplete):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
