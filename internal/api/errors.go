package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"entrytracker/internal/attendance"
	"entrytracker/internal/payload"
	"entrytracker/internal/scan"
)

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		validation *attendance.ValidationError
		decode     *payload.DecodeError
		persist    *attendance.PersistenceError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &decode), errors.Is(err, scan.ErrExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scan.ErrResourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, scan.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.As(err, &persist):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	var decode *payload.DecodeError
	if errors.As(err, &decode) {
		body["kind"] = decode.Kind
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		if status == http.StatusInternalServerError {
			body["error"] = "internal error"
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
