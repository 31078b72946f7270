package handlers

import (
	"errors"
	"net/http"

	"headset_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidBodyPref = "invalid body: "
	errReadFailed      = "failed to read from storage"
	errInternal        = "internal error"
	warnNotPersisted   = "change applied but not yet persisted; it will be retried"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case service.IsConflict(err):
		return http.StatusConflict
	case service.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// serviceError writes the mapped status for err. User errors are echoed, the rest are hidden.
func (h *Handler) serviceError(c *gin.Context, logKey string, err error, kv ...interface{}) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logAndJSONError(c, code, errInternal, logKey, err, kv...)
		return
	}
	if h.log != nil {
		h.log.Infow(logKey, append([]interface{}{"err", err}, kv...)...)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// mutationFailed handles the error of a write operation. It returns true when the request
// was answered; a storage-only error lets the caller respond 2xx with a warning instead.
func (h *Handler) mutationFailed(c *gin.Context, logKey string, err error, kv ...interface{}) bool {
	if err == nil || service.IsStorage(err) {
		if err != nil && h.log != nil {
			h.log.Warnw(logKey, append([]interface{}{"err", err}, kv...)...)
		}
		return false
	}
	h.serviceError(c, logKey, err, kv...)
	return true
}

// withWarning wraps a payload with a warning field when err is a storage failure.
func withWarning(key string, payload any, err error) gin.H {
	resp := gin.H{key: payload}
	if service.IsStorage(err) {
		resp["warning"] = warnNotPersisted
	}
	return resp
}
