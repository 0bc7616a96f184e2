package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/storymesh/core"
)

// Response is the envelope of every JSON response.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *Error    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

// Error is the error part of a Response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "STATE_CONFLICT"
	CodeUnavailable    = "SERVICE_UNAVAILABLE"
	CodeGeneration     = "GENERATION_FAILED"
	CodeInternal       = "INTERNAL_ERROR"
)

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestID(c),
	})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Error:     &Error{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
		RequestID: requestID(c),
	})
}

func badRequest(c *gin.Context, err error) {
	fail(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
}

// failWith maps an engine error to a status code.
func failWith(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	_ = c.Error(err)
	fail(c, status, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrStateConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, core.ErrOverloaded), errors.Is(err, core.ErrBusy):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, core.ErrGeneration):
		return http.StatusBadGateway, CodeGeneration
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
