package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mchiang0610/continue/session"
)

// Every JSON body is one of two envelopes:
//
//	{"data": ...}                       success (optionally "pagination")
//	{"error": {"code", "message", ...}} failure

// ErrorCode is the machine-readable half of an error envelope
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeUnprocessable ErrorCode = "CORRUPT_SNAPSHOT"
	ErrCodeShuttingDown  ErrorCode = "SHUTTING_DOWN"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

var statusByCode = map[ErrorCode]int{
	ErrCodeBadRequest:    http.StatusBadRequest,
	ErrCodeValidation:    http.StatusBadRequest,
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeUnprocessable: http.StatusUnprocessableEntity,
	ErrCodeShuttingDown:  http.StatusServiceUnavailable,
	ErrCodeInternal:      http.StatusInternalServerError,
}

// ErrorDetail names one offending request field
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse is the failure envelope
type ErrorResponse struct {
	Error struct {
		Code    ErrorCode     `json:"code"`
		Message string        `json:"message"`
		Details []ErrorDetail `json:"details,omitempty"`
	} `json:"error"`
}

// DataResponse wraps a single object
type DataResponse[T any] struct {
	Data T `json:"data"`
}

// ListResponse wraps a collection
type ListResponse[T any] struct {
	Data       []T         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination is offset based; persisted listings are small and sorted by id.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

func RespondData[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, DataResponse[T]{Data: data})
}

// RespondCreated answers 201 and points Location at the new resource
func RespondCreated[T any](c *gin.Context, data T, location string) {
	if location != "" {
		c.Header("Location", location)
	}
	c.JSON(http.StatusCreated, DataResponse[T]{Data: data})
}

// RespondList never encodes a nil slice as null
func RespondList[T any](c *gin.Context, data []T, pagination *Pagination) {
	if data == nil {
		data = []T{}
	}
	c.JSON(http.StatusOK, ListResponse[T]{Data: data, Pagination: pagination})
}

func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func respondError(c *gin.Context, code ErrorCode, message string, details []ErrorDetail) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Details = details
	c.JSON(statusByCode[code], resp)
}

func RespondBadRequest(c *gin.Context, message string) {
	respondError(c, ErrCodeBadRequest, message, nil)
}

func RespondValidationError(c *gin.Context, message string, details []ErrorDetail) {
	respondError(c, ErrCodeValidation, message, details)
}

func RespondNotFound(c *gin.Context, message string) {
	respondError(c, ErrCodeNotFound, message, nil)
}

func RespondInternalError(c *gin.Context, message string) {
	respondError(c, ErrCodeInternal, message, nil)
}

// respondSessionError maps manager and store errors onto the failure envelope
func respondSessionError(c *gin.Context, err error) {
	var corrupt *session.CorruptStateError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(c, ErrCodeNotFound, err.Error(), nil)
	case errors.As(err, &corrupt):
		respondError(c, ErrCodeUnprocessable, err.Error(), nil)
	case errors.Is(err, session.ErrInvalidID):
		respondError(c, ErrCodeBadRequest, err.Error(), nil)
	case errors.Is(err, session.ErrManagerClosed):
		respondError(c, ErrCodeShuttingDown, err.Error(), nil)
	default:
		sessionsLogger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("session request failed")
		RespondInternalError(c, "internal error")
	}
}
