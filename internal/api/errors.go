package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/radio-control/siggen/internal/adapter"
	"github.com/radio-control/siggen/internal/dispatch"
	"github.com/radio-control/siggen/internal/stream"
	"github.com/radio-control/siggen/internal/transmit"
)

// API error codes for transport and request-shape conditions
var (
	ErrBadRequest = errors.New("BAD_REQUEST")
	ErrNotFound   = errors.New("NOT_FOUND")
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError converts an error to an HTTP status code and JSON envelope.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	var openErr *stream.FileOpenError
	if errors.As(err, &openErr) {
		if errors.Is(err, transmit.ErrNoWaveform) {
			return http.StatusBadRequest, marshalErrorResponse("NO_WAVEFORM", "No waveform file selected", nil)
		}
		return http.StatusUnprocessableEntity, marshalErrorResponse("FILE_OPEN_ERROR", "Waveform file could not be opened",
			map[string]interface{}{"path": openErr.Path})
	}

	switch {
	case errors.Is(err, adapter.ErrInvalidRange):
		return http.StatusBadRequest, marshalErrorResponse("INVALID_RANGE", "Parameter value is outside the allowed range",
			map[string]interface{}{"reason": err.Error()})
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, adapter.ErrBusy):
		return http.StatusServiceUnavailable, marshalErrorResponse("BUSY", "Service is busy, please retry with backoff", nil)
	case errors.Is(err, dispatch.ErrStopped), errors.Is(err, transmit.ErrNotAttached), errors.Is(err, adapter.ErrUnavailable):
		return http.StatusServiceUnavailable, marshalErrorResponse("UNAVAILABLE", "Service is temporarily unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, marshalErrorResponse("TIMEOUT", "Command was not applied in time", nil)
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, marshalErrorResponse("BAD_REQUEST", "Malformed or missing required parameter",
			map[string]interface{}{"reason": err.Error()})
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, marshalErrorResponse("NOT_FOUND", "Resource not found", nil)
	}

	return http.StatusInternalServerError, marshalErrorResponse("INTERNAL", "Internal server error", map[string]interface{}{
		"original": err.Error(),
	})
}

// marshalErrorResponse creates a JSON error response with correlation ID.
func marshalErrorResponse(code, message string, details interface{}) []byte {
	jsonBytes, err := json.Marshal(ErrorResponse(code, message, details))
	if err != nil {
		jsonBytes, _ = json.Marshal(ErrorResponse("INTERNAL", "Failed to marshal error response", nil))
	}
	return jsonBytes
}
