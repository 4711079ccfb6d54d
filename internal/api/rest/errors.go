package rest

import (
	"errors"
	"net/http"

	"github.com/smilemakc/workflow-engine/internal/apperr"
)

// APIError is the envelope every error response is rendered as.
type APIError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
}

func (e *APIError) Error() string { return e.Message }

// NewAPIError builds an APIError carrying no structured detail.
func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus}
}

var (
	ErrBadRequest       = NewAPIError("BAD_REQUEST", "invalid request", http.StatusBadRequest)
	ErrMissingParameter = NewAPIError("MISSING_PARAMETER", "required parameter is missing", http.StatusBadRequest)
	ErrInvalidID        = NewAPIError("INVALID_ID", "invalid id format", http.StatusBadRequest)
	ErrInvalidJSON      = NewAPIError("INVALID_JSON", "invalid JSON in request body", http.StatusBadRequest)
)

// TranslateError maps the engine's apperr.Kind taxonomy onto the facade's
// documented NotFound/InvalidState/PermissionDenied/ValidationFailed/
// Internal -> HTTP status contract (§6 "Error mapping").
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return NewAPIError("INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
	}

	status := appErr.HTTPStatus()

	if appErr.Kind == apperr.KindValidationFailed {
		details := make(map[string]string, len(appErr.Fields))
		for k, v := range appErr.Fields {
			details[k] = v
		}
		return &APIError{
			Code:       "VALIDATION_FAILED",
			Message:    appErr.Message,
			Details:    details,
			HTTPStatus: status,
		}
	}

	code := map[apperr.Kind]string{
		apperr.KindNotFound:         "NOT_FOUND",
		apperr.KindInvalidState:     "INVALID_STATE",
		apperr.KindPermissionDenied: "PERMISSION_DENIED",
	}[appErr.Kind]
	if code == "" {
		code = "INTERNAL_ERROR"
	}

	return NewAPIError(code, appErr.Message, status)
}
