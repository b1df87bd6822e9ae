package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	ErrCodeBadRequest       ErrorCode = "bad_request"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeValidationFailed ErrorCode = "validation_failed"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeForbidden        ErrorCode = "forbidden"

	// Server errors (5xx)
	ErrCodeInternalError ErrorCode = "internal_error"
)

// APIError represents a structured API error that carries error code and details.
// Registry errors keep their domain code so clients can branch on it.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	jsonErr, _ := json.Marshal(e)
	return string(jsonErr)
}

// Error constructors for common error types
func NewBadRequestError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeBadRequest,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewNotFoundError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewValidationError(details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeValidationFailed,
		Message: "Validation failed",
		Details: strings.Join(details, ", "),
	}
}

func NewUnauthorizedError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewForbiddenError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeForbidden,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewInternalError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeInternalError,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

// StatusFor maps a registry error code to its HTTP status
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	case domain.CodeLandNotFound, domain.CodeTransferNotFound:
		return http.StatusNotFound
	case domain.CodeLandDisputed, domain.CodeLandEncumbered, domain.CodeLandFrozen,
		domain.CodeLandCoolingPeriod, domain.CodeTransferInvalidState:
		return http.StatusConflict
	case domain.CodeTransferInvalidOwner:
		return http.StatusUnprocessableEntity
	case domain.CodeLedgerUnavailable, domain.CodeAnchorFailed:
		return http.StatusServiceUnavailable
	case domain.CodeLedgerTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeLedgerEndorsementFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// FromError converts an error into an HTTP status and API error. Coded registry
// errors surface their code and message; anything else is reported as internal.
func FromError(err error) (int, *APIError) {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeBadRequest, ErrCodeValidationFailed:
			return http.StatusBadRequest, apiErr
		case ErrCodeNotFound:
			return http.StatusNotFound, apiErr
		case ErrCodeUnauthorized:
			return http.StatusUnauthorized, apiErr
		case ErrCodeForbidden:
			return http.StatusForbidden, apiErr
		}
		return http.StatusInternalServerError, apiErr
	}

	var derr *domain.Error
	if !stderrors.As(err, &derr) || derr.Code == domain.CodeChainIntegrityViolation {
		return http.StatusInternalServerError, NewInternalError("Internal server error")
	}

	return StatusFor(derr.Code), &APIError{Code: ErrorCode(derr.Code), Message: derr.Message}
}
