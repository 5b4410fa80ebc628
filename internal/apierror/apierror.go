// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
package apierror

import (
	"errors"
	"net/http"

	"cashdrawer/internal/ledger"
)

// Codes that are not ledger rule violations.
const (
	CodeOrganizationRequired = "organization_required"
	CodeForbidden            = "forbidden"
	CodeUnauthorized         = "unauthorized"
	CodeValidation           = "validation"
	CodeBadRequest           = "bad_request"
	CodeNotFound             = "not_found"
	CodeRateLimited          = "rate_limited"
	CodeInternal             = "internal"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
// Code is stable and machine-readable; Detail is shown to the operator.
type APIError struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

func WithCode(code, msg string) *APIError {
	return &APIError{Detail: msg, Code: code}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "Error de validacion", Code: CodeValidation, Fields: fields}
}

// FromError maps a service error to a status and envelope.
// Unknown errors become a 500 with a generic message.
func FromError(err error) (int, *APIError) {
	code := ledger.Code(err)
	switch {
	case code == "":
		return http.StatusInternalServerError, WithCode(CodeInternal, "Error interno del servidor")
	case errors.Is(err, ledger.ErrSessionNotFound):
		return http.StatusNotFound, WithCode(code, err.Error())
	case errors.Is(err, ledger.ErrSessionAlreadyOpen), errors.Is(err, ledger.ErrSessionNotOpen):
		return http.StatusConflict, WithCode(code, err.Error())
	case ledger.IsValidation(err):
		return http.StatusUnprocessableEntity, WithCode(code, err.Error())
	default:
		return http.StatusBadRequest, WithCode(code, err.Error())
	}
}
