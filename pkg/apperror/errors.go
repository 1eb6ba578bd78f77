package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err (or anything it wraps) is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error codes.
const (
	CodeParse                      = "CND_001"
	CodeUnsupportedType            = "CND_002"
	CodeBitmaskTooLarge            = "CND_003"
	CodeUnsupportedBitmaskFeatures = "CND_004"
	CodeFulfillmentTooLong         = "CND_005"

	CodeAlreadyExists      = "TRF_001"
	CodeNotFound           = "TRF_002"
	CodeUnpreparedTransfer = "TRF_003"
	CodeTransferExpired    = "TRF_004"
	CodeInvalidTransfer    = "TRF_005"
	CodeUnmetCondition     = "TRF_006"
	CodeAlreadySettled     = "TRF_007"

	CodeInternal            = "SYS_001"
	CodeConcurrencyConflict = "SYS_002"

	CodeProjection = "PRJ_001"
)

// ---- Conditions & fulfillments (CND) ----

// ErrParse reports a malformed condition or fulfillment string.
func ErrParse(message string) *AppError {
	return New(CodeParse, message, http.StatusBadRequest)
}

func ErrUnsupportedType() *AppError {
	return New(CodeUnsupportedType, "Unsupported condition type", http.StatusBadRequest)
}

func ErrBitmaskTooLarge() *AppError {
	return New(CodeBitmaskTooLarge, "Condition bitmask too large", http.StatusBadRequest)
}

func ErrUnsupportedBitmaskFeatures() *AppError {
	return New(CodeUnsupportedBitmaskFeatures, "Condition uses unsupported features", http.StatusBadRequest)
}

func ErrFulfillmentTooLong() *AppError {
	return New(CodeFulfillmentTooLong, "Condition maximum fulfillment length too large", http.StatusBadRequest)
}

// ---- Transfer lifecycle (TRF) ----

func ErrAlreadyExists(id string) *AppError {
	return New(CodeAlreadyExists, fmt.Sprintf("Transfer %s already exists with different contents", id), http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ErrUnpreparedTransfer reports a fulfill/reject that the transfer's current state forbids.
func ErrUnpreparedTransfer(message string) *AppError {
	return New(CodeUnpreparedTransfer, message, http.StatusUnprocessableEntity)
}

func ErrTransferExpired() *AppError {
	return New(CodeTransferExpired, "Transfer has already expired", http.StatusUnprocessableEntity)
}

// ErrInvalidTransfer reports a structurally invalid prepare payload.
func ErrInvalidTransfer(message string) *AppError {
	return New(CodeInvalidTransfer, message, http.StatusBadRequest)
}

func ErrUnmetCondition() *AppError {
	return New(CodeUnmetCondition, "Fulfillment does not match execution condition", http.StatusUnprocessableEntity)
}

func ErrAlreadySettled(what string) *AppError {
	return New(CodeAlreadySettled, fmt.Sprintf("%s is already part of a settlement", what), http.StatusConflict)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// ErrConcurrencyConflict is returned once command retries are exhausted. Callers may retry.
func ErrConcurrencyConflict(err error) *AppError {
	return Wrap(CodeConcurrencyConflict, "Concurrent modification, please retry", http.StatusServiceUnavailable, err)
}

// ErrProjection wraps a read-model update failure. It is logged, never returned to command callers.
func ErrProjection(projection string, err error) *AppError {
	return Wrap(CodeProjection, fmt.Sprintf("projection %s failed", projection), http.StatusInternalServerError, err)
}

// Validation returns a TRF_005-style validation error for malformed requests.
func Validation(message string) *AppError {
	return ErrInvalidTransfer(message)
}
