package domain

import (
	"errors"
	"fmt"

	pkgerrors "github.com/kevin07696/processing-service/pkg/errors"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Transaction Errors (TXN_*)
	ErrorCodeTxnNotFound       ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeTxnAlreadyExists  ErrorCode = "TXN_ALREADY_EXISTS"
	ErrorCodeTxnStatusConflict ErrorCode = "TXN_STATUS_CONFLICT"

	// Payment interface resolution errors (PAYSYS_*)
	ErrorCodeInterfaceNotFound     ErrorCode = "PAYSYS_NOT_FOUND"
	ErrorCodeStepNotFound          ErrorCode = "PAYSYS_STEP_NOT_FOUND"
	ErrorCodeEmptyResult           ErrorCode = "PAYSYS_EMPTY_RESULT"
	ErrorCodeImmutableFieldChanged ErrorCode = "PAYSYS_IMMUTABLE_FIELD_CHANGED"
	ErrorCodePaymentDeclined       ErrorCode = "PAYMENT_DECLINED"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrorCodeValidationMalformed     ErrorCode = "VALIDATION_MALFORMED"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeStorageError  ErrorCode = "INTERNAL_STORAGE_ERROR"
	ErrorCodePublishError  ErrorCode = "INTERNAL_PUBLISH_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code so that predeclared errors can be
// used as errors.Is targets.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeTxnNotFound ||
		code == ErrorCodeInterfaceNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationMissingField ||
		code == ErrorCodeValidationMalformed
}

// IsDecline reports whether err is a business decline: the transaction must
// take the failure edge of its current stage. Retriable payment errors are
// not declines until the caller gives up on them.
func IsDecline(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := pkgerrors.AsPaymentError(err); ok {
		return !pe.IsRetriable
	}
	switch GetErrorCode(err) {
	case ErrorCodeInterfaceNotFound,
		ErrorCodeStepNotFound,
		ErrorCodeEmptyResult,
		ErrorCodeImmutableFieldChanged,
		ErrorCodePaymentDeclined:
		return true
	}
	return false
}

// Structured error instances
var (
	ErrTxnNotFound       = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")
	ErrTxnAlreadyExists  = NewDomainError(ErrorCodeTxnAlreadyExists, "transaction already exists")
	ErrTxnStatusConflict = NewDomainError(ErrorCodeTxnStatusConflict, "transaction status changed concurrently")

	ErrInterfaceNotFound = NewDomainError(ErrorCodeInterfaceNotFound, "payment interface not found")
	ErrStepNotFound      = NewDomainError(ErrorCodeStepNotFound, "processing step not found")
	ErrEmptyResult       = NewDomainError(ErrorCodeEmptyResult, "payment interface returned no transaction")

	ErrValidationFailed = NewDomainError(ErrorCodeValidationFailed, "validation failed")
)
