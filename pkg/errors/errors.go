package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of error for handling
type ErrorCategory string

const (
	CategoryDeclined          ErrorCategory = "declined"
	CategoryInsufficientFunds ErrorCategory = "insufficient_funds"
	CategoryInvalidCard       ErrorCategory = "invalid_card"
	CategoryExpiredCard       ErrorCategory = "expired_card"
	CategoryFraud             ErrorCategory = "fraud"
	CategorySystemError       ErrorCategory = "system_error"
	CategoryNetworkError      ErrorCategory = "network_error"
	CategoryInvalidRequest    ErrorCategory = "invalid_request"
	// CategoryPending marks a step that is waiting on an external party
	// (3-D Secure confirmation, asynchronous bank callback).
	CategoryPending ErrorCategory = "pending"
)

// PaymentError is the error a payment interface returns when a step is
// refused or cannot complete. Non-retriable errors decline the transaction;
// retriable errors ask the caller to try the same step again later.
type PaymentError struct {
	Err            error
	Details        map[string]interface{}
	Code           string
	Message        string
	GatewayMessage string
	Category       ErrorCategory
	IsRetriable    bool
}

func (e *PaymentError) Error() string {
	if e.GatewayMessage != "" {
		return fmt.Sprintf("%s: %s (gateway: %s)", e.Code, e.Message, e.GatewayMessage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithCause attaches the underlying error
func (e *PaymentError) WithCause(err error) *PaymentError {
	e.Err = err
	return e
}

// WithDetail adds a detail field to the error
func (e *PaymentError) WithDetail(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, category ErrorCategory, retriable bool) *PaymentError {
	return &PaymentError{
		Code:        code,
		Message:     message,
		Category:    category,
		IsRetriable: retriable,
		Details:     make(map[string]interface{}),
	}
}

// NewDeclineError creates a non-retriable decline
func NewDeclineError(code, message string) *PaymentError {
	return NewPaymentError(code, message, CategoryDeclined, false)
}

// NewPendingError creates a retriable error for a step that has not finished yet
func NewPendingError(code, message string) *PaymentError {
	return NewPaymentError(code, message, CategoryPending, true)
}

// AsPaymentError extracts a PaymentError from an error chain
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetriable reports whether err carries a retriable PaymentError
func IsRetriable(err error) bool {
	pe, ok := AsPaymentError(err)
	return ok && pe.IsRetriable
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
