package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound          = errors.New("order_not_found")
	ErrOrderAlreadyFinalized  = errors.New("order_already_finalized")
	ErrPaymentFailed          = errors.New("payment_failed")
	ErrPaymentNotYetCompleted = errors.New("payment_not_yet_completed")
	ErrValidation             = errors.New("validation_error")
	ErrGatewayUnavailable     = errors.New("gateway_unavailable")
	ErrProviderNotFound       = errors.New("payment_provider_not_found")
	ErrInvalidConfig          = errors.New("invalid_provider_config")
	ErrInvalidUser            = errors.New("invalid_user")
	ErrInvalidOrder           = errors.New("invalid_order")
)

// ValidationError names the offending input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation_error: %s", e.Reason)
	}
	return fmt.Sprintf("validation_error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// GatewayError is a non-success response from a provider API.
type GatewayError struct {
	Provider   string
	Operation  string
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Provider, e.Operation, e.StatusCode, msg)
}

// Retryable reports whether the same request may succeed later.
func (e *GatewayError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
