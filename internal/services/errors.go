// internal/services/errors.go
package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindForbidden        ErrorKind = "FORBIDDEN"
	KindInvalidState     ErrorKind = "INVALID_STATE"
	KindFeeNotRequired   ErrorKind = "FEE_NOT_REQUIRED"
	KindAlreadyPaid      ErrorKind = "ALREADY_PAID"
	KindPaymentRequired  ErrorKind = "PAYMENT_REQUIRED"
	KindUnknownReference ErrorKind = "UNKNOWN_REFERENCE"
	KindConflict         ErrorKind = "CONFLICT"
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindInfrastructure   ErrorKind = "INFRASTRUCTURE_FAILURE"
)

// ServiceError is the only error shape services hand to their callers.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Details interface{}
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches on kind so callers can write errors.Is(err, services.ErrPaymentRequired).
func (e *ServiceError) Is(target error) bool {
	var t *ServiceError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func (e *ServiceError) Retryable() bool {
	return e.Kind == KindInfrastructure
}

// Sentinels for errors.Is.
var (
	ErrNotFound         = &ServiceError{Kind: KindNotFound}
	ErrForbidden        = &ServiceError{Kind: KindForbidden}
	ErrInvalidState     = &ServiceError{Kind: KindInvalidState}
	ErrFeeNotRequired   = &ServiceError{Kind: KindFeeNotRequired}
	ErrAlreadyPaid      = &ServiceError{Kind: KindAlreadyPaid}
	ErrPaymentRequired  = &ServiceError{Kind: KindPaymentRequired}
	ErrUnknownReference = &ServiceError{Kind: KindUnknownReference}
	ErrConflict         = &ServiceError{Kind: KindConflict}
	ErrValidation       = &ServiceError{Kind: KindValidation}
	ErrInfrastructure   = &ServiceError{Kind: KindInfrastructure}
)

func newError(kind ErrorKind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

func notFound(resource string) *ServiceError {
	return newError(KindNotFound, resource+" not found")
}

func infraError(op string, err error) *ServiceError {
	return &ServiceError{Kind: KindInfrastructure, Message: op, Err: err}
}

// KindOf reports the kind of err; anything that is not a ServiceError is an infrastructure failure.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInfrastructure
}

// lookupError turns a gorm lookup failure into NotFound or an infrastructure failure.
func lookupError(resource string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(resource)
	}
	return infraError("failed to load "+resource, err)
}

// passThrough keeps ServiceErrors intact and wraps everything else as infrastructure.
func passThrough(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return infraError(op, err)
}
