package errors

import (
	"errors"
	"fmt"
)

// Domain error taxonomy for the ledger. Every mutating operation validates
// its preconditions and returns one of these without touching storage.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountClosed      = errors.New("account is closed")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrSameAccount        = errors.New("source and destination accounts cannot be the same")
	ErrAlreadyClosed      = errors.New("account is already closed")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrAccountNumberTaken = errors.New("account number already in use")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// StoreError wraps a persistence-boundary failure. The wrapped operation was
// not applied; callers match it with IsStoreUnavailable.
type StoreError struct {
	Operation string
	Cause     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure during '%s': %v", e.Operation, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func NewStoreError(operation string, cause error) error {
	return &StoreError{
		Operation: operation,
		Cause:     cause,
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

func IsClosed(err error) bool {
	return errors.Is(err, ErrAccountClosed) || errors.Is(err, ErrAlreadyClosed)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
