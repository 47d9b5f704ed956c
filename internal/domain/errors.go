package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrSaleNotFound        = errors.New("sale not found")
	ErrInvalidQuantity     = errors.New("quantity must be a positive integer")
	ErrEmptyPayments       = errors.New("at least one payment is required")
	ErrDuplicateIdentifier = errors.New("a product with that sku or barcode already exists")
	ErrUnauthenticated     = errors.New("no active cashier session")
	ErrAlreadySettled      = errors.New("sale is not open")
	ErrOperationTimedOut   = errors.New("operation timed out")
)

// ValidationError reports malformed or missing input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AmountMismatchError is returned when the payment sum differs from the sale total.
type AmountMismatchError struct {
	Expected int64
	Received int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payments total %d does not match sale total %d", e.Received, e.Expected)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
