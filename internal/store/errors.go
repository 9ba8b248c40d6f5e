package store

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scry-jobs/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrJobNotFound matches both ErrNotFound and domain.ErrJobNotFound.
	ErrJobNotFound = fmt.Errorf("%w: %w", ErrNotFound, domain.ErrJobNotFound)

	// ErrJobExists matches both ErrDuplicate and domain.ErrDuplicateJob.
	ErrJobExists = fmt.Errorf("%w: %w", ErrDuplicate, domain.ErrDuplicateJob)

	// ErrNotificationNotFound matches both ErrNotFound and domain.ErrNotificationNotFound.
	ErrNotificationNotFound = fmt.Errorf("%w: %w", ErrNotFound, domain.ErrNotificationNotFound)
)

// StoreError records which backend operation failed. Backends return it for
// unexpected driver failures; the wrapped error keeps errors.Is working for
// the sentinels above.
type StoreError struct {
	Entity    string
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the driver error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError builds a StoreError.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
