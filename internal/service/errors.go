package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// Sentinel errors returned by the services. The API layer maps them to
// status codes.
var (
	// ErrForbidden indicates the resource belongs to another user.
	ErrForbidden = errors.New("resource belongs to another user")

	// ErrJobNotFound indicates the job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotificationNotFound indicates the notification does not exist.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrJobFinished indicates the job is already in a terminal state.
	ErrJobFinished = errors.New("job already finished")
)

// ServiceError wraps unexpected failures with the operation that produced them.
type ServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// wrapError returns known conditions as sentinels and wraps everything else.
func wrapError(operation, message string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrJobNotFound),
		errors.Is(err, ErrNotificationNotFound),
		errors.Is(err, ErrJobFinished):
		return err
	case errors.Is(err, store.ErrJobNotFound), errors.Is(err, domain.ErrJobNotFound):
		return ErrJobNotFound
	case errors.Is(err, store.ErrNotificationNotFound), errors.Is(err, domain.ErrNotificationNotFound):
		return ErrNotificationNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return fmt.Errorf("%w: %w", ErrJobFinished, err)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrDuplicateJob):
		return err
	}
	return &ServiceError{Operation: operation, Message: message, Err: err}
}
