package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateJob is returned when a job is created with an ID that already exists.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrJobNotFound is returned when a job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a job status change is not permitted
	// from its current state. Callers match it with errors.Is; the concrete
	// error is a *TransitionError.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrNotificationNotFound is returned when a notification does not exist.
	ErrNotificationNotFound = errors.New("notification not found")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: job %s cannot move from %s to %s", ErrInvalidTransition, e.JobID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
