package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// It is usually wrapped with a field specific message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAllocationRequest is returned when an allocation request is
	// missing its tenant, role or task id.
	ErrInvalidAllocationRequest = errors.New("invalid allocation request")

	// ErrUnauthorized is returned when an operation is not permitted for the
	// calling principal.
	ErrUnauthorized = errors.New("unauthorized operation")
)
