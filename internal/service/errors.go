package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/labelling-task/internal/store"
)

// Sentinel errors returned by TaskService. Callers check them with errors.Is;
// the API layer maps each one to an HTTP status.
var (
	// ErrForbidden indicates the caller's role does not allow the operation,
	// or a non-admin asked for a task not allocated to them.
	ErrForbidden = errors.New("operation not permitted for caller")

	// ErrTaskNotFound indicates the task does not exist for the tenant.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists indicates the tenant already has a task with the same
	// external id.
	ErrTaskExists = errors.New("task already exists")

	// ErrAlreadyAllocated indicates a reallocation was requested for a task
	// that already has a worker.
	ErrAlreadyAllocated = errors.New("task is already allocated")
)

// TaskServiceError wraps unexpected failures with the operation that hit them.
type TaskServiceError struct {
	// Operation is the service operation that failed, e.g. "create_task".
	Operation string
	// Message is a human-readable description of the failure.
	Message string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a TaskServiceError. Store not-found and
// duplicate errors are translated to the service sentinels instead of being
// wrapped, and service sentinels pass through unchanged.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{ErrForbidden, ErrTaskNotFound, ErrTaskExists, ErrAlreadyAllocated} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	if store.IsNotFoundError(err) {
		return ErrTaskNotFound
	}
	if store.IsDuplicateError(err) {
		return ErrTaskExists
	}

	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
