package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/labelling-task/internal/allocation"
	"github.com/phrazzld/labelling-task/internal/api/shared"
	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/runner"
	"github.com/phrazzld/labelling-task/internal/service"
	"github.com/phrazzld/labelling-task/internal/service/auth"
	"github.com/phrazzld/labelling-task/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes so handlers
// never decide statuses on their own.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrMissingClaims):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrTaskExists),
		errors.Is(err, service.ErrAlreadyAllocated),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, allocation.ErrNoEligibleWorker):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAllocationRequest),
		errors.Is(err, allocation.ErrUnknownPolicy),
		errors.Is(err, allocation.ErrManualPolicy),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, shared.ErrEmptyBody),
		errors.Is(err, shared.ErrInvalidBody):
		return http.StatusBadRequest

	case errors.Is(err, runner.ErrQueueFull),
		errors.Is(err, runner.ErrStopped):
		return http.StatusServiceUnavailable

	default:
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err that never
// includes the error's own text.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "an unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "token expired"
	case MapErrorToStatusCode(err) == http.StatusUnauthorized:
		return "invalid token"

	case errors.Is(err, service.ErrForbidden), errors.Is(err, domain.ErrUnauthorized):
		return "forbidden"

	case errors.Is(err, service.ErrTaskNotFound), errors.Is(err, store.ErrNotFound):
		return "task not found"

	case errors.Is(err, service.ErrTaskExists), errors.Is(err, store.ErrDuplicate):
		return "task already exists"
	case errors.Is(err, service.ErrAlreadyAllocated):
		return "task is already allocated"
	case errors.Is(err, allocation.ErrNoEligibleWorker):
		return "no eligible worker"

	case errors.Is(err, allocation.ErrManualPolicy):
		return "task uses manual assignment"
	case errors.Is(err, allocation.ErrUnknownPolicy):
		return "unknown assignment policy"
	case errors.Is(err, shared.ErrEmptyBody):
		return "request body is required"
	case errors.Is(err, shared.ErrInvalidBody):
		return "invalid request format"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAllocationRequest),
		errors.Is(err, store.ErrInvalidEntity):
		return "invalid task data"

	case errors.Is(err, runner.ErrQueueFull), errors.Is(err, runner.ErrStopped):
		return "service busy, try again later"
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return SanitizeValidationError(err)
	}
	return "an unexpected error occurred"
}

// SanitizeValidationError turns validator errors into a short message naming
// the first offending field.
func SanitizeValidationError(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "validation error"
	}
	fe := ve[0]
	return fmt.Sprintf("invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the error response for err. fallback replaces the
// generic message for unmapped server errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
