package auth

import "errors"

// Common token verification errors.
var (
	// ErrInvalidToken indicates the token format is invalid or its signature
	// doesn't match.
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired.
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrTokenNotYetValid indicates the token is not yet valid (nbf claim in
	// the future).
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	// ErrMissingToken indicates a token was expected but not provided.
	ErrMissingToken = errors.New("authentication token is missing")

	// ErrMissingClaims indicates a valid token lacks the subject, tenant or
	// role claim.
	ErrMissingClaims = errors.New("authentication token missing required claims")
)
