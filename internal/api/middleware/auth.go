package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/labelling-task/internal/api/shared"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/service/auth"
)

// AuthMiddleware provides JWT authentication for routes.
type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

// NewAuthMiddleware creates a new AuthMiddleware with the given verifier.
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate validates the bearer token in the Authorization header and
// stores the resulting principal in the request context. The request logger
// is enriched with the principal's tenant and user.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		principal, err := m.verifier.Verify(r.Context(), strings.TrimSpace(token))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "token expired", err)
			case errors.Is(err, auth.ErrMissingClaims):
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "token missing required claims", err)
			case errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrTokenNotYetValid),
				errors.Is(err, auth.ErrMissingToken):
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "invalid token", err)
			default:
				shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "authentication error", err)
			}
			return
		}

		log := logger.FromContext(r.Context()).With(
			slog.String("tenant_id", principal.TenantID),
			slog.String("user_id", principal.UserID),
			slog.String("role", principal.Role))
		ctx := logger.WithLogger(shared.WithPrincipal(r.Context(), principal), log)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
