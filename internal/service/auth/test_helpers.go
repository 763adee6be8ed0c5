package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignTestToken signs an HS256 token carrying the given principal claims.
// It exists for tests in this and other packages; production tokens come
// from the identity service.
func SignTestToken(secret, subject, tenantID, role string, permissions []string, expiresAt time.Time) (string, error) {
	claims := Claims{
		TenantID:    tenantID,
		Role:        role,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
