// Package auth verifies the bearer tokens issued by the platform's identity
// service and turns their claims into a domain.Principal. Tokens are never
// issued here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	// Verify checks the token's signature and lifetime and returns the
	// principal it names.
	Verify(ctx context.Context, token string) (domain.Principal, error)
}

// Claims is the claim set carried by platform access tokens.
type Claims struct {
	TenantID    string   `json:"tenantId"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// hmacVerifier implements TokenVerifier for HS256 tokens signed with a
// shared secret.
type hmacVerifier struct {
	signingKey []byte
	issuer     string
	audience   string
	timeFunc   func() time.Time // Injectable for testing
	clockSkew  time.Duration
}

var _ TokenVerifier = (*hmacVerifier)(nil)

// Option customizes an HMAC verifier.
type Option func(*hmacVerifier)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(v *hmacVerifier) { v.issuer = issuer }
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) Option {
	return func(v *hmacVerifier) { v.audience = audience }
}

// WithTimeFunc replaces the clock used to check exp and nbf.
func WithTimeFunc(fn func() time.Time) Option {
	return func(v *hmacVerifier) { v.timeFunc = fn }
}

// NewHMACVerifier creates a TokenVerifier for HS256 tokens.
func NewHMACVerifier(secret string, opts ...Option) (TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	v := &hmacVerifier{
		signingKey: []byte(secret),
		timeFunc:   time.Now,
		clockSkew:  2 * time.Minute,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify implements TokenVerifier.
func (v *hmacVerifier) Verify(ctx context.Context, tokenString string) (domain.Principal, error) {
	log := logger.FromContext(ctx)

	if tokenString == "" {
		return domain.Principal{}, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(v.timeFunc),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.signingKey, nil
	}, parserOpts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("token validation failed: token expired")
			return domain.Principal{}, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.Debug("token validation failed: token not yet valid")
			return domain.Principal{}, ErrTokenNotYetValid
		default:
			log.Debug("token validation failed",
				slog.String("error", err.Error()),
				slog.String("error_type", fmt.Sprintf("%T", err)))
			return domain.Principal{}, ErrInvalidToken
		}
	}
	if !token.Valid {
		return domain.Principal{}, ErrInvalidToken
	}

	if claims.Subject == "" || claims.TenantID == "" || claims.Role == "" {
		log.Info("token missing required claims",
			slog.Bool("has_sub", claims.Subject != ""),
			slog.Bool("has_tenant", claims.TenantID != ""),
			slog.Bool("has_role", claims.Role != ""))
		return domain.Principal{}, ErrMissingClaims
	}

	log.Debug("token validated",
		slog.String("user_id", claims.Subject),
		slog.String("tenant_id", claims.TenantID),
		slog.String("role", claims.Role))

	return domain.Principal{
		UserID:      claims.Subject,
		TenantID:    claims.TenantID,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, nil
}
