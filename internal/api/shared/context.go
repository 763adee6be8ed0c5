package shared

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/labelling-task/internal/domain"
)

// ContextKey is the type of keys this package stores in request contexts.
type ContextKey string

// PrincipalContextKey holds the domain.Principal of an authenticated request.
const PrincipalContextKey ContextKey = "principal"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// PrincipalFrom returns the principal stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(domain.Principal)
	if !ok || p.UserID == "" {
		return domain.Principal{}, false
	}
	return p, true
}

// RequestID returns bodyID when the client sent one, otherwise the id chi's
// RequestID middleware assigned to r.
func RequestID(r *http.Request, bodyID string) string {
	if bodyID != "" {
		return bodyID
	}
	return middleware.GetReqID(r.Context())
}
