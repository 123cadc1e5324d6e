package identity

import (
	"context"
	"time"

	"tasker/cmd/security/token"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the Principal attached by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// PrincipalFromClaims maps verified token claims onto a Principal.
func PrincipalFromClaims(c token.Claims) Principal {
	return Principal{UserID: c.UserID, Email: c.Email, ExpiresAt: c.ExpiresAt}
}
