// ABOUTME: Authenticated admin identity carried through request contexts
// ABOUTME: Provides WithAuth/FromContext for handlers behind the bearer middleware

package auth

import (
	"context"
)

// AuthContext identifies the caller of an admin API request.
type AuthContext struct {
	Subject string // "sub" claim of the bearer token
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
