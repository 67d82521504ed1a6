// ABOUTME: Principal type for verified identities and context propagation
// ABOUTME: Provides WithPrincipal/FromContext for handlers behind the middleware

package auth

import (
	"context"
	"time"
)

// Principal is a verified identity. It is constructed only by a TokenVerifier
// from validated claims; request payloads have no path to it.
type Principal struct {
	Subject   string    // stable subject id from the token's "sub" claim
	Issuer    string    // token issuer, empty for the shared-secret verifier
	ExpiresAt time.Time // token expiry
}

// principalContextKey is the key type for storing a Principal in context.Context.
type principalContextKey struct{}

// WithPrincipal returns a new context with the verified principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// FromContext retrieves the verified principal, returning nil if the request
// never passed the auth middleware.
func FromContext(ctx context.Context) *Principal {
	val := ctx.Value(principalContextKey{})
	if val == nil {
		return nil
	}
	p, ok := val.(*Principal)
	if !ok {
		return nil
	}
	return p
}

// MustFromContext retrieves the verified principal, panicking if not present.
// Use only on paths that are unreachable without the middleware.
func MustFromContext(ctx context.Context) *Principal {
	p := FromContext(ctx)
	if p == nil {
		panic("auth: principal not found in context")
	}
	return p
}
