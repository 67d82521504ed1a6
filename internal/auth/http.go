// ABOUTME: HTTP middleware for bearer token authentication on API endpoints
// ABOUTME: Every rejection goes through one RejectFunc so responses stay uniform

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

// RejectFunc writes the rejection response. The middleware hands it the
// underlying cause for logging; implementations must keep the response body
// identical for every cause.
type RejectFunc func(w http.ResponseWriter, r *http.Request, cause error)

// Middleware authenticates each request with the verifier and attaches the
// resulting Principal to the request context. A missing header, malformed
// token, bad signature, and expired token all take the same rejection path.
func Middleware(verifier TokenVerifier, reject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r.Header.Get("Authorization"))
			if err != nil {
				reject(w, r, err)
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				reject(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
