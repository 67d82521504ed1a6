// ABOUTME: Bearer token verification turning validated claims into a Principal
// ABOUTME: SecretVerifier does HS256 with a shared secret for dev deployments

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier turns a bearer token into a verified Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*Principal, error)
}

// SecretVerifier implements TokenVerifier using HS256 signed JWTs with a
// shared secret. Production deployments verify against the identity
// service's keyset instead (see KeysetVerifier).
type SecretVerifier struct {
	secret []byte
}

// NewSecretVerifier creates a verifier with the given shared secret.
func NewSecretVerifier(secret []byte) *SecretVerifier {
	return &SecretVerifier{secret: secret}
}

// Verify validates the token and builds a Principal from its claims.
// Tokens must carry "sub" and "exp"; an unexpired signature with the wrong
// method is rejected before the key is even consulted.
func (v *SecretVerifier) Verify(_ context.Context, tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return principalFromClaims(token)
}

// Generate creates a signed token for the given subject with expiration.
// Used by the token CLI subcommand and tests.
func (v *SecretVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// principalFromClaims extracts the Principal fields shared by all verifiers.
func principalFromClaims(token *jwt.Token) (*Principal, error) {
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: exp", ErrMissingClaim)
	}

	iss, _ := claims.GetIssuer()

	return &Principal{
		Subject:   sub,
		Issuer:    iss,
		ExpiresAt: exp.Time,
	}, nil
}
