// ABOUTME: RS256 token verification against the identity service's JWKS
// ABOUTME: Keys are TTL-cached and fetches deduplicated via singleflight

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// keysetTTL is how long a fetched keyset is trusted before re-fetching.
// Thirty minutes balances fetch traffic against timely key rotation.
const keysetTTL = 30 * time.Minute

// keysetRefreshCooldown bounds rotation-triggered refreshes. An unknown key
// id within this window after a fetch is treated as a forged token rather
// than a rotation, so probe bursts cannot turn into fetch bursts.
const keysetRefreshCooldown = 30 * time.Second

// jwk is a single JSON Web Key as published by the identity service.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// publicKey builds an rsa.PublicKey from the JWK's modulus and exponent.
func (k jwk) publicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// keysetEntry holds one fetched keyset with its timestamp.
type keysetEntry struct {
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// KeysetVerifier implements TokenVerifier for RS256 tokens signed by an
// external identity service. The gateway never holds signing material; it
// only reads the published JWKS document.
type KeysetVerifier struct {
	url        string
	issuer     string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	entry *keysetEntry

	// group deduplicates concurrent keyset fetches
	group singleflight.Group
}

// NewKeysetVerifier creates a verifier reading keys from the JWKS document
// at url. If issuer is non-empty, the token's "iss" claim must match it.
func NewKeysetVerifier(url, issuer string, logger *slog.Logger) *KeysetVerifier {
	return &KeysetVerifier{
		url:        url,
		issuer:     issuer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "auth.keyset"),
	}
}

// Verify validates the token signature against the current keyset and builds
// a Principal from its claims.
func (v *KeysetVerifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: kid header", ErrMissingClaim)
		}
		return v.key(ctx, kid)
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return principalFromClaims(token)
}

// key returns the public key for kid, fetching or refreshing the keyset as
// needed. Concurrent callers share a single fetch.
func (v *KeysetVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	entry := v.entry
	v.mu.RUnlock()

	if entry != nil {
		if k, ok := entry.keys[kid]; ok && time.Since(entry.fetchedAt) < keysetTTL {
			return k, nil
		}
		if _, ok := entry.keys[kid]; !ok && time.Since(entry.fetchedAt) < keysetRefreshCooldown {
			return nil, fmt.Errorf("%w: unknown key id", ErrInvalidToken)
		}
	}

	result, err, _ := v.group.Do("jwks", func() (interface{}, error) {
		// Double-check after winning the flight: a sibling may have
		// refreshed the cache while we queued.
		v.mu.RLock()
		entry := v.entry
		v.mu.RUnlock()
		if entry != nil && time.Since(entry.fetchedAt) < keysetRefreshCooldown {
			return entry, nil
		}

		fresh, err := v.fetch(ctx)
		if err != nil {
			return nil, err
		}

		v.mu.Lock()
		v.entry = fresh
		v.mu.Unlock()

		v.logger.Info("keyset refreshed", "keys", len(fresh.keys))
		return fresh, nil
	})
	if err != nil {
		return nil, fmt.Errorf("keyset fetch: %w", err)
	}

	entry = result.(*keysetEntry)
	k, ok := entry.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id", ErrInvalidToken)
	}
	return k, nil
}

// fetch retrieves and parses the JWKS document.
func (v *KeysetVerifier) fetch(ctx context.Context) (*keysetEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyset endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding keyset: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range doc.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			v.logger.Warn("skipping unusable key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("keyset contains no usable keys")
	}

	return &keysetEntry{keys: keys, fetchedAt: time.Now()}, nil
}
