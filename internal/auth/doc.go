// Package auth verifies bearer tokens at the gateway's trust boundary and
// carries the resulting principal through request contexts.
//
// # Verifiers
//
// Two TokenVerifier implementations are provided:
//
//   - SecretVerifier: HS256 with a shared secret. Used for local development
//     and tests; it can also mint tokens (see the token CLI subcommand).
//
//   - KeysetVerifier: RS256 against the identity service's published JWKS.
//     Keys are cached with a TTL, refreshed through singleflight so a burst
//     of requests triggers at most one fetch, and re-fetched once when an
//     unknown key id appears (key rotation).
//
// # Principal
//
// A Principal is only ever constructed by a verifier from validated token
// claims. Handlers retrieve it with FromContext; nothing in a request payload
// can reach it.
//
// # Uniform rejection
//
// The middleware rejects every authentication failure the same way, through a
// single RejectFunc. Missing header, malformed token, bad signature, and
// expired token are indistinguishable to the caller; the cause is available
// to the reject func for logging only.
package auth
