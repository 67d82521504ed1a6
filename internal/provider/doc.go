// Package provider is the outbound HTTP client for capability providers.
//
// Every call posts a JSON input and validates the provider's output against
// its declared schema before anything downstream of the gateway may read it.
// A provider answer that fails its contract is surfaced as an error, never
// passed through.
//
// Calls are never retried on semantic failure. A single retry happens only
// when the provider is marked idempotent and the failure was transport-level
// with no HTTP response received, so a provider can never observe the same
// accepted request twice.
package provider
