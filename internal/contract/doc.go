// Package contract compiles and enforces the JSON Schema contracts that
// bound every payload crossing the gateway: inbound endpoint requests,
// provider outputs, and outbound response bodies.
//
// Schemas are compiled once at startup; a schema that fails to compile is a
// boot error, never a runtime fallback. Validation failures are reported as
// field paths plus the violated rule, derived from the contract rather than
// echoed from the payload.
package contract
