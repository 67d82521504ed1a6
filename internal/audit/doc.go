// Package audit records completed capability invocations in a local SQLite
// database and aggregates them into per-capability usage statistics.
//
// The trail stores dispatch metadata only: invocation and correlation ids, the
// capability id, the authenticated subject, the outcome, and timing. Request
// and response payloads never reach this package.
//
// # Durability
//
// The database runs in WAL mode with a busy timeout so concurrent dispatches
// can append while the stats endpoint reads. A failed append is a logging
// problem for the caller, not a reason to fail the invocation it describes.
package audit
