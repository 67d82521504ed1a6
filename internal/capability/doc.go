// Package capability defines the closed set of dispatchable capabilities and
// the pipeline that runs them.
//
// A capability exists when two declarations meet: a code-side Definition
// (contracts, scope field, handler) and an entry in the operator's
// capabilities.toml (limits, scope rules, provider endpoints). The Registry
// binds the two at startup and is immutable afterwards; nothing can be
// dispatched that is not in it.
//
// # Dispatch pipeline
//
// Dispatch validates the payload against the request contract, classifies the
// request text against the capability's scope rules, and only then competes
// for an admission slot. Admission is a per-capability weighted semaphore:
// acquisition waits at most the configured queue_wait, after which the
// request is rejected with Backpressure rather than queued further. Admitted
// invocations run under the earlier of the caller's deadline and the
// capability timeout, and their outcome is appended to the audit trail.
//
// # Invocation context
//
// Handlers receive an Invocation built from the verified principal: subject,
// fresh invocation id, and an optional profile lookup. The payload never
// contributes identity. Profile fetch failures degrade to defaults; they are
// context enrichment, not a dispatch precondition.
package capability
