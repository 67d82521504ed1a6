// ABOUTME: Closed error taxonomy for the gateway pipeline with HTTP mapping.
// ABOUTME: Every failure that crosses the trust boundary is exactly one Kind.

package fault

import (
	"errors"
	"net/http"
)

// Kind classifies a pipeline failure. The set is closed: handlers, the
// dispatcher, and the coordinator may only surface these kinds, so the
// client-visible error space never grows by accident.
type Kind string

const (
	// KindUnauthenticated covers every identity failure: missing header,
	// malformed token, bad signature, expired token. The boundary response
	// is identical for all of them.
	KindUnauthenticated Kind = "unauthenticated"

	// KindValidation means the request body failed its endpoint contract.
	KindValidation Kind = "validation_error"

	// KindOutOfScope means the request is well-formed but outside the
	// capability's remit.
	KindOutOfScope Kind = "out_of_scope"

	// KindCapabilityFailure means a downstream invocation was attempted
	// and failed, or a compound invocation lost one of its parts.
	KindCapabilityFailure Kind = "capability_failure"

	// KindCapabilityUnavailable means no downstream invocation was
	// attempted: the capability is unknown, disabled, or the gateway
	// failed internally before dispatch.
	KindCapabilityUnavailable Kind = "capability_unavailable"

	// KindContractViolation means the downstream answered but its output
	// did not satisfy the declared response contract.
	KindContractViolation Kind = "contract_violation"

	// KindBackpressure means the request was refused by admission control
	// before any work was done.
	KindBackpressure Kind = "backpressure"
)

// HTTPStatus returns the status code the boundary sends for this kind.
// Unknown kinds map to 500 so a taxonomy bug fails closed.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindValidation, KindOutOfScope:
		return http.StatusBadRequest
	case KindBackpressure:
		return http.StatusTooManyRequests
	case KindCapabilityFailure, KindContractViolation:
		return http.StatusBadGateway
	case KindCapabilityUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Fault is a classified pipeline failure. Detail is client-visible and must
// never contain payload content, token material, or downstream error text.
// The internal cause rides along for logs and errors.Is/As but is excluded
// from the wire form.
type Fault struct {
	Kind       Kind
	Capability string // capability id, empty if the failure precedes dispatch
	Detail     string
	cause      error
}

func (f *Fault) Error() string {
	msg := string(f.Kind)
	if f.Capability != "" {
		msg += " (" + f.Capability + ")"
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.cause != nil {
		msg += ": " + f.cause.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.cause
}

// Unauthenticated returns the single uniform identity failure. It carries no
// detail on purpose: distinguishing missing/expired/forged tokens would give
// probes an oracle.
func Unauthenticated(cause error) *Fault {
	return &Fault{Kind: KindUnauthenticated, Detail: "authentication required", cause: cause}
}

// Validation reports a request that failed its endpoint contract. Detail is
// a field path plus rule, derived from the contract rather than echoed from
// the payload.
func Validation(detail string) *Fault {
	return &Fault{Kind: KindValidation, Detail: detail}
}

// OutOfScope reports a well-formed request outside the capability's remit.
func OutOfScope(capability, detail string) *Fault {
	return &Fault{Kind: KindOutOfScope, Capability: capability, Detail: detail}
}

// Failure reports a downstream invocation that was attempted and failed.
func Failure(capability string, cause error) *Fault {
	return &Fault{Kind: KindCapabilityFailure, Capability: capability, Detail: "capability invocation failed", cause: cause}
}

// Unavailable reports that no downstream invocation was attempted.
func Unavailable(capability string, cause error) *Fault {
	return &Fault{Kind: KindCapabilityUnavailable, Capability: capability, Detail: "capability unavailable", cause: cause}
}

// Contract reports downstream output that failed its response contract.
func Contract(capability string, cause error) *Fault {
	return &Fault{Kind: KindContractViolation, Capability: capability, Detail: "capability returned a malformed result", cause: cause}
}

// Backpressure reports refusal by admission control.
func Backpressure(capability string) *Fault {
	return &Fault{Kind: KindBackpressure, Capability: capability, Detail: "capability is at its admission limit"}
}

// From coerces err into a *Fault. Errors that are not already classified
// become CapabilityUnavailable: if the pipeline cannot say what happened,
// it must not claim the downstream did anything.
func From(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: KindCapabilityUnavailable, Detail: "internal error", cause: err}
}

// WireError is the client-visible error body: the stable public code under
// the "error" key plus a safe detail string. Correlation ids travel in the
// X-Correlation-Id header, not the body. Nothing else crosses the boundary.
type WireError struct {
	Code    string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Wire returns the client-visible form of the fault.
func (f *Fault) Wire() WireError {
	return WireError{
		Code:    string(f.Kind),
		Details: f.Detail,
	}
}
