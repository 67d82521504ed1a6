// ABOUTME: Structured logging for classified failures at the trust boundary.
// ABOUTME: Log lines carry kind, capability, and correlation id, nothing else.

package fault

import (
	"log/slog"
)

// Reporter logs classified failures. Fields are limited to the failure kind,
// the capability id, and the correlation id: downstream error text can quote
// user input, so even the internal cause stays out of log storage. Operators
// correlate with provider-side logs via the correlation id.
type Reporter struct {
	logger *slog.Logger
}

// NewReporter creates a reporter on the given logger.
func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{logger: logger.With("component", "fault")}
}

// Report logs f under the request's correlation id. Admission and client
// errors log at Warn; anything the gateway or a downstream broke logs at
// Error.
func (r *Reporter) Report(correlationID string, f *Fault) {
	attrs := []any{
		"kind", string(f.Kind),
		"correlation_id", correlationID,
	}
	if f.Capability != "" {
		attrs = append(attrs, "capability", f.Capability)
	}

	switch f.Kind {
	case KindCapabilityFailure, KindCapabilityUnavailable, KindContractViolation:
		r.logger.Error("request failed", attrs...)
	default:
		r.logger.Warn("request rejected", attrs...)
	}
}
