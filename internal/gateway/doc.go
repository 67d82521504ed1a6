// Package gateway orchestrates the ward-gateway server components.
//
// # Overview
//
// The gateway package assembles the trust-boundary pipeline and fronts it
// with an HTTP server. It owns the capability registry, the dispatcher, the
// audit trail, replay suppression, and listener setup (plain TCP or a
// Tailscale tsnet node, optionally with HTTPS or public funnel).
//
// # HTTP API
//
// Routes registered in New:
//
//   - POST /api/ask - Invoke the advice capability
//   - POST /api/research - Invoke the research coordinator
//   - GET /api/stats/usage - Per-capability invocation counters
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (audit trail reachable, registry non-empty)
//
// The /api routes require a bearer token. Health endpoints are public.
//
// # Response Envelope
//
// Success responses wrap the capability result under a data key:
//
//	{"data": {"answer": "...", "disclaimer": "..."}}
//
// Failures carry a stable short code and a safe detail string:
//
//	{"error": {"error": "validation_error", "details": "question: minLength: ..."}}
//
// Correlation ids travel only in the X-Correlation-Id header, on every
// response. A client-sent X-Correlation-Id is honored so retries correlate.
//
// # Request Flow
//
// For an invocation route, in order: correlation id assignment, bearer token
// verification, Idempotency-Key replay check, body read (size capped),
// dispatch (contract validation, scope check, admission, handler, response
// contract), envelope write. The dispatcher records every completed
// invocation in the audit trail.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// Run shuts the server down with a fresh timeout context and closes the
// audit trail, the replay guard, and the profile source.
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, listeners, Run/Shutdown
//   - api.go: HTTP handlers and the response envelope
//   - correlation.go: correlation id middleware
package gateway
