// ABOUTME: HTTP handlers for capability invocation and usage stats
// ABOUTME: Wraps every response in the data/error envelope clients contract on

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/ward-gateway/internal/audit"
	"github.com/2389/ward-gateway/internal/auth"
	"github.com/2389/ward-gateway/internal/fault"
)

// dataEnvelope wraps every successful response body.
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// errorEnvelope wraps every failure response body. The inner key for the
// short code is literally "error", so a failure reads
// {"error": {"error": "validation_error", "details": "..."}}.
type errorEnvelope struct {
	Error fault.WireError `json:"error"`
}

// writeData writes a 200 response carrying raw under the data key.
func (g *Gateway) writeData(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataEnvelope{Data: raw}); err != nil {
		g.logger.Warn("writing response", "error", err)
	}
}

// writeFault reports f and writes its wire form under the mapped status code.
func (g *Gateway) writeFault(w http.ResponseWriter, r *http.Request, f *fault.Fault) {
	g.reporter.Report(correlationID(r.Context()), f)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.Kind.HTTPStatus())
	if err := json.NewEncoder(w).Encode(errorEnvelope{Error: f.Wire()}); err != nil {
		g.logger.Warn("writing response", "error", err)
	}
}

// rejectUnauthenticated is the single rejection path for the auth middleware.
// Every identity failure produces the identical response body.
func (g *Gateway) rejectUnauthenticated(w http.ResponseWriter, r *http.Request, cause error) {
	g.writeFault(w, r, fault.Unauthenticated(cause))
}

// handleAsk handles POST /api/ask requests.
func (g *Gateway) handleAsk(w http.ResponseWriter, r *http.Request) {
	g.handleInvoke(w, r, "advice")
}

// handleResearch handles POST /api/research requests.
func (g *Gateway) handleResearch(w http.ResponseWriter, r *http.Request) {
	g.handleInvoke(w, r, "research")
}

// handleInvoke runs one capability invocation end to end: replay check, body
// read, dispatch, envelope.
func (g *Gateway) handleInvoke(w http.ResponseWriter, r *http.Request, capabilityID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	principal := auth.MustFromContext(r.Context())

	// A repeated Idempotency-Key inside the replay window is refused before
	// any dispatch work happens.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		if g.guard.Seen(principal.Subject, key) {
			g.writeFault(w, r, fault.Backpressure(capabilityID))
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.Server.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			g.writeFault(w, r, fault.Validation("request body exceeds the size limit"))
			return
		}
		g.writeFault(w, r, fault.Validation("request body could not be read"))
		return
	}

	raw, f := g.dispatcher.Dispatch(r.Context(), capabilityID, principal, correlationID(r.Context()), body)
	if f != nil {
		g.writeFault(w, r, f)
		return
	}

	g.writeData(w, raw)
}

// handleUsageStats handles GET /api/stats/usage requests. Optional query
// parameters: capability, since, until (RFC 3339).
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filter, f := parseStatsFilter(r.URL.Query())
	if f != nil {
		g.writeFault(w, r, f)
		return
	}

	stats, err := g.trail.Stats(r.Context(), filter)
	if err != nil {
		g.logger.Error("aggregating usage stats", "error", err)
		g.writeFault(w, r, fault.From(err))
		return
	}

	if stats == nil {
		stats = []audit.CapabilityStats{}
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		g.writeFault(w, r, fault.From(err))
		return
	}

	g.writeData(w, raw)
}

// parseStatsFilter builds an audit filter from query parameters.
func parseStatsFilter(q url.Values) (audit.Filter, *fault.Fault) {
	var filter audit.Filter

	if capID := q.Get("capability"); capID != "" {
		filter.Capability = &capID
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return audit.Filter{}, fault.Validation("since must be an RFC 3339 timestamp")
		}
		filter.Since = &t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return audit.Filter{}, fault.Validation("until must be an RFC 3339 timestamp")
		}
		filter.Until = &t
	}

	return filter, nil
}
