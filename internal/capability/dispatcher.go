// ABOUTME: The dispatch pipeline from validated identity to capability result
// ABOUTME: Enforces contracts, scope, admission windows, deadlines, and auditing

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/2389/ward-gateway/internal/audit"
	"github.com/2389/ward-gateway/internal/auth"
	"github.com/2389/ward-gateway/internal/contract"
	"github.com/2389/ward-gateway/internal/fault"
	"github.com/2389/ward-gateway/internal/profile"
	"github.com/2389/ward-gateway/internal/provider"
	"github.com/2389/ward-gateway/internal/scope"
)

// Auditor records completed invocations.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Dispatcher admits, scopes, and runs capability invocations. All state is
// fixed at construction; per-request work shares nothing but the semaphores.
type Dispatcher struct {
	registry   *Registry
	classifier *scope.Classifier
	profiles   profile.Source
	trail      Auditor
	logger     *slog.Logger
	sems       map[string]*semaphore.Weighted
}

// NewDispatcher wires the dispatch pipeline. profiles and trail may be nil
// when principal-context enrichment or auditing is not deployed.
func NewDispatcher(registry *Registry, profiles profile.Source, trail Auditor, logger *slog.Logger) (*Dispatcher, error) {
	classifier, err := scope.NewClassifier(registry.ScopeRules())
	if err != nil {
		return nil, fmt.Errorf("building scope classifier: %w", err)
	}

	sems := make(map[string]*semaphore.Weighted, len(registry.caps))
	for id, c := range registry.caps {
		sems[id] = semaphore.NewWeighted(c.Settings.MaxConcurrent)
	}

	return &Dispatcher{
		registry:   registry,
		classifier: classifier,
		profiles:   profiles,
		trail:      trail,
		logger:     logger.With("component", "dispatcher"),
		sems:       sems,
	}, nil
}

// Dispatch runs one capability invocation for the verified principal. The
// body is validated against the capability's request contract and scope rules
// before any admission or provider work happens; the result is validated
// against the response contract before it is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, capabilityID string, principal *auth.Principal, correlationID string, body []byte) (json.RawMessage, *fault.Fault) {
	c := d.registry.Get(capabilityID)
	if c == nil {
		return nil, fault.Unavailable(capabilityID, ErrUnknownCapability)
	}
	if !c.Settings.Enabled {
		return nil, fault.Unavailable(capabilityID, ErrDisabled)
	}

	if err := c.Request.Validate(body); err != nil {
		var ve *contract.ValidationError
		if errors.As(err, &ve) {
			return nil, fault.Validation(ve.Detail())
		}
		return nil, fault.Validation(err.Error())
	}

	if ok, reason := d.classifier.Check(capabilityID, scopeText(body, c.ScopeField)); !ok {
		return nil, fault.OutOfScope(capabilityID, reason)
	}

	sem := d.sems[capabilityID]
	waitCtx, cancelWait := context.WithTimeout(ctx, c.Settings.QueueWait)
	err := sem.Acquire(waitCtx, 1)
	cancelWait()
	if err != nil {
		return nil, fault.Backpressure(capabilityID)
	}
	defer sem.Release(1)

	invCtx, cancel := context.WithTimeout(ctx, c.Settings.Timeout)
	defer cancel()

	inv := &Invocation{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		Capability:    capabilityID,
		Subject:       principal.Subject,
		Profile:       d.fetchProfile(invCtx, principal.Subject),
		StartedAt:     time.Now(),
	}

	raw, err := c.Handler(invCtx, inv, body)
	if err != nil {
		f := classify(capabilityID, err)
		d.record(inv, string(f.Kind))
		return nil, f
	}

	if err := c.Response.Validate(raw); err != nil {
		f := fault.Contract(capabilityID, err)
		d.record(inv, string(f.Kind))
		return nil, f
	}

	d.record(inv, audit.OutcomeOK)
	return raw, nil
}

func classify(capabilityID string, err error) *fault.Fault {
	var f *fault.Fault
	if errors.As(err, &f) {
		return f
	}
	if provider.IsOutputViolation(err) {
		return fault.Contract(capabilityID, err)
	}
	return fault.Failure(capabilityID, err)
}

func (d *Dispatcher) fetchProfile(ctx context.Context, subject string) profile.Profile {
	if d.profiles == nil {
		return profile.Defaults()
	}
	p, err := d.profiles.Fetch(ctx, subject)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			d.logger.Warn("profile fetch failed", "error", err)
		}
		return profile.Defaults()
	}
	return p
}

// record writes the audit entry under a fresh context so a canceled request
// still lands in the trail.
func (d *Dispatcher) record(inv *Invocation, outcome string) {
	if d.trail == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	e := audit.Entry{
		InvocationID:  inv.ID,
		CorrelationID: inv.CorrelationID,
		Capability:    inv.Capability,
		Subject:       inv.Subject,
		Outcome:       outcome,
		Duration:      time.Since(inv.StartedAt),
		At:            inv.StartedAt,
	}
	if err := d.trail.Record(ctx, e); err != nil {
		d.logger.Warn("audit record failed", "error", err, "invocation_id", inv.ID)
	}
}

// scopeText pulls the declared scope field out of an already-validated
// payload. A missing or non-string field yields "", which the classifier
// rejects.
func scopeText(body []byte, field string) string {
	if field == "" {
		return ""
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	var text string
	if err := json.Unmarshal(payload[field], &text); err != nil {
		return ""
	}
	return text
}
