// ABOUTME: Core capability types shared by the registry and dispatcher
// ABOUTME: Defines capability kinds, definitions, handlers, and invocation records

package capability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/2389/ward-gateway/internal/contract"
	"github.com/2389/ward-gateway/internal/profile"
)

// Kind distinguishes how a capability produces its result.
type Kind string

const (
	// KindLeaf calls a single provider.
	KindLeaf Kind = "leaf"
	// KindCoordinated drives internal sub-tools through a coordinator.
	KindCoordinated Kind = "coordinated"
)

// Handler produces the capability result for one admitted invocation. The
// input has already passed the request contract; the returned message must
// satisfy the response contract.
type Handler func(ctx context.Context, inv *Invocation, input json.RawMessage) (json.RawMessage, error)

// Definition is the code-side declaration of a capability. The registry file
// decides which definitions are exposed and under what limits.
type Definition struct {
	ID       string
	Kind     Kind
	Request  *contract.Schema
	Response *contract.Schema

	// ScopeField names the request field whose text the scope classifier
	// examines before dispatch.
	ScopeField string

	Handler Handler
}

// Invocation is the context a handler runs under. Every field derives from
// the verified principal and the gateway itself, never from the request
// payload.
type Invocation struct {
	ID            string
	CorrelationID string
	Capability    string
	Subject       string
	Profile       profile.Profile
	StartedAt     time.Time
}
