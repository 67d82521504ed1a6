// ABOUTME: Internal sub-tools executed only under a parent research invocation
// ABOUTME: Each applies its own narrow remit check before touching its provider

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/ward-gateway/internal/capability"
	"github.com/2389/ward-gateway/internal/contract"
	"github.com/2389/ward-gateway/internal/provider"
)

// errOutOfRemit marks sub-tool input outside that sub-tool's declared
// purpose. It surfaces only inside the coordinator; callers of Run see a
// whole-invocation failure.
var errOutOfRemit = errors.New("input outside sub-tool remit")

// subTool is one internal execution step. Sub-tools have no registry entry
// and no route; nothing outside this package can invoke them.
type subTool struct {
	name   string
	remit  *contract.Schema
	client *provider.Client
}

func newGatherTool(client *provider.Client) *subTool {
	return &subTool{
		name:   "gather",
		remit:  contract.MustCompile("gather-input", `{"type":"object","additionalProperties":false,"properties":{"query":{"type":"string","minLength":1,"maxLength":500},"max_sources":{"type":"integer","minimum":1,"maximum":5}},"required":["query","max_sources"]}`),
		client: client,
	}
}

func newRatesTool(client *provider.Client) *subTool {
	return &subTool{
		name:   "rates",
		remit:  contract.MustCompile("rates-input", `{"type":"object","additionalProperties":false,"properties":{"currency":{"type":"string","pattern":"^[A-Z]{3}$"}},"required":["currency"]}`),
		client: client,
	}
}

func newComposeTool(client *provider.Client) *subTool {
	return &subTool{
		name:   "compose",
		remit:  contract.MustCompile("compose-input", `{"type":"object","additionalProperties":false,"properties":{"query":{"type":"string","minLength":1},"sources":{"type":"array"},"fx":{"type":"object"}},"required":["query","sources","fx"]}`),
		client: client,
	}
}

// subInvocation records one sub-tool execution. The parent id is mandatory:
// there is no way to build one outside a running invocation.
type subInvocation struct {
	ID       string
	ParentID string
	Name     string
}

func newSubInvocation(parent *capability.Invocation, name string) *subInvocation {
	return &subInvocation{
		ID:       uuid.NewString(),
		ParentID: parent.ID,
		Name:     name,
	}
}

// runSub checks the input against the sub-tool's remit, then calls its
// provider. A remit violation fails the step before any provider call
// happens.
func (c *Coordinator) runSub(ctx context.Context, parent *capability.Invocation, st *subTool, input any) (json.RawMessage, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding %s input: %w", st.name, err)
	}

	if err := st.remit.Validate(raw); err != nil {
		var ve *contract.ValidationError
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("%s: %w: %s", st.name, errOutOfRemit, ve.Detail())
		}
		return nil, fmt.Errorf("%s: %w", st.name, errOutOfRemit)
	}

	sub := newSubInvocation(parent, st.name)
	c.logger.Debug("running sub-tool",
		"sub_tool", sub.Name,
		"sub_invocation_id", sub.ID,
		"invocation_id", sub.ParentID,
	)

	out, err := st.client.Call(ctx, parent.CorrelationID, json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("sub-tool %s: %w", st.name, err)
	}
	return out, nil
}
