// ABOUTME: The advice leaf capability backed by the advice provider
// ABOUTME: Reshapes provider output to the strict response contract

package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/ward-gateway/internal/provider"
)

type adviceProviderRequest struct {
	Question string `json:"question"`
	Topic    string `json:"topic,omitempty"`
	Locale   string `json:"locale"`
}

// adviceReply is the client-facing shape. Decoding into it drops whatever
// extra fields the provider sent alongside.
type adviceReply struct {
	Answer     string `json:"answer"`
	Disclaimer string `json:"disclaimer"`
}

// AdviceDefinition declares the advice leaf capability backed by the given
// provider client.
func AdviceDefinition(p *provider.Client) Definition {
	return Definition{
		ID:         "advice",
		Kind:       KindLeaf,
		Request:    askRequestSchema,
		Response:   askResponseSchema,
		ScopeField: "question",
		Handler:    NewAdviceHandler(p),
	}
}

// ResearchDefinition declares the coordinator-backed research capability.
// The handler comes from the coordinator package.
func ResearchDefinition(h Handler) Definition {
	return Definition{
		ID:         "research",
		Kind:       KindCoordinated,
		Request:    researchRequestSchema,
		Response:   researchResponseSchema,
		ScopeField: "query",
		Handler:    h,
	}
}

// NewAdviceHandler returns the leaf handler for the advice capability. The
// provider client has already validated the raw output against
// AdviceProviderSchema; the handler reshapes it for the client.
func NewAdviceHandler(p *provider.Client) Handler {
	return func(ctx context.Context, inv *Invocation, input json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Question string `json:"question"`
			Topic    string `json:"topic"`
		}
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, fmt.Errorf("decoding advice input: %w", err)
		}

		out, err := p.Call(ctx, inv.CorrelationID, adviceProviderRequest{
			Question: req.Question,
			Topic:    req.Topic,
			Locale:   inv.Profile.Locale,
		})
		if err != nil {
			return nil, err
		}

		var reply adviceReply
		if err := json.Unmarshal(out, &reply); err != nil {
			return nil, fmt.Errorf("decoding advice provider output: %w", err)
		}
		return json.Marshal(reply)
	}
}
