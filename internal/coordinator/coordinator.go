// ABOUTME: The research coordinator driving gather, rates, and compose sub-tools
// ABOUTME: Joins concurrent sub-tool results into one contract-shaped reply

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/2389/ward-gateway/internal/capability"
	"github.com/2389/ward-gateway/internal/fault"
	"github.com/2389/ward-gateway/internal/provider"
)

const defaultMaxSources = 3

// Config holds the provider clients behind the three sub-tools.
type Config struct {
	Gather  *provider.Client
	Rates   *provider.Client
	Compose *provider.Client
}

// Coordinator runs the fixed research plan.
type Coordinator struct {
	gather  *subTool
	rates   *subTool
	compose *subTool
	logger  *slog.Logger
}

// New builds the research coordinator from its provider clients.
func New(cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if cfg.Gather == nil || cfg.Rates == nil || cfg.Compose == nil {
		return nil, errors.New("coordinator requires gather, rates, and compose providers")
	}
	return &Coordinator{
		gather:  newGatherTool(cfg.Gather),
		rates:   newRatesTool(cfg.Rates),
		compose: newComposeTool(cfg.Compose),
		logger:  logger.With("component", "coordinator"),
	}, nil
}

type researchRequest struct {
	Query      string `json:"query"`
	MaxSources int    `json:"max_sources"`
}

type source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type gatherInput struct {
	Query      string `json:"query"`
	MaxSources int    `json:"max_sources"`
}

type gatherResult struct {
	Results []source `json:"results"`
}

type ratesInput struct {
	Currency string `json:"currency"`
}

type fxResult struct {
	Base  string  `json:"base"`
	Quote string  `json:"quote"`
	Rate  float64 `json:"rate"`
}

type composeInput struct {
	Query   string   `json:"query"`
	Sources []source `json:"sources"`
	FX      fxResult `json:"fx"`
}

type composeResult struct {
	Markdown string `json:"markdown"`
}

type researchResult struct {
	Summary     string   `json:"summary"`
	SummaryHTML string   `json:"summary_html"`
	Sources     []source `json:"sources"`
	FX          fxResult `json:"fx"`
}

// Run is the handler for the research capability. gather and rates read
// disjoint slices of the invocation, so they run concurrently and join
// before compose, which needs both. Any sub-tool failure fails the whole
// invocation; nothing partial comes back.
func (c *Coordinator) Run(ctx context.Context, inv *capability.Invocation, input json.RawMessage) (json.RawMessage, error) {
	var req researchRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fault.Failure(inv.Capability, fmt.Errorf("decoding research input: %w", err))
	}
	if req.MaxSources == 0 {
		req.MaxSources = defaultMaxSources
	}

	var gathered gatherResult
	var fx fxResult

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		out, err := c.runSub(egCtx, inv, c.gather, gatherInput{Query: req.Query, MaxSources: req.MaxSources})
		if err != nil {
			return err
		}
		return json.Unmarshal(out, &gathered)
	})
	eg.Go(func() error {
		out, err := c.runSub(egCtx, inv, c.rates, ratesInput{Currency: inv.Profile.Currency})
		if err != nil {
			return err
		}
		return json.Unmarshal(out, &fx)
	})
	if err := eg.Wait(); err != nil {
		return nil, fault.Failure(inv.Capability, err)
	}

	sources := gathered.Results
	if sources == nil {
		sources = []source{}
	}

	out, err := c.runSub(ctx, inv, c.compose, composeInput{Query: req.Query, Sources: sources, FX: fx})
	if err != nil {
		return nil, fault.Failure(inv.Capability, err)
	}
	var composed composeResult
	if err := json.Unmarshal(out, &composed); err != nil {
		return nil, fault.Failure(inv.Capability, fmt.Errorf("decoding compose output: %w", err))
	}

	html, err := renderHTML(composed.Markdown)
	if err != nil {
		return nil, fault.Failure(inv.Capability, fmt.Errorf("rendering summary: %w", err))
	}

	return json.Marshal(researchResult{
		Summary:     composed.Markdown,
		SummaryHTML: html,
		Sources:     sources,
		FX:          fx,
	})
}
