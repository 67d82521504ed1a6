// ABOUTME: HTTP client for capability providers with output validation
// ABOUTME: One bounded retry on transport errors, idempotent providers only

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/ward-gateway/internal/contract"
)

// maxResponseBytes caps how much of a provider response is read. Providers
// are bounded tools, not streams.
const maxResponseBytes = 1 << 20

// Config configures one provider endpoint.
type Config struct {
	Name   string           // provider name for logs and errors
	URL    string           // endpoint accepting POSTed JSON input
	Output *contract.Schema // schema the provider's output must satisfy
	Retry  bool             // one retry on transport errors; set only for idempotent providers
}

// Client invokes a single provider endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for one provider. The HTTP client carries a hard
// timeout as a backstop; per-call deadlines come from the caller's context.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "provider", "provider", cfg.Name),
	}
}

// Name returns the provider's configured name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Call posts input to the provider and returns its schema-validated output.
// The correlation id travels as a header so provider logs line up with
// gateway logs.
func (c *Client) Call(ctx context.Context, correlationID string, input any) (json.RawMessage, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding input for %s: %w", c.cfg.Name, err)
	}

	resp, err := c.do(ctx, correlationID, body)
	if err != nil {
		if !c.retryable(ctx, err) {
			return nil, fmt.Errorf("calling %s: %w", c.cfg.Name, err)
		}
		c.logger.Warn("transport error, retrying once", "correlation_id", correlationID)
		resp, err = c.do(ctx, correlationID, body)
		if err != nil {
			return nil, fmt.Errorf("calling %s (after retry): %w", c.cfg.Name, err)
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// The provider's error body may quote the input. Drain it for
		// connection reuse and drop it.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%s returned status %d", c.cfg.Name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", c.cfg.Name, err)
	}
	if len(raw) > maxResponseBytes {
		return nil, fmt.Errorf("%s response exceeds %d bytes", c.cfg.Name, maxResponseBytes)
	}

	if err := c.cfg.Output.Validate(raw); err != nil {
		return nil, fmt.Errorf("%s output: %w", c.cfg.Name, err)
	}

	return raw, nil
}

// do performs one HTTP exchange.
func (c *Client) do(ctx context.Context, correlationID string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID)

	return c.httpClient.Do(req)
}

// retryable reports whether err is a transport failure eligible for the
// single retry. Once any HTTP response exists, or the caller's context is
// done, retrying is off the table.
func (c *Client) retryable(ctx context.Context, err error) bool {
	if !c.cfg.Retry {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// IsOutputViolation reports whether err came from output schema validation,
// as opposed to transport or provider status failures.
func IsOutputViolation(err error) bool {
	var ve *contract.ValidationError
	return errors.As(err, &ve)
}
