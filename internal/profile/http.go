// ABOUTME: HTTP client for the member profile service
// ABOUTME: 404 means no profile; every other failure surfaces to the caller

package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource fetches profiles from the member profile service.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSource creates a source reading from baseURL. The profile lives at
// GET {baseURL}/profiles/{subject}.
func NewHTTPSource(baseURL string, logger *slog.Logger) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger.With("component", "profile.http"),
	}
}

// Fetch retrieves and sanitizes the subject's profile.
func (s *HTTPSource) Fetch(ctx context.Context, subject string) (Profile, error) {
	endpoint := s.baseURL + "/profiles/" + url.PathEscape(subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetching profile: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Profile{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return Profile{}, fmt.Errorf("profile service returned %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decoding profile: %w", err)
	}

	return sanitize(p), nil
}
