// ABOUTME: End-to-end tests for the HTTP API against live provider stubs
// ABOUTME: Covers the envelope, auth uniformity, scope, admission, and stats

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ward-gateway/internal/audit"
	"github.com/2389/ward-gateway/internal/auth"
	"github.com/2389/ward-gateway/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const adviceReplyJSON = `{"answer":"Start by tracking every expense for a month.","disclaimer":"Educational information, not individual advice."}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustToken(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	token, err := auth.NewSecretVerifier([]byte(testSecret)).Generate(subject, expiresIn)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

func writeProviderJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

// adviceRegistry renders a registry file exposing only the advice capability.
func adviceRegistry(adviceURL string) string {
	return fmt.Sprintf(`
[capabilities.advice]
scope_include = ["budget", "saving", "debt", "invest", "tax"]
scope_exclude = ["crypto"]

[capabilities.advice.providers.advice]
url = %q
idempotent_retry = false
`, adviceURL)
}

// fullRegistry renders a registry file exposing advice and research.
func fullRegistry(adviceURL, searchURL, ratesURL, composeURL string) string {
	return adviceRegistry(adviceURL) + fmt.Sprintf(`
[capabilities.research]
scope_include = ["market", "rate", "bond"]

[capabilities.research.providers.search]
url = %q

[capabilities.research.providers.rates]
url = %q

[capabilities.research.providers.compose]
url = %q
`, searchURL, ratesURL, composeURL)
}

func testConfig(t *testing.T, registryTOML string) *config.Config {
	t.Helper()

	dir := t.TempDir()
	registryPath := filepath.Join(dir, "capabilities.toml")
	if err := os.WriteFile(registryPath, []byte(registryTOML), 0644); err != nil {
		t.Fatalf("writing registry file: %v", err)
	}

	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:     "127.0.0.1:0",
			MaxBodyBytes: 1 << 20,
		},
		Auth:         config.AuthConfig{Secret: testSecret},
		Capabilities: config.CapabilitiesConfig{Path: registryPath},
		Audit:        config.AuditConfig{Path: filepath.Join(dir, "audit.db")},
		Dedupe:       config.DedupeConfig{Window: time.Minute, MaxEntries: 128},
	}
}

// newTestGateway builds a gateway over the given registry file content and
// mounts its handler on a test server.
func newTestGateway(t *testing.T, registryTOML string) (*Gateway, *httptest.Server) {
	t.Helper()

	gw, err := New(testConfig(t, registryTOML), discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw, srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token, body string, header map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return b
}

func decodeData(t *testing.T, body []byte) json.RawMessage {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding envelope from %s: %v", body, err)
	}
	if len(env.Data) == 0 {
		t.Fatalf("envelope has no data key: %s", body)
	}
	return env.Data
}

type wireFailure struct {
	Code    string `json:"error"`
	Details string `json:"details"`
}

func decodeFailure(t *testing.T, body []byte) wireFailure {
	t.Helper()
	var env struct {
		Error wireFailure `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding failure envelope from %s: %v", body, err)
	}
	if env.Error.Code == "" {
		t.Fatalf("failure envelope has no error code: %s", body)
	}
	return env.Error
}

func TestAskHappyPath(t *testing.T) {
	var calls atomic.Int64
	var mu sync.Mutex
	var gotRequest map[string]any

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		gotRequest = req
		mu.Unlock()
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"How do I start a budget?"}`, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("response is missing X-Correlation-Id")
	}

	var data struct {
		Answer     string `json:"answer"`
		Disclaimer string `json:"disclaimer"`
	}
	if err := json.Unmarshal(decodeData(t, body), &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data.Answer != "Start by tracking every expense for a month." {
		t.Errorf("answer = %q", data.Answer)
	}
	if data.Disclaimer == "" {
		t.Error("disclaimer is empty")
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotRequest["question"] != "How do I start a budget?" {
		t.Errorf("provider got question %v", gotRequest["question"])
	}
	if gotRequest["locale"] != "en-US" {
		t.Errorf("provider got locale %v, want default en-US", gotRequest["locale"])
	}
}

func TestAskRejectsUnknownField(t *testing.T) {
	var calls atomic.Int64
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"Help me budget","urgent":true}`, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	fail := decodeFailure(t, body)
	if fail.Code != "validation_error" {
		t.Errorf("code = %q, want validation_error", fail.Code)
	}
	if !strings.Contains(fail.Details, "urgent") {
		t.Errorf("details %q does not name the offending field", fail.Details)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0", got)
	}
}

func TestAskOutOfScope(t *testing.T) {
	var calls atomic.Int64
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)

	tests := []struct {
		name    string
		body    string
		details string
	}{
		{
			name:    "no topic match",
			body:    `{"question":"Recommend a good movie for tonight"}`,
			details: "matches no declared topic",
		},
		{
			name:    "excluded term wins",
			body:    `{"question":"Should my budget include crypto trading?"}`,
			details: "excluded term",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, tt.body, nil)
			body := readAll(t, resp)

			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", resp.StatusCode, body)
			}
			fail := decodeFailure(t, body)
			if fail.Code != "out_of_scope" {
				t.Errorf("code = %q, want out_of_scope", fail.Code)
			}
			if !strings.Contains(fail.Details, tt.details) {
				t.Errorf("details = %q, want substring %q", fail.Details, tt.details)
			}
		})
	}

	if got := calls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0", got)
	}
}

func TestAuthRejectionIsUniform(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))

	expired := mustToken(t, "member-1", -time.Hour)

	var bodies [][]byte
	for _, token := range []string{"", "not-a-jwt", expired} {
		resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, nil)
		body := readAll(t, resp)

		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d, want 401", token, resp.StatusCode)
		}
		if resp.Header.Get("X-Correlation-Id") == "" {
			t.Error("401 response is missing X-Correlation-Id")
		}
		bodies = append(bodies, body)
	}

	fail := decodeFailure(t, bodies[0])
	if fail.Code != "unauthenticated" {
		t.Errorf("code = %q, want unauthenticated", fail.Code)
	}

	// Missing, malformed, and expired tokens must be indistinguishable.
	for i := 1; i < len(bodies); i++ {
		if !bytes.Equal(bodies[0], bodies[i]) {
			t.Errorf("rejection body %d differs: %s vs %s", i, bodies[0], bodies[i])
		}
	}
}

func TestAskProviderMalformedOutput(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, `{"advice":"no answer field here"}`)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	fail := decodeFailure(t, body)
	if fail.Code != "contract_violation" {
		t.Errorf("code = %q, want contract_violation", fail.Code)
	}
	if fail.Details != "capability returned a malformed result" {
		t.Errorf("details = %q, want the generic contract message", fail.Details)
	}
}

func TestAskProviderFailure(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if fail := decodeFailure(t, body); fail.Code != "capability_failure" {
		t.Errorf("code = %q, want capability_failure", fail.Code)
	}
}

func TestAskRequestBodyTooLarge(t *testing.T) {
	var calls atomic.Int64
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)

	oversized := strings.Repeat("a", 2<<20)
	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, oversized, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	fail := decodeFailure(t, body)
	if fail.Code != "validation_error" {
		t.Errorf("code = %q, want validation_error", fail.Code)
	}
	if !strings.Contains(fail.Details, "size limit") {
		t.Errorf("details = %q", fail.Details)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0", got)
	}
}

func newResearchProviders(t *testing.T) (searchURL, ratesURL, composeURL string, composeCalls *atomic.Int64) {
	t.Helper()

	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, `{"results":[{"title":"Bond market overview","url":"https://example.com/bonds","snippet":"Yields rose across maturities."}]}`)
	}))
	t.Cleanup(search.Close)

	rates := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, `{"base":"USD","quote":"EUR","rate":0.91}`)
	}))
	t.Cleanup(rates.Close)

	var calls atomic.Int64
	compose := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeProviderJSON(w, `{"markdown":"# Market summary\n\nYields rose while the euro held steady."}`)
	}))
	t.Cleanup(compose.Close)

	return search.URL, rates.URL, compose.URL, &calls
}

func TestResearchHappyPath(t *testing.T) {
	advice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer advice.Close()
	searchURL, ratesURL, composeURL, composeCalls := newResearchProviders(t)

	_, srv := newTestGateway(t, fullRegistry(advice.URL, searchURL, ratesURL, composeURL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/research", token, `{"query":"bond market rates this quarter"}`, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var data struct {
		Summary     string `json:"summary"`
		SummaryHTML string `json:"summary_html"`
		Sources     []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"sources"`
		FX struct {
			Base  string  `json:"base"`
			Quote string  `json:"quote"`
			Rate  float64 `json:"rate"`
		} `json:"fx"`
	}
	if err := json.Unmarshal(decodeData(t, body), &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}

	if !strings.HasPrefix(data.Summary, "# Market summary") {
		t.Errorf("summary = %q", data.Summary)
	}
	if !strings.Contains(data.SummaryHTML, "<h1>") {
		t.Errorf("summary_html = %q, want rendered heading", data.SummaryHTML)
	}
	if len(data.Sources) != 1 || data.Sources[0].Title != "Bond market overview" {
		t.Errorf("sources = %+v", data.Sources)
	}
	if data.FX.Base != "USD" || data.FX.Quote != "EUR" || data.FX.Rate != 0.91 {
		t.Errorf("fx = %+v", data.FX)
	}
	if got := composeCalls.Load(); got != 1 {
		t.Errorf("compose calls = %d, want 1", got)
	}
}

func TestResearchSubToolFailureIsAtomic(t *testing.T) {
	advice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer advice.Close()

	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, `{"results":[]}`)
	}))
	defer search.Close()

	rates := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer rates.Close()

	var composeCalls atomic.Int64
	compose := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		composeCalls.Add(1)
		writeProviderJSON(w, `{"markdown":"# Summary"}`)
	}))
	defer compose.Close()

	_, srv := newTestGateway(t, fullRegistry(advice.URL, search.URL, rates.URL, compose.URL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/research", token, `{"query":"bond market rates"}`, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if fail := decodeFailure(t, body); fail.Code != "capability_failure" {
		t.Errorf("code = %q, want capability_failure", fail.Code)
	}
	if bytes.Contains(body, []byte(`"data"`)) {
		t.Errorf("failure response carries partial data: %s", body)
	}
	if got := composeCalls.Load(); got != 0 {
		t.Errorf("compose calls = %d, want 0 after sibling failure", got)
	}
}

func TestBackpressure(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int64

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	registry := fmt.Sprintf(`
[capabilities.advice]
max_concurrent = 1
queue_wait = "20ms"
scope_include = ["budget"]

[capabilities.advice.providers.advice]
url = %q
`, provider.URL)

	_, srv := newTestGateway(t, registry)
	token := mustToken(t, "member-1", time.Hour)

	firstDone := make(chan int, 1)
	go func() {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/ask", strings.NewReader(`{"question":"budget help"}`))
		if err != nil {
			firstDone <- 0
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := srv.Client().Do(req)
		if err != nil {
			firstDone <- 0
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		firstDone <- resp.StatusCode
	}()

	// Wait until the first request holds the admission slot.
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first request never reached the provider")
	}

	start := time.Now()
	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if fail := decodeFailure(t, body); fail.Code != "backpressure" {
		t.Errorf("code = %q, want backpressure", fail.Code)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("rejection took %v, want a brief bounded wait", elapsed)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1 while slot is held", got)
	}

	close(release)
	if status := <-firstDone; status != http.StatusOK {
		t.Errorf("first request status = %d, want 200", status)
	}
}

func TestIdempotencyKeyReplay(t *testing.T) {
	var calls atomic.Int64
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)
	otherToken := mustToken(t, "member-2", time.Hour)
	header := map[string]string{"Idempotency-Key": "client-retry-1"}

	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, header)
	_ = readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, header)
	body := readAll(t, resp)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("replay status = %d, body %s", resp.StatusCode, body)
	}
	if fail := decodeFailure(t, body); fail.Code != "backpressure" {
		t.Errorf("code = %q, want backpressure", fail.Code)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1 after replay", got)
	}

	// The same key from a different subject is not a replay.
	resp = doRequest(t, srv, http.MethodPost, "/api/ask", otherToken, `{"question":"budget help"}`, header)
	_ = readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("other subject status = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestUsageStats(t *testing.T) {
	var malformed atomic.Bool
	advice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if malformed.Load() {
			writeProviderJSON(w, `{"wrong":"shape"}`)
			return
		}
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer advice.Close()
	searchURL, ratesURL, composeURL, _ := newResearchProviders(t)

	_, srv := newTestGateway(t, fullRegistry(advice.URL, searchURL, ratesURL, composeURL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, nil)
	_ = readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed request status = %d", resp.StatusCode)
	}

	malformed.Store(true)
	resp = doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, nil)
	_ = readAll(t, resp)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("seed fault status = %d", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/stats/usage", token, "", nil)
	body := readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, body %s", resp.StatusCode, body)
	}

	var stats []audit.CapabilityStats
	if err := json.Unmarshal(decodeData(t, body), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("stats rows = %d, want 1: %+v", len(stats), stats)
	}
	if stats[0].Capability != "advice" || stats[0].Invocations != 2 || stats[0].Faults != 1 {
		t.Errorf("advice stats = %+v", stats[0])
	}

	// Filtering on an uninvoked capability yields an empty array, not null.
	resp = doRequest(t, srv, http.MethodGet, "/api/stats/usage?capability=research", token, "", nil)
	body = readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filtered stats status = %d", resp.StatusCode)
	}
	if data := decodeData(t, body); string(data) != "[]" {
		t.Errorf("filtered stats data = %s, want []", data)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/stats/usage?since=yesterday", token, "", nil)
	body = readAll(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", resp.StatusCode)
	}
	if fail := decodeFailure(t, body); fail.Code != "validation_error" {
		t.Errorf("code = %q, want validation_error", fail.Code)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/stats/usage", "", "", nil)
	_ = readAll(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated stats status = %d, want 401", resp.StatusCode)
	}
}

func TestCorrelationIDPropagation(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`,
		map[string]string{"X-Correlation-Id": "retry-7f3a"})
	_ = readAll(t, resp)
	if got := resp.Header.Get("X-Correlation-Id"); got != "retry-7f3a" {
		t.Errorf("correlation id = %q, want the client-sent id", got)
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, nil)
	_ = readAll(t, resp)
	if _, err := uuid.Parse(resp.Header.Get("X-Correlation-Id")); err != nil {
		t.Errorf("generated correlation id %q is not a UUID", resp.Header.Get("X-Correlation-Id"))
	}

	// Correlation ids stay out of response bodies.
	resp = doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`,
		map[string]string{"X-Correlation-Id": "needle-d41d8cd9"})
	body := readAll(t, resp)
	if bytes.Contains(body, []byte("needle-d41d8cd9")) {
		t.Errorf("correlation id leaked into body: %s", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	_, srv := newTestGateway(t, adviceRegistry(provider.URL))
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodGet, "/api/ask", token, "", nil)
	_ = readAll(t, resp)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/ask status = %d, want 405", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/stats/usage", token, "", nil)
	_ = readAll(t, resp)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/stats/usage status = %d, want 405", resp.StatusCode)
	}
}

func TestDisabledCapability(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProviderJSON(w, adviceReplyJSON)
	}))
	defer provider.Close()

	registry := fmt.Sprintf(`
[capabilities.advice]
enabled = false
scope_include = ["budget"]

[capabilities.advice.providers.advice]
url = %q
`, provider.URL)

	_, srv := newTestGateway(t, registry)
	token := mustToken(t, "member-1", time.Hour)

	resp := doRequest(t, srv, http.MethodPost, "/api/ask", token, `{"question":"budget help"}`, nil)
	body := readAll(t, resp)

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if fail := decodeFailure(t, body); fail.Code != "capability_unavailable" {
		t.Errorf("code = %q, want capability_unavailable", fail.Code)
	}
}
