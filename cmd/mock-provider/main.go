// ABOUTME: Minimal mock provider for E2E testing — serves canned JSON for every capability endpoint.
// ABOUTME: Usage: mock-provider [-addr 127.0.0.1:9101] [-latency 50ms]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9101", "HTTP listen address")
	latency := flag.Duration("latency", 50*time.Millisecond, "Simulated work per request")
	flag.Parse()

	if err := run(*addr, *latency); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, latency time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	p := &mockProvider{latency: latency}

	mux := http.NewServeMux()
	mux.HandleFunc("/advice", p.handleAdvice)
	mux.HandleFunc("/search", p.handleSearch)
	mux.HandleFunc("/rates", p.handleRates)
	mux.HandleFunc("/compose", p.handleCompose)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("mock provider listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

type mockProvider struct {
	latency time.Duration
}

// decode reads one JSON request and logs it the way the gateway will see it
// in traces: endpoint plus correlation id.
func (p *mockProvider) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("%s: bad request: %v", r.URL.Path, err)
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	log.Printf("%s [%s]", r.URL.Path, r.Header.Get("X-Correlation-Id"))
	time.Sleep(p.latency)
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func (p *mockProvider) handleAdvice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Topic    string `json:"topic"`
		Locale   string `json:"locale"`
	}
	if !p.decode(w, r, &req) {
		return
	}

	writeJSON(w, map[string]string{
		"answer":     adviceFor(req.Question),
		"disclaimer": "Educational information, not individual financial advice.",
	})
}

// adviceFor keys a canned answer off the question so E2E flows exercise more
// than one response shape.
func adviceFor(question string) string {
	lower := strings.ToLower(question)
	switch {
	case strings.Contains(lower, "debt"):
		return "List every balance with its interest rate and pay the highest rate first while making minimums on the rest."
	case strings.Contains(lower, "invest") || strings.Contains(lower, "retirement"):
		return "A broad, low-cost index fund held for decades beats trying to time the market. Max out tax-advantaged accounts first."
	case strings.Contains(lower, "save") || strings.Contains(lower, "saving"):
		return "Automate a transfer on payday, even a small one. Savings that require a decision every month rarely survive."
	default:
		return "Start by tracking every expense for a month. A budget you can see is a budget you can change."
	}
}

func (p *mockProvider) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query      string `json:"query"`
		MaxSources int    `json:"max_sources"`
	}
	if !p.decode(w, r, &req) {
		return
	}

	canned := []map[string]string{
		{
			"title":   "Market overview: " + req.Query,
			"url":     "https://example.com/research/overview",
			"snippet": "A broad look at recent movements relevant to " + req.Query + ".",
		},
		{
			"title":   "Historical context for " + req.Query,
			"url":     "https://example.com/research/history",
			"snippet": "How similar conditions have played out over prior cycles.",
		},
		{
			"title":   "Analyst commentary",
			"url":     "https://example.com/research/commentary",
			"snippet": "Three analysts weigh in on where " + req.Query + " goes next.",
		},
	}

	n := req.MaxSources
	if n <= 0 || n > len(canned) {
		n = len(canned)
	}
	writeJSON(w, map[string]any{"results": canned[:n]})
}

func (p *mockProvider) handleRates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency string `json:"currency"`
	}
	if !p.decode(w, r, &req) {
		return
	}

	base := strings.ToUpper(req.Currency)
	if base == "" {
		base = "USD"
	}
	quote := "EUR"
	rate := 0.91
	if base == "EUR" {
		quote = "USD"
		rate = 1.10
	}

	writeJSON(w, map[string]any{"base": base, "quote": quote, "rate": rate})
}

func (p *mockProvider) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query   string `json:"query"`
		Sources []struct {
			Title string `json:"title"`
		} `json:"sources"`
		FX struct {
			Base  string  `json:"base"`
			Quote string  `json:"quote"`
			Rate  float64 `json:"rate"`
		} `json:"fx"`
	}
	if !p.decode(w, r, &req) {
		return
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# Research summary: %s\n\n", req.Query)
	md.WriteString("Conditions held broadly steady over the period reviewed.\n")
	if len(req.Sources) > 0 {
		md.WriteString("\n## Sources consulted\n\n")
		for _, s := range req.Sources {
			fmt.Fprintf(&md, "- %s\n", s.Title)
		}
	}
	fmt.Fprintf(&md, "\n*1 %s = %.2f %s at time of writing.*\n", req.FX.Base, req.FX.Rate, req.FX.Quote)

	writeJSON(w, map[string]string{"markdown": md.String()})
}
