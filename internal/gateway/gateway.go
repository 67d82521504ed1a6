// ABOUTME: Gateway orchestrator that assembles the dispatch pipeline and HTTP server
// ABOUTME: Manages listeners (TCP or Tailscale), health endpoints, and shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/ward-gateway/internal/audit"
	"github.com/2389/ward-gateway/internal/auth"
	"github.com/2389/ward-gateway/internal/capability"
	"github.com/2389/ward-gateway/internal/config"
	"github.com/2389/ward-gateway/internal/contract"
	"github.com/2389/ward-gateway/internal/coordinator"
	"github.com/2389/ward-gateway/internal/dedupe"
	"github.com/2389/ward-gateway/internal/fault"
	"github.com/2389/ward-gateway/internal/profile"
	"github.com/2389/ward-gateway/internal/provider"
)

// Gateway owns the trust-boundary pipeline: the capability registry, the
// dispatcher, the audit trail, replay suppression, and the HTTP server that
// fronts them.
type Gateway struct {
	config     *config.Config
	registry   *capability.Registry
	dispatcher *capability.Dispatcher
	trail      *audit.Trail
	guard      *dedupe.Guard
	reporter   *fault.Reporter
	logger     *slog.Logger

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	// profileCloser is non-nil when the profile source holds resources
	profileCloser io.Closer
}

// newVerifier selects the token verifier from config: a remote keyset when
// one is configured, the shared secret otherwise.
func newVerifier(cfg *config.Config, logger *slog.Logger) auth.TokenVerifier {
	if cfg.Auth.KeysetURL != "" {
		logger.Info("token verification via remote keyset", "keyset_url", cfg.Auth.KeysetURL, "issuer", cfg.Auth.Issuer)
		return auth.NewKeysetVerifier(cfg.Auth.KeysetURL, cfg.Auth.Issuer, logger)
	}
	logger.Info("token verification via shared secret")
	return auth.NewSecretVerifier([]byte(cfg.Auth.Secret))
}

// newProfileSource creates the principal-context source selected by config.
// The returned closer is non-nil when the source holds resources.
func newProfileSource(cfg *config.Config, logger *slog.Logger) (profile.Source, io.Closer, error) {
	switch cfg.Profiles.Mode {
	case "", "none":
		logger.Info("profile source disabled, invocation defaults apply")
		return nil, nil, nil
	case "http":
		return profile.NewHTTPSource(cfg.Profiles.BaseURL, logger), nil, nil
	case "sqlite":
		src, err := profile.NewSQLiteSource(cfg.Profiles.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening profile database: %w", err)
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("unknown profiles.mode %q", cfg.Profiles.Mode)
	}
}

// buildDefinitions constructs the built-in capability definitions for every
// capability the registry file configures. Each definition gets its provider
// clients from the file's provider table.
func buildDefinitions(settings map[string]capability.Settings, logger *slog.Logger) ([]capability.Definition, error) {
	var defs []capability.Definition

	if s, ok := settings["advice"]; ok {
		ps, ok := s.Providers["advice"]
		if !ok {
			return nil, errors.New("capabilities.advice.providers.advice is required")
		}
		client := provider.New(provider.Config{
			Name:   "advice",
			URL:    ps.URL,
			Output: capability.AdviceProviderSchema,
			Retry:  ps.Retry,
		}, logger)
		defs = append(defs, capability.AdviceDefinition(client))
	}

	if s, ok := settings["research"]; ok {
		coord, err := buildCoordinator(s, logger)
		if err != nil {
			return nil, err
		}
		defs = append(defs, capability.ResearchDefinition(coord.Run))
	}

	return defs, nil
}

// buildCoordinator wires the three research sub-tool providers.
func buildCoordinator(s capability.Settings, logger *slog.Logger) (*coordinator.Coordinator, error) {
	clientFor := func(name string, output *contract.Schema) (*provider.Client, error) {
		ps, ok := s.Providers[name]
		if !ok {
			return nil, fmt.Errorf("capabilities.research.providers.%s is required", name)
		}
		return provider.New(provider.Config{
			Name:   name,
			URL:    ps.URL,
			Output: output,
			Retry:  ps.Retry,
		}, logger), nil
	}

	gather, err := clientFor("search", coordinator.SearchProviderSchema)
	if err != nil {
		return nil, err
	}
	rates, err := clientFor("rates", coordinator.RatesProviderSchema)
	if err != nil {
		return nil, err
	}
	compose, err := clientFor("compose", coordinator.ComposeProviderSchema)
	if err != nil {
		return nil, err
	}

	return coordinator.New(coordinator.Config{
		Gather:  gather,
		Rates:   rates,
		Compose: compose,
	}, logger)
}

// New creates a Gateway from the given configuration. The capability
// registry file is loaded once here; the allow-list never changes while the
// gateway runs.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	settings, err := capability.LoadSettings(cfg.Capabilities.Path)
	if err != nil {
		return nil, fmt.Errorf("loading capability registry: %w", err)
	}

	defs, err := buildDefinitions(settings, logger)
	if err != nil {
		return nil, err
	}

	registry, err := capability.NewRegistry(defs, settings)
	if err != nil {
		return nil, fmt.Errorf("building capability registry: %w", err)
	}

	trail, err := audit.NewTrail(cfg.Audit.Path)
	if err != nil {
		return nil, err
	}

	profiles, profileCloser, err := newProfileSource(cfg, logger)
	if err != nil {
		_ = trail.Close()
		return nil, err
	}

	dispatcher, err := capability.NewDispatcher(registry, profiles, trail, logger)
	if err != nil {
		_ = trail.Close()
		if profileCloser != nil {
			_ = profileCloser.Close()
		}
		return nil, err
	}

	gw := &Gateway{
		config:        cfg,
		registry:      registry,
		dispatcher:    dispatcher,
		trail:         trail,
		guard:         dedupe.NewGuard(cfg.Dedupe.Window, cfg.Dedupe.MaxEntries),
		reporter:      fault.NewReporter(logger),
		logger:        logger.With("component", "gateway"),
		profileCloser: profileCloser,
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// API endpoints - every route below requires a verified bearer token
	authMiddleware := auth.Middleware(newVerifier(cfg, logger), gw.rejectUnauthenticated)
	mux.Handle("/api/ask", authMiddleware(http.HandlerFunc(gw.handleAsk)))
	mux.Handle("/api/research", authMiddleware(http.HandlerFunc(gw.handleResearch)))
	mux.Handle("/api/stats/usage", authMiddleware(http.HandlerFunc(gw.handleUsageStats)))
	logger.Info("HTTP auth middleware enabled", "capabilities", registry.IDs())

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           withCorrelation(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// setupTCPListener creates a standard TCP listener for the HTTP server.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// warnIgnoredAddress logs a warning if a server address is configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddress() {
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddress()
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "ward-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		return g.createTailscaleTLSListener(tsCfg)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using provisioned certs.
func (g *Gateway) createTailscaleTLSListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with provisioned certs on :443")
	cert, err := tls.LoadX509KeyPair(tsCfg.CertFile, tsCfg.KeyFile)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "audit close", g.trail.Close())

	if g.guard != nil {
		g.guard.Close()
	}
	if g.profileCloser != nil {
		errs = appendCloseError(errs, "profile close", g.profileCloser.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the dispatch pipeline can take work.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.trail.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("audit trail unavailable"))
		return
	}

	enabled := 0
	for _, id := range g.registry.IDs() {
		if c := g.registry.Get(id); c != nil && c.Settings.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no capabilities enabled"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d capabilities)", enabled)
}
