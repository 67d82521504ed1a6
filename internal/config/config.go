// ABOUTME: Configuration loading and parsing for ward-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ward-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Auth         AuthConfig         `yaml:"auth"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Audit        AuditConfig        `yaml:"audit"`
	Profiles     ProfilesConfig     `yaml:"profiles"`
	Dedupe       DedupeConfig       `yaml:"dedupe"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`  // TLS key file
	Funnel    bool   `yaml:"funnel"`    // Enable public Funnel (implies HTTPS)
}

// AuthConfig holds bearer token verification configuration.
// Exactly one of Secret (HS256, local deployments) or KeysetURL (RS256 keys
// published as a JWKS document) must be set.
type AuthConfig struct {
	Secret    string `yaml:"secret"`
	KeysetURL string `yaml:"keyset_url"`
	Issuer    string `yaml:"issuer"`
}

// CapabilitiesConfig points at the capability registry file
type CapabilitiesConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig holds the invocation trail database configuration
type AuditConfig struct {
	Path string `yaml:"path"`
}

// ProfilesConfig selects where principal context is fetched from
type ProfilesConfig struct {
	Mode    string `yaml:"mode"`     // none, http, sqlite
	BaseURL string `yaml:"base_url"` // http mode
	Path    string `yaml:"path"`     // sqlite mode
}

// DedupeConfig holds idempotency key replay suppression settings
type DedupeConfig struct {
	Window     time.Duration `yaml:"-"`
	MaxEntries int           `yaml:"max_entries"`

	// Raw string value for YAML unmarshaling
	WindowRaw string `yaml:"window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values for optional settings left unset
func (c *Config) applyDefaults() {
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Dedupe.Window == 0 {
		c.Dedupe.Window = 10 * time.Minute
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 4096
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is serving
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.Capabilities.Path == "" {
		return fmt.Errorf("capabilities.path is required")
	}

	if c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required")
	}

	if err := c.Profiles.validate(); err != nil {
		return err
	}

	if c.Dedupe.MaxEntries < 0 {
		return fmt.Errorf("dedupe.max_entries must not be negative")
	}

	return nil
}

func (a *AuthConfig) validate() error {
	switch {
	case a.Secret == "" && a.KeysetURL == "":
		return fmt.Errorf("auth.secret or auth.keyset_url is required")
	case a.Secret != "" && a.KeysetURL != "":
		return fmt.Errorf("auth.secret and auth.keyset_url are mutually exclusive")
	}

	if a.Secret != "" && len(a.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 bytes")
	}

	if a.KeysetURL != "" {
		u, err := url.Parse(a.KeysetURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("auth.keyset_url must be an http or https URL")
		}
		if a.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth.keyset_url is set")
		}
	}

	return nil
}

func (p *ProfilesConfig) validate() error {
	switch p.Mode {
	case "", "none":
		return nil
	case "http":
		if p.BaseURL == "" {
			return fmt.Errorf("profiles.base_url is required when profiles.mode is http")
		}
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("profiles.base_url must be an http or https URL")
		}
	case "sqlite":
		if p.Path == "" {
			return fmt.Errorf("profiles.path is required when profiles.mode is sqlite")
		}
	default:
		return fmt.Errorf("profiles.mode must be one of none, http, sqlite (got %q)", p.Mode)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Dedupe.WindowRaw != "" {
		cfg.Dedupe.Window, err = time.ParseDuration(cfg.Dedupe.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.window %q: %w", cfg.Dedupe.WindowRaw, err)
		}
	}

	return nil
}
