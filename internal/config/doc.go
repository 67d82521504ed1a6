// Package config handles configuration loading for ward-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  secret: "${WARD_AUTH_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	dedupe:
//	  window: "10m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"  # API listener
//	  max_body_bytes: 1048576    # request body cap
//
// Authentication (exactly one of secret / keyset_url):
//
//	auth:
//	  secret: "${WARD_AUTH_SECRET}"              # HS256, local deployments
//	  keyset_url: "https://id.example/jwks.json" # RS256 via published keyset
//	  issuer: "https://id.example"               # required with keyset_url
//
// Capability registry:
//
//	capabilities:
//	  path: "/etc/ward/capabilities.toml"
//
// Invocation trail:
//
//	audit:
//	  path: "/var/lib/ward/audit.db"
//
// Principal context:
//
//	profiles:
//	  mode: "http"      # none, http, sqlite
//	  base_url: "https://profiles.internal"
//	  path: "/var/lib/ward/profiles.db"  # sqlite mode
//
// Replay suppression:
//
//	dedupe:
//	  window: "10m"
//	  max_entries: 4096
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "ward-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Listener address presence (unless Tailscale serves)
//   - Auth secret minimum length (32 bytes)
//   - Keyset URL scheme and issuer pairing
//   - Capability registry and audit trail paths
//   - Duration format validity
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/ward/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
