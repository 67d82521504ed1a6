// ABOUTME: The capability allow-list loaded from capabilities.toml
// ABOUTME: Binds file-side settings to code-side definitions, immutable after load

package capability

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/ward-gateway/internal/scope"
)

// ErrUnknownCapability marks a dispatch against an id outside the allow-list.
var ErrUnknownCapability = errors.New("capability not registered")

// ErrDisabled marks a dispatch against a capability switched off in the
// registry file.
var ErrDisabled = errors.New("capability disabled")

const (
	defaultMaxConcurrent = 8
	defaultQueueWait     = 250 * time.Millisecond
	defaultTimeout       = 30 * time.Second
)

// ProviderSettings configures one outbound provider endpoint.
type ProviderSettings struct {
	URL   string `toml:"url"`
	Retry bool   `toml:"idempotent_retry"`
}

// Settings is the resolved file-side configuration for one capability.
type Settings struct {
	Enabled       bool
	MaxConcurrent int64
	QueueWait     time.Duration
	Timeout       time.Duration
	ScopeInclude  []string
	ScopeExclude  []string
	Providers     map[string]ProviderSettings
}

type fileSettings struct {
	Enabled       *bool                       `toml:"enabled"`
	MaxConcurrent int64                       `toml:"max_concurrent"`
	QueueWait     string                      `toml:"queue_wait"`
	Timeout       string                      `toml:"timeout"`
	ScopeInclude  []string                    `toml:"scope_include"`
	ScopeExclude  []string                    `toml:"scope_exclude"`
	Providers     map[string]ProviderSettings `toml:"providers"`
}

type registryFile struct {
	Capabilities map[string]fileSettings `toml:"capabilities"`
}

// LoadSettings reads the capability registry file, expanding ${VAR}
// references and applying defaults.
func LoadSettings(path string) (map[string]Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var file registryFile
	if _, err := toml.Decode(expanded, &file); err != nil {
		return nil, fmt.Errorf("parsing registry file: %w", err)
	}

	if len(file.Capabilities) == 0 {
		return nil, fmt.Errorf("registry file declares no capabilities")
	}

	settings := make(map[string]Settings, len(file.Capabilities))
	for id, fs := range file.Capabilities {
		s, err := resolveSettings(id, fs)
		if err != nil {
			return nil, err
		}
		settings[id] = s
	}

	return settings, nil
}

func resolveSettings(id string, fs fileSettings) (Settings, error) {
	s := Settings{
		Enabled:       true,
		MaxConcurrent: fs.MaxConcurrent,
		QueueWait:     defaultQueueWait,
		Timeout:       defaultTimeout,
		ScopeInclude:  fs.ScopeInclude,
		ScopeExclude:  fs.ScopeExclude,
		Providers:     fs.Providers,
	}
	if fs.Enabled != nil {
		s.Enabled = *fs.Enabled
	}

	if s.MaxConcurrent < 0 {
		return Settings{}, fmt.Errorf("capabilities.%s.max_concurrent must not be negative", id)
	}
	if s.MaxConcurrent == 0 {
		s.MaxConcurrent = defaultMaxConcurrent
	}

	if fs.QueueWait != "" {
		d, err := time.ParseDuration(fs.QueueWait)
		if err != nil {
			return Settings{}, fmt.Errorf("capabilities.%s.queue_wait: %w", id, err)
		}
		s.QueueWait = d
	}
	if fs.Timeout != "" {
		d, err := time.ParseDuration(fs.Timeout)
		if err != nil {
			return Settings{}, fmt.Errorf("capabilities.%s.timeout: %w", id, err)
		}
		s.Timeout = d
	}

	if len(s.ScopeInclude) == 0 {
		return Settings{}, fmt.Errorf("capabilities.%s.scope_include must declare at least one term", id)
	}

	for name, ps := range s.Providers {
		if ps.URL == "" {
			return Settings{}, fmt.Errorf("capabilities.%s.providers.%s.url is required", id, name)
		}
		u, err := url.Parse(ps.URL)
		if err != nil {
			return Settings{}, fmt.Errorf("capabilities.%s.providers.%s.url is not a valid URL: %w", id, name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return Settings{}, fmt.Errorf("capabilities.%s.providers.%s.url must use http or https scheme", id, name)
		}
	}

	return s, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Capability pairs a code definition with its file settings.
type Capability struct {
	Definition
	Settings Settings
}

// Registry is the immutable allow-list of dispatchable capabilities. A
// capability is dispatchable only when a code definition and a registry file
// entry both exist for its id.
type Registry struct {
	caps map[string]*Capability
}

// NewRegistry binds code definitions to file settings. Every file entry must
// name a built-in definition; definitions without a file entry are not
// exposed.
func NewRegistry(defs []Definition, settings map[string]Settings) (*Registry, error) {
	byID := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("capability definition with empty id")
		}
		if def.Handler == nil || def.Request == nil || def.Response == nil {
			return nil, fmt.Errorf("capability %q definition is incomplete", def.ID)
		}
		if _, dup := byID[def.ID]; dup {
			return nil, fmt.Errorf("duplicate capability definition %q", def.ID)
		}
		byID[def.ID] = def
	}

	caps := make(map[string]*Capability, len(settings))
	for id, s := range settings {
		def, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("registry file names %q but no such capability is built in", id)
		}
		caps[id] = &Capability{Definition: def, Settings: s}
	}

	return &Registry{caps: caps}, nil
}

// Get returns the capability for id, or nil when id is outside the
// allow-list.
func (r *Registry) Get(id string) *Capability {
	return r.caps[id]
}

// IDs returns the registered capability ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.caps))
	for id := range r.caps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ScopeRules returns the per-capability classifier rules declared in the
// registry file.
func (r *Registry) ScopeRules() map[string]scope.Rules {
	rules := make(map[string]scope.Rules, len(r.caps))
	for id, c := range r.caps {
		rules[id] = scope.Rules{
			Include: c.Settings.ScopeInclude,
			Exclude: c.Settings.ScopeExclude,
		}
	}
	return rules
}
