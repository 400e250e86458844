// Package config loads and validates the host configuration file. The
// orchestration core never parses raw config itself; everything it consumes
// arrives through the types here.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"conductor/internal/router"
	"conductor/internal/session"
	"conductor/internal/transport"
	"conductor/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for yaml decoding of values like "30s".
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ModelConfig selects and tunes the model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider,omitempty"` // "anthropic" or "openai"
	Name        string  `yaml:"name,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int64   `yaml:"maxTokens,omitempty"`
}

// HostSettings carries host-wide tunables.
type HostSettings struct {
	MaxIterations int         `yaml:"maxIterations,omitempty"`
	SystemPrompt  string      `yaml:"systemPrompt,omitempty"`
	DefaultWeight float64     `yaml:"defaultWeight,omitempty"`
	InvokeTimeout Duration    `yaml:"invokeTimeout,omitempty"`
	LogLevel      string      `yaml:"logLevel,omitempty"`
	Model         ModelConfig `yaml:"model,omitempty"`
}

// SecretDefinition maps a host environment variable into a session's
// environment via the credential vault. The value never appears in config.
type SecretDefinition struct {
	Env     string `yaml:"env"`     // variable name inside the session
	FromEnv string `yaml:"fromEnv"` // variable name in the host environment
}

// ServerDefinition describes one capability server.
type ServerDefinition struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // stdio, sse or streamable-http

	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	Kinds         []string           `yaml:"kinds,omitempty"`
	Exclusions    []string           `yaml:"exclusions,omitempty"`
	Tags          []string           `yaml:"tags,omitempty"`
	Weight        float64            `yaml:"weight,omitempty"`
	ResourceRoots []string           `yaml:"resourceRoots,omitempty"`
	Secrets       []SecretDefinition `yaml:"secrets,omitempty"`

	InvokeTimeout  Duration `yaml:"invokeTimeout,omitempty"`
	StartupTimeout Duration `yaml:"startupTimeout,omitempty"`
}

// HostConfig is the top-level configuration structure.
type HostConfig struct {
	Host    HostSettings       `yaml:"host,omitempty"`
	Servers []ServerDefinition `yaml:"servers,omitempty"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() HostConfig {
	return HostConfig{
		Host: HostSettings{
			MaxIterations: 10,
			DefaultWeight: 1.0,
			InvokeTimeout: Duration(30 * time.Second),
			LogLevel:      "info",
			Model: ModelConfig{
				Provider:    "anthropic",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
		},
	}
}

// Load reads the configuration file at path. A missing file yields defaults;
// a malformed one is an error.
func Load(path string) (HostConfig, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No config file at %s, using defaults", path)
			return cfg, nil
		}
		return HostConfig{}, fmt.Errorf("error reading config from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HostConfig{}, fmt.Errorf("error parsing config from %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return HostConfig{}, err
	}

	logging.Info("Config", "Loaded configuration from %s (%d servers)", path, len(cfg.Servers))
	return cfg, nil
}

// Validate checks structural consistency. Transport-specific field
// requirements are enforced again by the transport factory; validation here
// catches what can be caught before any session starts.
func (c *HostConfig) Validate() error {
	if c.Host.MaxIterations < 0 {
		return fmt.Errorf("host.maxIterations must not be negative")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, srv := range c.Servers {
		if srv.Name == "" {
			return fmt.Errorf("servers[%d]: name is required", i)
		}
		if seen[srv.Name] {
			return fmt.Errorf("servers[%d]: duplicate server name %q", i, srv.Name)
		}
		seen[srv.Name] = true

		switch transport.Type(srv.Transport) {
		case transport.TypeStdio:
			if srv.Command == "" {
				return fmt.Errorf("server %q: command is required for stdio transport", srv.Name)
			}
		case transport.TypeSSE, transport.TypeStreamableHTTP:
			if srv.URL == "" {
				return fmt.Errorf("server %q: url is required for %s transport", srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("server %q: unsupported transport %q", srv.Name, srv.Transport)
		}

		for _, kind := range srv.Kinds {
			if !validKind(kind) {
				return fmt.Errorf("server %q: unknown capability kind %q", srv.Name, kind)
			}
		}
		for _, secret := range srv.Secrets {
			if secret.Env == "" || secret.FromEnv == "" {
				return fmt.Errorf("server %q: secret definitions need both env and fromEnv", srv.Name)
			}
		}
		if srv.Weight < 0 {
			return fmt.Errorf("server %q: weight must not be negative", srv.Name)
		}
	}

	return nil
}

// SessionConfig converts a server definition into the supervisor's form.
// Secret specs are expected to be resolved into vault tokens by the caller
// and passed in.
func (s *ServerDefinition) SessionConfig(secrets []session.SecretSpec) session.Config {
	return session.Config{
		ID: s.Name,
		Transport: transport.Descriptor{
			Type:    transport.Type(s.Transport),
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			URL:     s.URL,
			Headers: s.Headers,
		},
		Kinds:          s.RouterKinds(),
		Exclusions:     s.Exclusions,
		Tags:           s.Tags,
		Weight:         s.Weight,
		ResourceRoots:  s.ResourceRoots,
		Secrets:        secrets,
		InvokeTimeout:  time.Duration(s.InvokeTimeout),
		StartupTimeout: time.Duration(s.StartupTimeout),
	}
}

// RouterKinds maps the declared capability classes. Empty means all.
func (s *ServerDefinition) RouterKinds() []router.Kind {
	kinds := make([]router.Kind, 0, len(s.Kinds))
	for _, k := range s.Kinds {
		kinds = append(kinds, router.Kind(k))
	}
	return kinds
}

func validKind(kind string) bool {
	for _, k := range router.Kinds {
		if string(k) == kind {
			return true
		}
	}
	return false
}
