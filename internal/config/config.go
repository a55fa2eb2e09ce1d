// ABOUTME: Configuration loading for relay-gateway and relay-agent.
// ABOUTME: Reads YAML or TOML, expands ${ENV} references, parses durations, and validates.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted when no --config flag is given.
const (
	GatewayConfigEnv = "RELAY_CONFIG"
	AgentConfigEnv   = "RELAY_AGENT_CONFIG"
)

// Default file names under the XDG config directory.
const (
	GatewayConfigFile = "gateway.yaml"
	AgentConfigFile   = "agent.yaml"
)

// Config is the relay-gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Bridge    BridgeConfig    `yaml:"bridge" toml:"bridge"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	// ServerID is sent to agents in the Welcome message. Empty means a
	// random id is chosen at startup.
	ServerID string `yaml:"server_id" toml:"server_id"`
}

// TailscaleConfig holds settings for serving on a tailnet via tsnet.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	GRPCPort  int    `yaml:"grpc_port" toml:"grpc_port"`
	HTTPPort  int    `yaml:"http_port" toml:"http_port"`
}

// BridgeConfig holds request correlation settings.
type BridgeConfig struct {
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
}

// LoggingConfig holds logging settings shared by both binaries.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// AgentConfig is the relay-agent configuration.
type AgentConfig struct {
	Gateway   GatewayConfig    `yaml:"gateway" toml:"gateway"`
	Agent     IdentityConfig   `yaml:"agent" toml:"agent"`
	Resources []ResourceConfig `yaml:"resources" toml:"resources"`
	Sampler   SamplerConfig    `yaml:"sampler" toml:"sampler"`
	Settings  SettingsConfig   `yaml:"settings" toml:"settings"`
	Logging   LoggingConfig    `yaml:"logging" toml:"logging"`
}

// GatewayConfig describes how the agent reaches the gateway.
type GatewayConfig struct {
	Address                string          `yaml:"address" toml:"address"`
	HandshakeTimeoutRaw    string          `yaml:"handshake_timeout" toml:"handshake_timeout"`
	HandshakeTimeout       time.Duration   `yaml:"-" toml:"-"`
	SendQueueSize          int             `yaml:"send_queue_size" toml:"send_queue_size"`
	QueueWhileDisconnected bool            `yaml:"queue_while_disconnected" toml:"queue_while_disconnected"`
	Reconnect              ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// ReconnectConfig controls the reconnect backoff.
type ReconnectConfig struct {
	InitialDelayRaw string        `yaml:"initial_delay" toml:"initial_delay"`
	InitialDelay    time.Duration `yaml:"-" toml:"-"`
	MaxDelayRaw     string        `yaml:"max_delay" toml:"max_delay"`
	MaxDelay        time.Duration `yaml:"-" toml:"-"`
	Multiplier      float64       `yaml:"multiplier" toml:"multiplier"`
	Jitter          *bool         `yaml:"jitter" toml:"jitter"`
}

// IdentityConfig names the agent.
type IdentityConfig struct {
	ID   string `yaml:"id" toml:"id"`
	Name string `yaml:"name" toml:"name"`
}

// ResourceConfig is one resource owned by the agent. A nil Base means the
// agent picks its built-in starting value.
type ResourceConfig struct {
	ID   string   `yaml:"id" toml:"id"`
	Name string   `yaml:"name" toml:"name"`
	Base *float64 `yaml:"base" toml:"base"`
}

// SamplerConfig controls the periodic sampler.
type SamplerConfig struct {
	IntervalRaw string        `yaml:"interval" toml:"interval"`
	Interval    time.Duration `yaml:"-" toml:"-"`
}

// SettingsConfig selects where PerformSave writes.
type SettingsConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultResources is the resource set used when none are configured.
func DefaultResources() []ResourceConfig {
	return []ResourceConfig{
		{ID: "nyc", Name: "New York"},
		{ID: "lon", Name: "London"},
		{ID: "tky", Name: "Tokyo"},
	}
}

// hostname is swapped in tests.
var hostname = os.Hostname

// Default returns the gateway configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyGatewayDefaults(cfg)
	_ = parseGatewayDurations(cfg)
	return cfg
}

// DefaultAgent returns the agent configuration used when no file exists.
func DefaultAgent() *AgentConfig {
	cfg := &AgentConfig{}
	applyAgentDefaults(cfg)
	_ = parseAgentDurations(cfg)
	return cfg
}

// Load reads and validates a gateway configuration file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyGatewayDefaults(cfg)

	if err := parseGatewayDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadAgent reads and validates an agent configuration file.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyAgentDefaults(cfg)

	if err := parseAgentDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// decodeFile expands environment references and decodes path into out.
// Files ending in .toml are read as TOML, everything else as YAML.
func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, out); err != nil {
			return fmt.Errorf("parsing TOML: %w", err)
		}
		return nil
	}

	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the value of the environment
// variable. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ResolvePath picks the config file path.
// Priority: flag value > env var > $XDG_CONFIG_HOME/relay/<file> > ~/.config/relay/<file>.
func ResolvePath(flagValue, envVar, file string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(envVar); p != "" {
		return p
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return file
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "relay", file)
}

func applyGatewayDefaults(cfg *Config) {
	if !cfg.Tailscale.Enabled {
		if cfg.Server.GRPCAddr == "" {
			cfg.Server.GRPCAddr = "localhost:50051"
		}
		if cfg.Server.HTTPAddr == "" {
			cfg.Server.HTTPAddr = "localhost:8080"
		}
	}
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.Hostname == "" {
			cfg.Tailscale.Hostname = "relay-gateway"
		}
		if cfg.Tailscale.GRPCPort == 0 {
			cfg.Tailscale.GRPCPort = 50051
		}
		if cfg.Tailscale.HTTPPort == 0 {
			cfg.Tailscale.HTTPPort = 80
		}
	}
	if cfg.Bridge.RequestTimeoutRaw == "" {
		cfg.Bridge.RequestTimeoutRaw = "10s"
	}
	applyLoggingDefaults(&cfg.Logging)
}

func applyAgentDefaults(cfg *AgentConfig) {
	host, err := hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	if cfg.Gateway.Address == "" {
		cfg.Gateway.Address = "localhost:50051"
	}
	if cfg.Gateway.HandshakeTimeoutRaw == "" {
		cfg.Gateway.HandshakeTimeoutRaw = "10s"
	}
	if cfg.Gateway.SendQueueSize == 0 {
		cfg.Gateway.SendQueueSize = 256
	}
	r := &cfg.Gateway.Reconnect
	if r.InitialDelayRaw == "" {
		r.InitialDelayRaw = "500ms"
	}
	if r.MaxDelayRaw == "" {
		r.MaxDelayRaw = "30s"
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2
	}
	if r.Jitter == nil {
		jitter := true
		r.Jitter = &jitter
	}

	if cfg.Agent.ID == "" {
		cfg.Agent.ID = "agent-" + strings.ToLower(host)
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Agent on " + host
	}
	if len(cfg.Resources) == 0 {
		cfg.Resources = DefaultResources()
	}
	for i := range cfg.Resources {
		if cfg.Resources[i].Name == "" {
			cfg.Resources[i].Name = cfg.Resources[i].ID
		}
	}

	if cfg.Sampler.IntervalRaw == "" {
		cfg.Sampler.IntervalRaw = "5s"
	}
	if cfg.Settings.Backend == "" {
		cfg.Settings.Backend = "file"
	}
	if cfg.Settings.Path == "" {
		if cfg.Settings.Backend == "sqlite" {
			cfg.Settings.Path = "settings.db"
		} else {
			cfg.Settings.Path = "settings.json"
		}
	}
	applyLoggingDefaults(&cfg.Logging)
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func parseDuration(field, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}

func parseGatewayDurations(cfg *Config) error {
	return parseDuration("bridge.request_timeout", cfg.Bridge.RequestTimeoutRaw, &cfg.Bridge.RequestTimeout)
}

func parseAgentDurations(cfg *AgentConfig) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.handshake_timeout", cfg.Gateway.HandshakeTimeoutRaw, &cfg.Gateway.HandshakeTimeout},
		{"gateway.reconnect.initial_delay", cfg.Gateway.Reconnect.InitialDelayRaw, &cfg.Gateway.Reconnect.InitialDelay},
		{"gateway.reconnect.max_delay", cfg.Gateway.Reconnect.MaxDelayRaw, &cfg.Gateway.Reconnect.MaxDelay},
		{"sampler.interval", cfg.Sampler.IntervalRaw, &cfg.Sampler.Interval},
	}
	for _, f := range fields {
		if err := parseDuration(f.name, f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// Validate checks the gateway configuration for errors.
func (c *Config) Validate() error {
	// Listener addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled {
		if c.Tailscale.Hostname == "" {
			return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
		}
		if !validPort(c.Tailscale.GRPCPort) || !validPort(c.Tailscale.HTTPPort) {
			return fmt.Errorf("tailscale.grpc_port and tailscale.http_port must be between 1 and 65535")
		}
		if c.Tailscale.GRPCPort == c.Tailscale.HTTPPort {
			return fmt.Errorf("tailscale.grpc_port and tailscale.http_port must differ")
		}
	}

	if c.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("bridge.request_timeout must be positive")
	}

	return c.Logging.validate()
}

// Validate checks the agent configuration for errors.
func (c *AgentConfig) Validate() error {
	if strings.TrimSpace(c.Gateway.Address) == "" {
		return fmt.Errorf("gateway.address is required")
	}
	if strings.TrimSpace(c.Agent.ID) == "" {
		return fmt.Errorf("agent.id is required")
	}
	if c.Gateway.SendQueueSize < 0 {
		return fmt.Errorf("gateway.send_queue_size must not be negative")
	}
	if c.Gateway.Reconnect.Multiplier < 1 {
		return fmt.Errorf("gateway.reconnect.multiplier must be at least 1")
	}
	if c.Gateway.Reconnect.MaxDelay < c.Gateway.Reconnect.InitialDelay {
		return fmt.Errorf("gateway.reconnect.max_delay must not be less than initial_delay")
	}
	if c.Sampler.Interval <= 0 {
		return fmt.Errorf("sampler.interval must be positive")
	}

	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("resources[%d].id is required", i)
		}
		k := strings.ToLower(r.ID)
		if seen[k] {
			return fmt.Errorf("resources[%d].id %q is duplicated", i, r.ID)
		}
		seen[k] = true
	}

	switch c.Settings.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("settings.backend must be file or sqlite, got %q", c.Settings.Backend)
	}

	return c.Logging.validate()
}

func (l LoggingConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}
	return nil
}
