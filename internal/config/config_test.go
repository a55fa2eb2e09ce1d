// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"
  server_id: "gw-1"

bridge:
  request_timeout: "3s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.ServerID != "gw-1" {
		t.Errorf("Server.ServerID = %q, want %q", cfg.Server.ServerID, "gw-1")
	}
	if cfg.Bridge.RequestTimeout != 3*time.Second {
		t.Errorf("Bridge.RequestTimeout = %v, want 3s", cfg.Bridge.RequestTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", "logging:\n  level: warn\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.GRPCAddr != "localhost:50051" {
		t.Errorf("Server.GRPCAddr = %q, want default", cfg.Server.GRPCAddr)
	}
	if cfg.Bridge.RequestTimeout != 10*time.Second {
		t.Errorf("Bridge.RequestTimeout = %v, want 10s", cfg.Bridge.RequestTimeout)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[server]
grpc_addr = "127.0.0.1:6000"
http_addr = "127.0.0.1:6001"

[bridge]
request_timeout = "250ms"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:6000" {
		t.Errorf("Server.GRPCAddr = %q", cfg.Server.GRPCAddr)
	}
	if cfg.Bridge.RequestTimeout != 250*time.Millisecond {
		t.Errorf("Bridge.RequestTimeout = %v, want 250ms", cfg.Bridge.RequestTimeout)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("RELAY_TEST_TS_KEY", "tskey-abc")
	path := writeConfig(t, "gateway.yaml", `
tailscale:
  enabled: true
  auth_key: "${RELAY_TEST_TS_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tailscale.AuthKey != "tskey-abc" {
		t.Errorf("Tailscale.AuthKey = %q, want expanded value", cfg.Tailscale.AuthKey)
	}
	if cfg.Tailscale.Hostname != "relay-gateway" {
		t.Errorf("Tailscale.Hostname = %q, want default", cfg.Tailscale.Hostname)
	}
	if cfg.Tailscale.GRPCPort != 50051 || cfg.Tailscale.HTTPPort != 80 {
		t.Errorf("Tailscale ports = %d/%d, want 50051/80", cfg.Tailscale.GRPCPort, cfg.Tailscale.HTTPPort)
	}
	if cfg.Server.GRPCAddr != "" {
		t.Errorf("Server.GRPCAddr = %q, want empty when tailscale is enabled", cfg.Server.GRPCAddr)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "bad duration",
			file:    "gateway.yaml",
			content: "bridge:\n  request_timeout: soon\n",
			wantErr: "bridge.request_timeout",
		},
		{
			name:    "negative timeout",
			file:    "gateway.yaml",
			content: "bridge:\n  request_timeout: -1s\n",
			wantErr: "must be positive",
		},
		{
			name:    "bad log format",
			file:    "gateway.yaml",
			content: "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "malformed yaml",
			file:    "gateway.yaml",
			content: "server: [",
			wantErr: "parsing YAML",
		},
		{
			name:    "malformed toml",
			file:    "gateway.toml",
			content: "[server\n",
			wantErr: "parsing TOML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want a not-exist error", err)
	}
}

func TestValidate_Gateway(t *testing.T) {
	valid := Default

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "missing grpc addr",
			mutate:  func(c *Config) { c.Server.GRPCAddr = "" },
			wantErr: "server.grpc_addr is required",
		},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr is required",
		},
		{
			name: "tailscale without addresses",
			mutate: func(c *Config) {
				c.Server = ServerConfig{}
				c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "gw", GRPCPort: 50051, HTTPPort: 80}
			},
		},
		{
			name:    "tailscale without hostname",
			mutate:  func(c *Config) { c.Tailscale = TailscaleConfig{Enabled: true, GRPCPort: 1, HTTPPort: 2} },
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "tailscale port out of range",
			mutate:  func(c *Config) { c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "gw", GRPCPort: 70000, HTTPPort: 80} },
			wantErr: "must be between 1 and 65535",
		},
		{
			name:    "tailscale ports collide",
			mutate:  func(c *Config) { c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "gw", GRPCPort: 80, HTTPPort: 80} },
			wantErr: "must differ",
		},
		{
			name:    "bad level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func stubHostname(t *testing.T, name string) {
	t.Helper()
	orig := hostname
	hostname = func() (string, error) { return name, nil }
	t.Cleanup(func() { hostname = orig })
}

func TestDefaultAgent(t *testing.T) {
	stubHostname(t, "Build-Box")

	cfg := DefaultAgent()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultAgent().Validate() error = %v", err)
	}

	if cfg.Agent.ID != "agent-build-box" {
		t.Errorf("Agent.ID = %q, want agent-build-box", cfg.Agent.ID)
	}
	if cfg.Agent.Name != "Agent on Build-Box" {
		t.Errorf("Agent.Name = %q, want %q", cfg.Agent.Name, "Agent on Build-Box")
	}
	if len(cfg.Resources) != 3 {
		t.Fatalf("len(Resources) = %d, want 3", len(cfg.Resources))
	}
	wantIDs := []string{"nyc", "lon", "tky"}
	for i, id := range wantIDs {
		if cfg.Resources[i].ID != id {
			t.Errorf("Resources[%d].ID = %q, want %q", i, cfg.Resources[i].ID, id)
		}
		if cfg.Resources[i].Base != nil {
			t.Errorf("Resources[%d].Base = %v, want nil", i, *cfg.Resources[i].Base)
		}
	}
	if cfg.Sampler.Interval != 5*time.Second {
		t.Errorf("Sampler.Interval = %v, want 5s", cfg.Sampler.Interval)
	}
	if cfg.Gateway.Reconnect.InitialDelay != 500*time.Millisecond {
		t.Errorf("Reconnect.InitialDelay = %v, want 500ms", cfg.Gateway.Reconnect.InitialDelay)
	}
	if cfg.Gateway.Reconnect.Jitter == nil || !*cfg.Gateway.Reconnect.Jitter {
		t.Error("Reconnect.Jitter should default to true")
	}
	if cfg.Settings.Backend != "file" || cfg.Settings.Path != "settings.json" {
		t.Errorf("Settings = %+v, want file/settings.json", cfg.Settings)
	}
}

func TestLoadAgent_YAML(t *testing.T) {
	stubHostname(t, "host")
	path := writeConfig(t, "agent.yaml", `
gateway:
  address: "gw.internal:50051"
  queue_while_disconnected: true
  reconnect:
    initial_delay: "1s"
    max_delay: "1m"
    jitter: false

agent:
  id: "weather-1"

resources:
  - id: ams
    name: Amsterdam
    base: 12.5
  - id: ber

sampler:
  interval: "250ms"

settings:
  backend: sqlite
`)

	cfg, err := LoadAgent(path)
	if err != nil {
		t.Fatalf("LoadAgent() error = %v", err)
	}

	if cfg.Gateway.Address != "gw.internal:50051" {
		t.Errorf("Gateway.Address = %q", cfg.Gateway.Address)
	}
	if !cfg.Gateway.QueueWhileDisconnected {
		t.Error("Gateway.QueueWhileDisconnected = false, want true")
	}
	if cfg.Gateway.Reconnect.MaxDelay != time.Minute {
		t.Errorf("Reconnect.MaxDelay = %v, want 1m", cfg.Gateway.Reconnect.MaxDelay)
	}
	if cfg.Gateway.Reconnect.Jitter == nil || *cfg.Gateway.Reconnect.Jitter {
		t.Error("Reconnect.Jitter should be false when set")
	}
	if cfg.Agent.ID != "weather-1" || cfg.Agent.Name != "Agent on host" {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if len(cfg.Resources) != 2 {
		t.Fatalf("len(Resources) = %d, want 2", len(cfg.Resources))
	}
	if cfg.Resources[0].Base == nil || *cfg.Resources[0].Base != 12.5 {
		t.Errorf("Resources[0].Base = %v, want 12.5", cfg.Resources[0].Base)
	}
	if cfg.Resources[1].Name != "ber" || cfg.Resources[1].Base != nil {
		t.Errorf("Resources[1] = %+v, want name defaulted to id and no base", cfg.Resources[1])
	}
	if cfg.Sampler.Interval != 250*time.Millisecond {
		t.Errorf("Sampler.Interval = %v", cfg.Sampler.Interval)
	}
	if cfg.Settings.Path != "settings.db" {
		t.Errorf("Settings.Path = %q, want settings.db for sqlite", cfg.Settings.Path)
	}
}

func TestLoadAgent_TOML(t *testing.T) {
	stubHostname(t, "host")
	t.Setenv("RELAY_TEST_GATEWAY", "10.0.0.5:50051")
	path := writeConfig(t, "agent.toml", `
[gateway]
address = "${RELAY_TEST_GATEWAY}"

[agent]
id = "toml-agent"
name = "TOML Agent"

[[resources]]
id = "nyc"
name = "New York"
base = 30.0

[sampler]
interval = "2s"
`)

	cfg, err := LoadAgent(path)
	if err != nil {
		t.Fatalf("LoadAgent() error = %v", err)
	}
	if cfg.Gateway.Address != "10.0.0.5:50051" {
		t.Errorf("Gateway.Address = %q, want expanded env value", cfg.Gateway.Address)
	}
	if cfg.Agent.Name != "TOML Agent" {
		t.Errorf("Agent.Name = %q", cfg.Agent.Name)
	}
	if len(cfg.Resources) != 1 || cfg.Resources[0].Base == nil || *cfg.Resources[0].Base != 30 {
		t.Errorf("Resources = %+v", cfg.Resources)
	}
	if cfg.Sampler.Interval != 2*time.Second {
		t.Errorf("Sampler.Interval = %v", cfg.Sampler.Interval)
	}
}

func TestLoadAgent_Errors(t *testing.T) {
	stubHostname(t, "host")

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "duplicate resource ids differ only by case",
			content: "resources:\n  - id: nyc\n  - id: NYC\n",
			wantErr: "duplicated",
		},
		{
			name:    "blank resource id",
			content: "resources:\n  - id: \" \"\n    name: x\n",
			wantErr: "resources[0].id is required",
		},
		{
			name:    "bad backend",
			content: "settings:\n  backend: postgres\n",
			wantErr: "settings.backend",
		},
		{
			name:    "bad interval",
			content: "sampler:\n  interval: fast\n",
			wantErr: "sampler.interval",
		},
		{
			name:    "zero interval",
			content: "sampler:\n  interval: 0s\n",
			wantErr: "sampler.interval must be positive",
		},
		{
			name:    "max below initial",
			content: "gateway:\n  reconnect:\n    initial_delay: 10s\n    max_delay: 1s\n",
			wantErr: "max_delay",
		},
		{
			name:    "multiplier below one",
			content: "gateway:\n  reconnect:\n    multiplier: 0.5\n",
			wantErr: "multiplier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadAgent(writeConfig(t, "agent.yaml", tt.content))
			if err == nil {
				t.Fatal("LoadAgent() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadAgent() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv(GatewayConfigEnv, "")

	if got := ResolvePath("/etc/relay.yaml", GatewayConfigEnv, GatewayConfigFile); got != "/etc/relay.yaml" {
		t.Errorf("flag should win, got %q", got)
	}

	want := filepath.Join(xdg, "relay", GatewayConfigFile)
	if got := ResolvePath("", GatewayConfigEnv, GatewayConfigFile); got != want {
		t.Errorf("ResolvePath() = %q, want %q", got, want)
	}

	t.Setenv(GatewayConfigEnv, "/from/env.yaml")
	if got := ResolvePath("", GatewayConfigEnv, GatewayConfigFile); got != "/from/env.yaml" {
		t.Errorf("env should win over XDG, got %q", got)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single env var", input: "${FOO}", expected: "bar"},
		{name: "env var with surrounding text", input: "prefix-${FOO}-suffix", expected: "prefix-bar-suffix"},
		{name: "multiple env vars", input: "${FOO}/${BAZ}", expected: "bar/qux"},
		{name: "no env vars", input: "no-vars-here", expected: "no-vars-here"},
		{name: "unset env var", input: "${UNSET_VAR}", expected: ""},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
