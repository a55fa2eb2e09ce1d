// Package config handles configuration loading for relay-gateway and relay-agent.
//
// # Overview
//
// Configuration is loaded from YAML files (or TOML files ending in .toml)
// with environment variable expansion. Missing values get defaults and the
// result is validated before use.
//
// # Configuration File
//
// Locations, in order:
//
//  1. The --config flag
//  2. RELAY_CONFIG (gateway) or RELAY_AGENT_CONFIG (agent)
//  3. $XDG_CONFIG_HOME/relay/gateway.yaml or agent.yaml
//  4. ~/.config/relay/gateway.yaml or agent.yaml
//
// # Environment Variable Expansion
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Unset variables expand to the empty string.
//
// # Gateway
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"  # Agent connections
//	  http_addr: "0.0.0.0:8080"   # HTTP API
//	  server_id: ""               # Random when empty
//
//	bridge:
//	  request_timeout: "10s"
//
//	tailscale:
//	  enabled: false
//	  hostname: "relay-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: ""
//	  ephemeral: false
//	  grpc_port: 50051            # Tailnet ports
//	  http_port: 80
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Agent
//
//	gateway:
//	  address: "localhost:50051"
//	  handshake_timeout: "10s"
//	  send_queue_size: 256
//	  queue_while_disconnected: false
//	  reconnect:
//	    initial_delay: "500ms"
//	    max_delay: "30s"
//	    multiplier: 2
//	    jitter: true
//
//	agent:
//	  id: "agent-myhost"      # Defaults to agent-<hostname>
//	  name: "Agent on myhost"
//
//	resources:
//	  - id: nyc
//	    name: New York
//	    base: 22
//
//	sampler:
//	  interval: "5s"
//
//	settings:
//	  backend: file          # file, sqlite
//	  path: settings.json
package config
