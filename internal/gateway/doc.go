// Package gateway orchestrates the relay-gateway server components.
//
// # Overview
//
// The Gateway owns the resource registry, the correlation bridge, the gRPC
// server agents connect to, and the HTTP API. Agents open one
// relay.v1.Hub/Connect stream each; the hub endpoint feeds their
// registrations and pushes into the registry and routes their replies to
// the bridge.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - 200 "ready (N agents)" or 503 when none is connected
//   - GET /api/snapshot - Registry snapshot as JSON
//   - GET /api/events - SSE stream: "snapshot" on connect, "change" after updates
//   - GET /api/agents - Registered agents with connection state
//   - GET /api/agents/{agentID}/resources/{resourceID}/details?timeout=5s - HTML fragment
//   - POST /api/agents/{agentID}/save?timeout=5s - Raw body forwarded to the agent
//
// Bridge failures map to 503 (agent not connected, shutting down) and
// 504 (no reply before the timeout).
//
// # Listeners
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens on tailscale.grpc_port (50051) and tailscale.http_port (80)
// there; server addresses are ignored. Otherwise it listens on server.grpc_addr and server.http_addr.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown closes change streams, fails pending requests, then stops the
// HTTP and gRPC servers, forcing the gRPC stop when ctx expires.
package gateway
