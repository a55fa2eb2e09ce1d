// ABOUTME: Optional tailnet listeners for the gateway using an embedded tsnet node
// ABOUTME: Resolves state dir and auth key, brings the node up, and listens on the configured ports

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/relay-gateway/internal/config"
)

// tailnetNode is the part of tsnet.Server the gateway uses.
type tailnetNode interface {
	Up(ctx context.Context) (*ipnstate.Status, error)
	Listen(network, addr string) (net.Listener, error)
	Close() error
}

var newTailnetNode = func(cfg config.TailscaleConfig, stateDir, authKey string) tailnetNode {
	return &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Ephemeral,
		AuthKey:   authKey,
	}
}

func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for tailscale state, set tailscale.state_dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "relay-gateway", "tailscale"), nil
}

// tailnetAuthKey prefers the configured key and falls back to TS_AUTHKEY.
func tailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// listenTailnet joins the tailnet and opens the agent and HTTP listeners on
// the node. On failure nothing is left open.
func (g *Gateway) listenTailnet(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	ts := g.config.Tailscale

	stateDir, err := tailnetStateDir(ts.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := tailnetAuthKey(ts.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	node := newTailnetNode(ts, stateDir, authKey)
	defer func() {
		if err != nil {
			_ = node.Close()
		}
	}()

	g.logger.Info("joining tailnet", "hostname", ts.Hostname, "state_dir", stateDir, "ephemeral", ts.Ephemeral)
	status, err := node.Up(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("starting tailscale node %s: %w", ts.Hostname, err)
	}
	ip, dnsName := tailnetAddress(status)
	if ip == "" {
		g.logger.Warn("tailscale node has no addresses yet", "hostname", ts.Hostname)
	}
	g.logger.Info("tailscale node ready", "hostname", ts.Hostname, "tailscale_ip", ip, "dns_name", dnsName)

	grpcLn, err = node.Listen("tcp", ":"+strconv.Itoa(ts.GRPCPort))
	if err != nil {
		return nil, nil, fmt.Errorf("listening for agents on tailnet port %d: %w", ts.GRPCPort, err)
	}
	httpLn, err = node.Listen("tcp", ":"+strconv.Itoa(ts.HTTPPort))
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening for HTTP on tailnet port %d: %w", ts.HTTPPort, err)
	}

	g.tailnet = node
	return grpcLn, httpLn, nil
}

// tailnetAddress returns the node's first tailnet IP and its MagicDNS name.
// Either may be empty while the node is still being provisioned.
func tailnetAddress(status *ipnstate.Status) (ip, dnsName string) {
	if status == nil {
		return "", ""
	}
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	return ip, dnsName
}
