// ABOUTME: Gateway orchestrator that coordinates the gRPC hub and HTTP API servers
// ABOUTME: Owns the registry and bridge, and manages listener and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/2389/relay-gateway/internal/bridge"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/hub"
	"github.com/2389/relay-gateway/internal/registry"
	"github.com/2389/relay-gateway/internal/transport"
)

// Gateway orchestrates the relay-gateway server components.
type Gateway struct {
	config     *config.Config
	registry   *registry.Registry
	bridge     *bridge.Bridge
	hubServer  *transport.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	tailnet    tailnetNode
	logger     *slog.Logger

	// serverID identifies this gateway instance to agents
	serverID string
}

// New creates a Gateway from cfg. Nothing listens until Run or Serve.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	serverID := cfg.Server.ServerID
	if serverID == "" {
		serverID = generateServerID()
	}

	reg := registry.New(logger)
	br := bridge.New(bridge.Config{
		RequestTimeout: cfg.Bridge.RequestTimeout,
		Logger:         logger,
	})

	hubServer := transport.NewServer(transport.ServerConfig{
		ServerID: serverID,
		Logger:   logger,
	})
	hub.New(reg, br, logger).Attach(hubServer)

	gw := &Gateway{
		config:     cfg,
		registry:   reg,
		bridge:     br,
		hubServer:  hubServer,
		grpcServer: newGRPCServer(hubServer),
		logger:     logger.With("component", "gateway", "server_id", serverID),
		serverID:   serverID,
	}

	gw.httpServer = &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// ServerID returns the id sent to agents in the Welcome message.
func (g *Gateway) ServerID() string { return g.serverID }

// Registry returns the gateway's resource registry.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Bridge returns the gateway's correlation bridge.
func (g *Gateway) Bridge() *bridge.Bridge { return g.bridge }

// shutdownTimeout bounds how long Serve waits for in-flight streams and
// HTTP requests once it starts stopping.
const shutdownTimeout = 5 * time.Second

// Run opens the configured listeners and serves until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.listen(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, grpcLn, httpLn)
}

// listen opens the agent and HTTP listeners, on the tailnet when Tailscale
// is enabled and on plain TCP otherwise.
func (g *Gateway) listen(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	srv := g.config.Server
	if g.config.Tailscale.Enabled {
		if srv.GRPCAddr != "" || srv.HTTPAddr != "" {
			g.logger.Warn("server addresses are ignored on the tailnet",
				"grpc_addr", srv.GRPCAddr, "http_addr", srv.HTTPAddr)
		}
		return g.listenTailnet(ctx)
	}

	grpcLn, err = net.Listen("tcp", srv.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening for agents on %s: %w", srv.GRPCAddr, err)
	}
	httpLn, err = net.Listen("tcp", srv.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening for HTTP on %s: %w", srv.HTTPAddr, err)
	}
	return grpcLn, httpLn, nil
}

// Serve runs the hub and the HTTP API on the given listeners until ctx is
// canceled or either server fails, then shuts everything down. It returns
// nil after a clean stop.
func (g *Gateway) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	failed := make(chan error, 2)

	go func() {
		g.logger.Info("accepting agent streams", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			failed <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		g.logger.Info("serving HTTP API", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, stopping gateway")
	case serveErr = <-failed:
		g.logger.Error("server failed", "error", serveErr)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, g.Shutdown(stopCtx))
}

// Shutdown fails pending requests, ends change streams, and stops both
// servers and the tailnet node. Streams still open when ctx ends are cut.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Open SSE streams end when the registry closes.
	g.registry.Close()
	g.bridge.Close()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}

	if g.tailnet != nil {
		if err := g.tailnet.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func generateServerID() string {
	return "relay-gateway-" + uuid.NewString()[:8]
}
