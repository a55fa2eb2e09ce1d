// ABOUTME: gRPC server construction for the agent hub stream
// ABOUTME: Applies keepalive policy and registers the relay.v1.Hub service

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/relay-gateway/internal/wire"
)

// newGRPCServer creates a gRPC server serving hub on the Connect stream.
func newGRPCServer(hub wire.HubServer, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	server := grpc.NewServer(append(base, opts...)...)
	wire.RegisterHubServer(server, hub)
	return server
}
