// ABOUTME: Hand-described gRPC service for the agent hub bidirectional stream.
// ABOUTME: Frames use grpc's default proto codec with structpb.Struct messages.

package wire

import (
	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "relay.v1.Hub"

	// ConnectMethod is the full method name of the agent stream.
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// HubServer is implemented by the gateway side of the agent stream.
type HubServer interface {
	Connect(stream grpc.ServerStream) error
}

// ConnectStreamDesc describes the Connect stream for clients.
var ConnectStreamDesc = grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// HubServiceDesc is registered on a grpc.Server via RegisterHubServer.
var HubServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HubServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    ConnectStreamDesc.StreamName,
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay/v1/hub.proto",
}

// RegisterHubServer registers srv for the Hub service.
func RegisterHubServer(s grpc.ServiceRegistrar, srv HubServer) {
	s.RegisterService(&HubServiceDesc, srv)
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(HubServer).Connect(stream)
}
