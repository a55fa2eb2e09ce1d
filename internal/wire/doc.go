// Package wire defines the frames exchanged between relay agents and the gateway.
//
// # Transport
//
// Agents open a single bidirectional gRPC stream, relay.v1.Hub/Connect.
// There is no generated code: the service is described by HubServiceDesc
// and frames are google.protobuf.Struct values, so grpc's default proto
// codec carries them unchanged.
//
// # Frames
//
// Every frame has two fields:
//
//	name:    message name, e.g. "PushResourceUpdate"
//	payload: JSON value of the payload struct for that name
//
// Encode and Decode convert between payload structs and frames. Decode
// returns the payload as json.RawMessage so the receiver picks the
// concrete type from the name.
//
// # Catalog
//
//	Welcome                 gateway -> agent   WelcomeMessage
//	RegisterAgent           agent   -> gateway AgentInfo
//	RegisterResources       agent   -> gateway ResourceList
//	PushResourceUpdate      agent   -> gateway ResourceUpdate
//	RequestResourceDetails  gateway -> agent   DetailsRequest
//	ProvideResourceDetails  agent   -> gateway DetailsReply
//	PerformSave             gateway -> agent   SaveRequest
//	SaveCompleted           agent   -> gateway SaveReply
package wire
