// Package transport carries named messages between relay agents and the gateway.
//
// # Client
//
// An agent owns one Client:
//
//	c, err := transport.NewClient(transport.ClientConfig{Address: "gateway:50051"})
//	c.Handle(wire.RequestResourceDetails, handleDetails)
//	c.OnReconnected(func() { ... re-register ... })
//	err = c.Connect(ctx)
//
// Connect fails with *ConnectionError when the first stream cannot be
// established. Afterwards the client reconnects forever in the background
// using BackoffConfig, calling OnDisconnected hooks when a stream drops and
// OnReconnected hooks once a replacement stream has completed the Welcome
// handshake. Every stream gets a fresh connection id from the gateway.
//
// Send only enqueues. It fails with *SendError wrapping ErrClosed after
// Close, ErrDisconnected during a reconnect window (unless
// QueueWhileDisconnected is set) and ErrQueueFull when the bounded queue
// is full. Nothing in Send waits on the network.
//
// # Server
//
// Server implements wire.HubServer. Each accepted stream becomes a *Peer,
// which is the gateway's send handle for that stream. OnConnect and
// OnDisconnect hooks observe the peer lifecycle.
//
// # Dispatch
//
// On both sides inbound messages are dispatched through a Mux. Messages
// with the same name on the same stream run one at a time in arrival
// order; messages with different names run concurrently. Handler errors
// and panics are logged and never tear down the stream.
package transport
