// ABOUTME: Gateway-side implementation of the hub stream; one Peer per agent stream.
// ABOUTME: Sends the Welcome handshake, dispatches inbound frames, reports connect/disconnect.

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcpeer "google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/relay-gateway/internal/wire"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	ServerID      string
	SendQueueSize int
	Logger        *slog.Logger
}

// Server accepts agent streams and dispatches their messages.
type Server struct {
	mux       *Mux
	serverID  string
	queueSize int
	logger    *slog.Logger

	mu           sync.RWMutex
	peers        map[string]*Peer
	onConnect    []func(*Peer)
	onDisconnect []func(*Peer, error)
}

var _ wire.HubServer = (*Server)(nil)

// NewServer creates a Server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		mux:       NewMux(),
		serverID:  cfg.ServerID,
		queueSize: cfg.SendQueueSize,
		logger:    cfg.Logger,
		peers:     make(map[string]*Peer),
	}
}

// Handle registers a handler for inbound messages named name.
func (s *Server) Handle(name string, h Handler) {
	s.mux.Handle(name, h)
}

// OnConnect registers fn to run after a stream completes the handshake.
func (s *Server) OnConnect(fn func(*Peer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// OnDisconnect registers fn to run after a stream ends. The reason is nil for a clean close.
func (s *Server) OnDisconnect(fn func(*Peer, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// Peer returns the live peer with the given connection id.
func (s *Server) Peer(id string) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// PeerCount returns the number of live streams.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Connect serves one agent stream until it ends.
func (s *Server) Connect(stream grpc.ServerStream) error {
	p := newPeer(stream.Context(), s.queueSize)
	logger := s.logger.With("connection_id", p.id)

	welcome, err := wire.Encode(wire.Welcome, wire.WelcomeMessage{ConnectionID: p.id, ServerID: s.serverID})
	if err != nil {
		return status.Errorf(codes.Internal, "encoding welcome: %v", err)
	}
	if err := stream.SendMsg(welcome); err != nil {
		return status.Errorf(codes.Unavailable, "sending welcome: %v", err)
	}

	s.track(p)
	logger.Info("agent stream opened", "remote", p.remote)
	s.emitConnect(p)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(p, stream, logger)
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLoop(p, stream, logger)
	}()

	var reason error
	select {
	case reason = <-readErr:
	case <-p.ctx.Done():
	}

	p.Close()
	<-writerDone
	s.untrack(p)

	if errors.Is(reason, io.EOF) || status.Code(reason) == codes.Canceled {
		reason = nil
	}
	logger.Info("agent stream closed", "reason", reason)
	s.emitDisconnect(p, reason)

	if reason != nil {
		return status.Errorf(codes.Internal, "receiving message: %v", reason)
	}
	return nil
}

func (s *Server) readLoop(p *Peer, stream grpc.ServerStream, logger *slog.Logger) error {
	disp := newDispatcher(p.ctx, p.ctx.Done(), s.mux, logger)
	defer disp.close()

	for {
		frame := &structpb.Struct{}
		if err := stream.RecvMsg(frame); err != nil {
			return err
		}
		name, raw, err := wire.Decode(frame)
		if err != nil {
			logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if p.ctx.Err() != nil {
			return nil
		}
		disp.dispatch(Message{Name: name, Payload: raw, Conn: p})
	}
}

func (s *Server) writeLoop(p *Peer, stream grpc.ServerStream, logger *slog.Logger) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case frame := <-p.outbound:
			if err := stream.SendMsg(frame); err != nil {
				logger.Warn("send to agent failed", "error", err)
				p.Close()
				return
			}
		}
	}
}

func (s *Server) track(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.id] = p
}

func (s *Server) untrack(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p.id)
}

func (s *Server) emitConnect(p *Peer) {
	s.mu.RLock()
	fns := append([]func(*Peer){}, s.onConnect...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (s *Server) emitDisconnect(p *Peer, reason error) {
	s.mu.RLock()
	fns := append([]func(*Peer, error){}, s.onDisconnect...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(p, reason)
	}
}

// Peer is the gateway's handle for one agent stream. A reconnecting agent
// gets a new Peer with a new ID.
type Peer struct {
	id       string
	remote   string
	outbound chan *structpb.Struct
	ctx      context.Context
	cancel   context.CancelFunc
}

func newPeer(parent context.Context, queueSize int) *Peer {
	ctx, cancel := context.WithCancel(parent)
	remote := ""
	if pr, ok := grpcpeer.FromContext(parent); ok && pr.Addr != nil {
		remote = pr.Addr.String()
	}
	return &Peer{
		id:       uuid.NewString(),
		remote:   remote,
		outbound: make(chan *structpb.Struct, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the connection id sent to the agent in Welcome.
func (p *Peer) ID() string { return p.id }

// Remote returns the remote address, if known.
func (p *Peer) Remote() string { return p.remote }

// Send enqueues a named message for the agent.
func (p *Peer) Send(name string, payload any) error {
	if p.ctx.Err() != nil {
		return &SendError{Name: name, Err: ErrClosed}
	}
	frame, err := wire.Encode(name, payload)
	if err != nil {
		return &SendError{Name: name, Err: err}
	}
	select {
	case p.outbound <- frame:
		return nil
	default:
		return &SendError{Name: name, Err: ErrQueueFull}
	}
}

// Close ends the stream. The agent observes a disconnect and reconnects.
func (p *Peer) Close() {
	p.cancel()
}
