// ABOUTME: Agent-side reconnecting connection to the gateway hub stream.
// ABOUTME: Redials with backoff after stream loss and reports Disconnected/Reconnected events.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/relay-gateway/internal/wire"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendQueueSize    = 256
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Address is a gRPC target, e.g. "localhost:50051".
	Address string

	Backoff          BackoffConfig
	HandshakeTimeout time.Duration

	// SendQueueSize bounds outbound messages waiting for the writer.
	SendQueueSize int

	// QueueWhileDisconnected keeps accepting sends during a reconnect window.
	// When false, Send fails fast with ErrDisconnected.
	QueueWhileDisconnected bool

	// DialOptions are appended after the defaults (insecure creds, keepalive).
	DialOptions []grpc.DialOption

	Logger *slog.Logger
}

// Client is one logical, reconnecting duplex channel to the gateway.
type Client struct {
	cfg      ClientConfig
	mux      *Mux
	logger   *slog.Logger
	cc       *grpc.ClientConn
	outbound chan *structpb.Struct
	rng      *rand.Rand

	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}

	connectMu sync.Mutex

	mu             sync.RWMutex
	connID         string
	live           bool
	started        bool
	closed         bool
	onReconnected  []func()
	onDisconnected []func(error)
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream grpc.ClientStream
	id     string
}

// NewClient creates a Client. No network activity happens until Connect.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg.Backoff = cfg.Backoff.WithDefaults()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                20 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}, cfg.DialOptions...)

	cc, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, &ConnectionError{Addr: cfg.Address, Err: err}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Client{
		cfg:       cfg,
		mux:       NewMux(),
		logger:    cfg.Logger.With("component", "transport", "addr", cfg.Address),
		cc:        cc,
		outbound:  make(chan *structpb.Struct, cfg.SendQueueSize),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		runCtx:    runCtx,
		runCancel: runCancel,
		done:      make(chan struct{}),
	}, nil
}

// Handle registers a handler for inbound messages named name.
func (c *Client) Handle(name string, h Handler) {
	c.mux.Handle(name, h)
}

// OnReconnected registers fn to run each time a new stream replaces a failed one.
func (c *Client) OnReconnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnected = append(c.onReconnected, fn)
}

// OnDisconnected registers fn to run whenever the stream drops. The reason may be nil.
func (c *Client) OnDisconnected(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = append(c.onDisconnected, fn)
}

// ID returns the connection id assigned by the gateway for the current stream.
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// Connected reports whether a stream is currently established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// Connect establishes the first stream and starts the background reconnect loop.
// Calling Connect on an already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.RLock()
	closed, started := c.closed, c.started
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if started {
		return nil
	}

	sess, err := c.open(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sess.cancel()
		return ErrClosed
	}
	c.started = true
	c.live = true
	c.connID = sess.id
	c.mu.Unlock()

	c.logger.Info("connected to gateway", "connection_id", sess.id)
	go c.run(sess)
	return nil
}

// Send enqueues a named message. It never waits for the network.
func (c *Client) Send(name string, payload any) error {
	c.mu.RLock()
	closed, live := c.closed, c.live
	c.mu.RUnlock()

	if closed {
		return &SendError{Name: name, Err: ErrClosed}
	}
	if !live && !c.cfg.QueueWhileDisconnected {
		return &SendError{Name: name, Err: ErrDisconnected}
	}

	frame, err := wire.Encode(name, payload)
	if err != nil {
		return &SendError{Name: name, Err: err}
	}

	select {
	case c.outbound <- frame:
		return nil
	default:
		return &SendError{Name: name, Err: ErrQueueFull}
	}
}

// Close stops reconnecting and releases the underlying gRPC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.live = false
	started := c.started
	c.mu.Unlock()

	c.runCancel()
	if started {
		<-c.done
	}
	return c.cc.Close()
}

// open dials a new stream and waits for the gateway's Welcome frame.
// attempt bounds only the handshake; the stream itself lives until Close.
func (c *Client) open(attempt context.Context) (*session, error) {
	sctx, cancel := context.WithCancel(c.runCtx)

	stopAttempt := context.AfterFunc(attempt, cancel)
	timer := time.AfterFunc(c.cfg.HandshakeTimeout, cancel)

	fail := func(err error) (*session, error) {
		stopAttempt()
		timer.Stop()
		cancel()
		return nil, &ConnectionError{Addr: c.cfg.Address, Err: err}
	}

	stream, err := c.cc.NewStream(sctx, &wire.ConnectStreamDesc, wire.ConnectMethod)
	if err != nil {
		return fail(err)
	}

	welcome, err := readWelcome(stream)
	if err != nil {
		return fail(err)
	}

	// Either stop returning false means cancel already ran.
	if !stopAttempt() || !timer.Stop() {
		return fail(fmt.Errorf("%w: aborted after welcome", ErrHandshake))
	}

	return &session{ctx: sctx, cancel: cancel, stream: stream, id: welcome.ConnectionID}, nil
}

func readWelcome(stream grpc.ClientStream) (wire.WelcomeMessage, error) {
	var welcome wire.WelcomeMessage

	frame := &structpb.Struct{}
	if err := stream.RecvMsg(frame); err != nil {
		return welcome, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	name, raw, err := wire.Decode(frame)
	if err != nil {
		return welcome, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if name != wire.Welcome {
		return welcome, fmt.Errorf("%w: expected %s, got %s", ErrHandshake, wire.Welcome, name)
	}
	if err := json.Unmarshal(raw, &welcome); err != nil {
		return welcome, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if welcome.ConnectionID == "" {
		return welcome, fmt.Errorf("%w: missing connection_id", ErrHandshake)
	}
	return welcome, nil
}

// run serves sessions until Close, reconnecting after every failure.
func (c *Client) run(sess *session) {
	defer close(c.done)

	for {
		err := c.serve(sess)

		c.mu.Lock()
		c.live = false
		c.mu.Unlock()

		if c.runCtx.Err() != nil {
			return
		}

		c.logger.Warn("gateway stream lost", "connection_id", sess.id, "error", err)
		c.emitDisconnected(err)

		sess = c.reconnect()
		if sess == nil {
			return
		}

		c.mu.Lock()
		c.live = true
		c.connID = sess.id
		c.mu.Unlock()

		c.logger.Info("reconnected to gateway", "connection_id", sess.id)
		c.emitReconnected()
	}
}

func (c *Client) reconnect() *session {
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(NextBackoffDelay(c.cfg.Backoff, attempt, c.rng))
		select {
		case <-c.runCtx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sess, err := c.open(c.runCtx)
		if err == nil {
			return sess
		}
		if c.runCtx.Err() != nil {
			return nil
		}
		c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
	}
}

// serve pumps one session until its stream fails. EOF is reported as a nil reason.
func (c *Client) serve(sess *session) error {
	defer sess.cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(sess)
	}()

	disp := newDispatcher(c.runCtx, sess.ctx.Done(), c.mux, c.logger.With("connection_id", sess.id))

	var err error
	for {
		frame := &structpb.Struct{}
		if err = sess.stream.RecvMsg(frame); err != nil {
			break
		}
		name, raw, derr := wire.Decode(frame)
		if derr != nil {
			c.logger.Warn("dropping malformed frame", "error", derr)
			continue
		}
		disp.dispatch(Message{Name: name, Payload: raw, Conn: c})
	}

	disp.close()
	sess.cancel()
	<-writerDone

	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (c *Client) writeLoop(sess *session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case frame := <-c.outbound:
			if err := sess.stream.SendMsg(frame); err != nil {
				name, _, _ := wire.Decode(frame)
				c.logger.Warn("dropping outbound message", "message", name, "error", err)
				sess.cancel()
				return
			}
		}
	}
}

func (c *Client) emitDisconnected(err error) {
	c.mu.RLock()
	fns := append([]func(error){}, c.onDisconnected...)
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *Client) emitReconnected() {
	c.mu.RLock()
	fns := append([]func(){}, c.onReconnected...)
	c.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
