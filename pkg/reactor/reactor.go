// Package reactor serves TLS connections from a single goroutine and hands
// each established session's transmit side to the kernel.
//
// One goroutine polls the listening socket and every connection with epoll.
// Handshakes are advanced whenever their socket becomes readable; once one
// completes, the cipher state is extracted and installed with TCP_ULP and
// TLS_TX, after which writes (including sendfile) are encrypted by the
// kernel. Reads stay in software and each record's plaintext is delivered
// to the Handler.
package reactor

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/ktls-go/pkg/buffer"
	"github.com/mash-protocol/ktls-go/pkg/cipherctx"
	"github.com/mash-protocol/ktls-go/pkg/engine"
	"github.com/mash-protocol/ktls-go/pkg/handshake"
	"github.com/mash-protocol/ktls-go/pkg/log"
	"github.com/mash-protocol/ktls-go/pkg/offload"
	"github.com/mash-protocol/ktls-go/pkg/rawsock"
)

// Reactor errors.
var (
	ErrAlreadyStarted   = errors.New("reactor: already started")
	ErrNoHandler        = errors.New("reactor: handler is required")
	ErrConnClosed       = errors.New("reactor: connection closed")
	ErrHandlerPanic     = errors.New("reactor: handler panicked")
	ErrHandshakeTimeout = errors.New("reactor: handshake timed out")
)

// Handler receives the plaintext of every record read from an established
// connection. It runs on the reactor goroutine.
type Handler interface {
	OnMessage(c *Conn, msg []byte)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(c *Conn, msg []byte)

// OnMessage calls f(c, msg).
func (f HandlerFunc) OnMessage(c *Conn, msg []byte) { f(c, msg) }

// Config configures a Reactor.
type Config struct {
	// Address to listen on (e.g., ":8443" or "127.0.0.1:0").
	Address string

	// TLSConfig contains the server certificate and optional client CAs.
	TLSConfig *engine.TLSConfig

	// Handler receives inbound messages.
	Handler Handler

	// PollInterval is the epoll timeout (default: 100ms).
	PollInterval time.Duration

	// HandshakeTimeout bounds each handshake (default: 10s).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each wait for socket space (default: 5s).
	WriteTimeout time.Duration

	// InitialBufferSize overrides the engine's buffer sizes when positive.
	InitialBufferSize int

	// MaxHandshakeSteps bounds the engine steps of one handshake.
	MaxHandshakeSteps int

	// Backlog is the listen backlog.
	Backlog int

	// MaxEvents is the number of readiness events read per poll.
	MaxEvents int

	// AcceptBackoff controls pausing when accept hits resource limits.
	AcceptBackoff BackoffConfig

	// Offloader installs cipher state on established sockets. When nil the
	// kernel controller is used after checking that kernel TLS is available.
	Offloader offload.Offloader

	// Registry extracts cipher state (default: cipherctx.Default()).
	Registry *cipherctx.Registry

	// Metrics receives reactor metrics (optional).
	Metrics *Metrics

	// ProtocolLogger receives connection events (optional).
	ProtocolLogger log.Logger

	// Logger for debug output (optional).
	Logger *slog.Logger

	// OnConnect is called when a connection becomes established.
	OnConnect func(c *Conn)

	// OnDisconnect is called when an established connection closes.
	OnDisconnect func(c *Conn, err error)
}

// DefaultConfig returns a configuration with default timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:     100 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		Backlog:          rawsock.DefaultBacklog,
		MaxEvents:        128,
	}
}

// Reactor accepts and serves connections on one goroutine.
type Reactor struct {
	config    Config
	tlsConf   *tls.Config
	listener  *rawsock.Socket
	addr      net.Addr
	poller    *poller
	offloader offload.Offloader
	registry  *cipherctx.Registry
	metrics   *Metrics
	plog      log.Logger
	backoff   *Backoff
	worker    *handshake.Worker

	// Owned by the reactor goroutine.
	conns       map[int]*Conn
	acceptPause time.Time
	paused      bool

	established  atomic.Int64
	running      atomic.Bool
	stopping     atomic.Bool
	done         chan struct{}
	shutdownOnce sync.Once
}

// New opens the listening socket and epoll instance.
func New(config Config) (*Reactor, error) {
	if config.TLSConfig == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = def.HandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.Backlog <= 0 {
		config.Backlog = def.Backlog
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = def.MaxEvents
	}

	tlsConf, err := engine.NewServerTLSConfig(config.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	offloader := config.Offloader
	if offloader == nil {
		if err := offload.Init(); err != nil {
			return nil, fmt.Errorf("kernel TLS unavailable: %w", err)
		}
		offloader = offload.NewController()
	}
	registry := config.Registry
	if registry == nil {
		registry = cipherctx.Default()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	ln, addr, err := rawsock.Listen(config.Address, config.Backlog)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	p, err := newPoller(config.MaxEvents)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if err := p.add(ln.FD()); err != nil {
		p.close()
		ln.Close()
		return nil, err
	}

	return &Reactor{
		config:    config,
		tlsConf:   tlsConf,
		listener:  ln,
		addr:      addr,
		poller:    p,
		offloader: offloader,
		registry:  registry,
		metrics:   metrics,
		plog:      log.OrNoop(config.ProtocolLogger),
		backoff:   NewBackoff(config.AcceptBackoff),
		conns:     make(map[int]*Conn),
		done:      make(chan struct{}),
	}, nil
}

// Addr returns the listening address.
func (r *Reactor) Addr() net.Addr { return r.addr }

// ConnectionCount returns the number of established connections.
func (r *Reactor) ConnectionCount() int { return int(r.established.Load()) }

// Metrics returns the reactor's metrics.
func (r *Reactor) Metrics() *Metrics { return r.metrics }

// Run serves connections until ctx is done or Stop is called. All sockets
// are closed when it returns. A Reactor runs at most once.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(r.done)
	defer r.shutdown()

	r.worker = handshake.NewWorker()
	r.logReactorState("", "RUNNING")
	r.debugLog("reactor running", "addr", r.addr)

	ready := make([]int, 0, r.config.MaxEvents)
	for !r.stopping.Load() && ctx.Err() == nil {
		var err error
		ready, err = r.poller.wait(r.config.PollInterval, ready)
		if err != nil {
			return fmt.Errorf("reactor: %w", err)
		}
		for _, fd := range ready {
			if fd == r.listener.FD() {
				r.acceptAll(ctx)
				continue
			}
			if c, ok := r.conns[fd]; ok {
				r.service(ctx, c)
			}
		}
		now := time.Now()
		r.expireHandshakes(now)
		r.resumeAccept(now)
	}
	return nil
}

// Stop asks Run to return and waits for it. It is safe to call from any
// goroutine and more than once.
func (r *Reactor) Stop() {
	r.stopping.Store(true)
	if r.running.Load() {
		<-r.done
		return
	}
	r.shutdown()
}

func (r *Reactor) shutdown() {
	r.shutdownOnce.Do(func() {
		for _, c := range r.conns {
			r.closeConn(c, nil)
		}
		r.poller.close()
		r.listener.Close()
		if r.worker != nil {
			r.worker.Close()
		}
		r.logReactorState("RUNNING", "STOPPED")
	})
}

func (r *Reactor) acceptAll(ctx context.Context) {
	for !r.paused {
		sock, err := r.listener.Accept()
		switch {
		case err == nil:
		case errors.Is(err, rawsock.ErrWouldBlock):
			return
		case errors.Is(err, rawsock.ErrResourceLimit):
			r.pauseAccept(err)
			return
		default:
			r.debugLog("accept failed", "error", err)
			return
		}
		r.backoff.Reset()
		r.startHandshake(ctx, sock)
	}
}

func (r *Reactor) pauseAccept(err error) {
	d := r.backoff.Next()
	r.paused = true
	r.acceptPause = time.Now().Add(d)
	_ = r.poller.remove(r.listener.FD())
	r.metrics.AcceptPauses.Inc()
	r.debugLog("accept paused", "error", err, "pause", d)
}

func (r *Reactor) resumeAccept(now time.Time) {
	if !r.paused || now.Before(r.acceptPause) {
		return
	}
	if err := r.poller.add(r.listener.FD()); err != nil {
		r.debugLog("resume accept failed", "error", err)
		r.acceptPause = now.Add(r.backoff.Next())
		return
	}
	r.paused = false
}

func (r *Reactor) startHandshake(ctx context.Context, sock *rawsock.Socket) {
	now := time.Now()
	c := &Conn{
		connID:   uuid.New().String(),
		sock:     sock,
		eng:      engine.NewServer(r.tlsConf),
		reactor:  r,
		state:    StateHandshaking,
		accepted: now,
		deadline: now.Add(r.config.HandshakeTimeout),
	}

	hs, err := handshake.New(sock, c.eng, r.worker, handshake.Options{
		WriteTimeout:      r.config.WriteTimeout,
		MaxSteps:          r.config.MaxHandshakeSteps,
		InitialBufferSize: r.config.InitialBufferSize,
		Logger:            r.config.Logger,
	})
	if err != nil {
		sock.Close()
		r.debugLog("handshake setup failed", "error", err)
		return
	}
	c.hs = hs

	if err := r.poller.add(sock.FD()); err != nil {
		c.eng.CloseInbound()
		c.eng.CloseOutbound()
		sock.Close()
		r.debugLog("register failed", "error", err)
		return
	}
	r.conns[sock.FD()] = c
	r.logState(c, "", StateHandshaking.String(), "")

	r.advanceHandshake(ctx, c)
}

func (r *Reactor) service(ctx context.Context, c *Conn) {
	switch c.state {
	case StateHandshaking:
		r.advanceHandshake(ctx, c)
	case StateEstablished:
		r.readConn(c)
	}
}

func (r *Reactor) advanceHandshake(ctx context.Context, c *Conn) {
	hctx, cancel := context.WithDeadline(ctx, c.deadline)
	defer cancel()

	sess, err := c.hs.Advance(hctx)
	if errors.Is(err, handshake.ErrWouldBlock) {
		return
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
		}
		r.failHandshake(c, err)
		return
	}
	r.establish(c, sess)
}

func (r *Reactor) expireHandshakes(now time.Time) {
	for _, c := range r.conns {
		if c.state == StateHandshaking && now.After(c.deadline) {
			r.failHandshake(c, ErrHandshakeTimeout)
		}
	}
}

func (r *Reactor) failHandshake(c *Conn, err error) {
	result := resultFailed
	switch {
	case errors.Is(err, handshake.ErrPeerClosed):
		result = resultPeerClosed
	case errors.Is(err, ErrHandshakeTimeout):
		result = resultTimeout
	}
	r.metrics.Handshakes.WithLabelValues(result).Inc()
	r.logError(c, log.LayerHandshake, "handshake", err)
	r.closeConn(c, err)
}

func (r *Reactor) establish(c *Conn, sess *handshake.Session) {
	c.hs = nil
	c.bufs = sess.Buffers
	c.session = c.eng.Session()
	r.metrics.Handshakes.WithLabelValues(resultOK).Inc()
	r.metrics.HandshakeDuration.Observe(time.Since(c.accepted).Seconds())

	d, err := r.registry.Extract(c.eng)
	if err != nil {
		r.metrics.Offloads.WithLabelValues(resultUnsupported).Inc()
		r.logOffload(c, c.session.Protocol, c.session.CipherSuite, 0, false)
		r.logError(c, log.LayerOffload, "extract", err)
		r.closeConn(c, fmt.Errorf("extract: %w", err))
		return
	}
	if err := r.offloader.Offload(c.sock.FD(), d); err != nil {
		r.metrics.Offloads.WithLabelValues(resultRejected).Inc()
		r.logOffload(c, d.Protocol(), d.CipherSuite(), d.Sequence(), false)
		r.logError(c, log.LayerOffload, "offload", err)
		r.closeConn(c, err)
		return
	}
	r.metrics.Offloads.WithLabelValues(resultOK).Inc()
	r.logOffload(c, d.Protocol(), d.CipherSuite(), d.Sequence(), true)

	c.sequence = d.Sequence()
	c.state = StateEstablished
	r.established.Add(1)
	r.metrics.Connections.Inc()
	r.logState(c, StateHandshaking.String(), StateEstablished.String(), "")
	r.debugLog("connection established", "conn_id", c.connID, "remote", c.RemoteAddr(), "suite", c.session.CipherSuite)

	if r.config.OnConnect != nil {
		r.config.OnConnect(c)
	}

	// Records that arrived with the peer's last handshake flight.
	if c.state == StateEstablished && c.bufs.InNet.Len() > 0 {
		r.drainInbound(c)
	}
}

func (r *Reactor) readConn(c *Conn) {
	_, err := c.bufs.InNet.ReadOnce(c.sock)
	switch {
	case err == nil, errors.Is(err, rawsock.ErrWouldBlock), errors.Is(err, buffer.ErrFull):
	case errors.Is(err, io.EOF):
		r.drainInbound(c)
		r.closeConn(c, nil)
		return
	default:
		r.logError(c, log.LayerSocket, "read", err)
		r.closeConn(c, err)
		return
	}
	r.drainInbound(c)
}

// drainInbound unwraps every complete record buffered for c.
func (r *Reactor) drainInbound(c *Conn) {
	for c.state == StateEstablished && c.bufs.InNet.Len() > 0 {
		res, err := c.eng.Unwrap(c.bufs.InNet, c.bufs.InPlain)
		if err != nil {
			r.logError(c, log.LayerRecord, "unwrap", err)
			r.closeConn(c, fmt.Errorf("unwrap: %w", err))
			return
		}
		switch res.Code {
		case engine.BufferOverflow:
			c.bufs.InPlain = buffer.Grow(c.bufs.InPlain, c.eng.Session().ApplicationBufferSize)
			continue
		case engine.BufferUnderflow:
			grown := buffer.HandleUnderflow(c.bufs.InNet, c.eng.Session().PacketBufferSize)
			if grown == c.bufs.InNet {
				grown.Compact()
				if grown.Free() == 0 {
					panic(buffer.ErrPolicyViolation)
				}
			}
			c.bufs.InNet = grown
			return
		case engine.Closed:
			r.deliver(c)
			r.closeConn(c, nil)
			return
		}
		r.deliver(c)
	}
}

// deliver hands the buffered plaintext to the handler. A panicking handler
// closes only its own connection.
func (r *Reactor) deliver(c *Conn) {
	if c.state != StateEstablished || c.bufs.InPlain.Len() == 0 {
		return
	}
	msg := bytes.Clone(c.bufs.InPlain.Bytes())
	c.bufs.InPlain.Reset()
	r.metrics.Messages.Inc()
	r.logRecord(c, log.DirectionIn, msg)

	defer func() {
		if p := recover(); p != nil {
			r.metrics.HandlerPanics.Inc()
			err := fmt.Errorf("%w: %v", ErrHandlerPanic, p)
			r.logError(c, log.LayerRecord, "handler", err)
			r.closeConn(c, err)
		}
	}()
	r.config.Handler.OnMessage(c, msg)
}

func (r *Reactor) closeConn(c *Conn, err error) {
	if c.state == StateClosed {
		return
	}
	prev := c.state
	c.state = StateClosed

	fd := c.sock.FD()
	_ = r.poller.remove(fd)
	delete(r.conns, fd)

	if prev == StateHandshaking {
		// Releases the engine's handshake goroutine.
		c.eng.CloseInbound()
		c.eng.CloseOutbound()
	} else {
		r.established.Add(-1)
		r.metrics.Connections.Dec()
	}
	c.sock.Close()

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	r.logState(c, prev.String(), StateClosed.String(), reason)

	if prev == StateEstablished && r.config.OnDisconnect != nil {
		r.config.OnDisconnect(c, err)
	}
}

// debugLog logs a debug message if logging is enabled.
func (r *Reactor) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}
