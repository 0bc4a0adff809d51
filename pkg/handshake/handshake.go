// Package handshake drives a non-blocking TLS server handshake over a raw
// socket.
//
// A Handshaker is resumable: Advance runs the engine until the handshake
// completes, fails, or needs peer bytes that have not arrived yet, in which
// case it returns ErrWouldBlock and can be called again once the socket is
// readable. Writes are flushed synchronously.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mash-protocol/ktls-go/pkg/buffer"
	"github.com/mash-protocol/ktls-go/pkg/engine"
	"github.com/mash-protocol/ktls-go/pkg/rawsock"
)

// Handshake errors.
var (
	ErrWouldBlock      = errors.New("handshake: waiting for peer data")
	ErrPeerClosed      = errors.New("handshake: peer closed connection")
	ErrHandshakeFailed = errors.New("handshake: failed")
	ErrStalled         = errors.New("handshake: no progress")
	ErrWorkerClosed    = errors.New("handshake: worker closed")
)

// Socket is the non-blocking transport a handshake runs on. Read and Write
// return rawsock.ErrWouldBlock when they cannot make progress and Read
// returns io.EOF once the peer has shut down its side.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	WaitReadable(timeout time.Duration) error
	WaitWritable(timeout time.Duration) error
}

// Options tunes a Handshaker.
type Options struct {
	// WriteTimeout bounds each wait for socket writability while flushing.
	WriteTimeout time.Duration

	// MaxSteps bounds the number of engine steps before ErrStalled.
	MaxSteps int

	// InitialBufferSize overrides the engine's buffer sizes when positive.
	// Buffers grow as needed.
	InitialBufferSize int

	// PollInterval is how long Run waits for readability between steps.
	PollInterval time.Duration

	// Logger for debug output (optional).
	Logger *slog.Logger
}

// DefaultOptions returns the options used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		WriteTimeout: 5 * time.Second,
		MaxSteps:     10000,
		PollInterval: 100 * time.Millisecond,
	}
}

// Buffers are the four per-connection buffers.
type Buffers struct {
	OutPlain *buffer.Buffer
	OutNet   *buffer.Buffer
	InNet    *buffer.Buffer
	InPlain  *buffer.Buffer
}

// Session is the result of a completed handshake: the engine and the
// buffers, which may still hold peer ciphertext read past the Finished
// message.
type Session struct {
	Engine engine.Engine
	Buffers
	Steps int
}

// Handshaker runs one server handshake. It is not safe for concurrent use.
type Handshaker struct {
	sock   Socket
	eng    engine.Engine
	worker *Worker
	opts   Options
	bufs   Buffers

	steps   int
	peerEOF bool
	sess    *Session
	err     error
}

// New prepares the buffers and begins the engine handshake.
func New(sock Socket, eng engine.Engine, worker *Worker, opts Options) (*Handshaker, error) {
	def := DefaultOptions()
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = def.MaxSteps
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}

	info := eng.Session()
	app, pkt := info.ApplicationBufferSize, info.PacketBufferSize
	if opts.InitialBufferSize > 0 {
		app, pkt = opts.InitialBufferSize, opts.InitialBufferSize
	}

	if err := eng.BeginHandshake(); err != nil {
		return nil, fmt.Errorf("begin handshake: %w", err)
	}
	return &Handshaker{
		sock:   sock,
		eng:    eng,
		worker: worker,
		opts:   opts,
		bufs: Buffers{
			OutPlain: buffer.New(app),
			OutNet:   buffer.New(pkt),
			InNet:    buffer.New(pkt),
			InPlain:  buffer.New(app),
		},
	}, nil
}

// Steps returns the number of engine steps taken so far.
func (h *Handshaker) Steps() int { return h.steps }

// Advance runs the handshake as far as it can without waiting for the peer.
// It returns the session once complete, ErrWouldBlock if more peer bytes are
// needed, or another error if the handshake failed. Failures are final.
func (h *Handshaker) Advance(ctx context.Context) (*Session, error) {
	if h.err != nil {
		return nil, h.err
	}
	if h.sess != nil {
		return h.sess, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, h.fail(fmt.Errorf("%w: %w", ErrHandshakeFailed, err))
		}
		if h.steps >= h.opts.MaxSteps {
			return nil, h.fail(ErrStalled)
		}
		h.steps++

		var err error
		switch status := h.eng.Status(); status {
		case engine.StatusComplete, engine.StatusNotHandshaking:
			h.sess = &Session{Engine: h.eng, Buffers: h.bufs, Steps: h.steps}
			h.debugLog("handshake complete", "steps", h.steps, "suite", h.eng.Session().CipherSuite)
			return h.sess, nil
		case engine.StatusFailed:
			return nil, h.fail(h.failure())
		case engine.StatusNeedRead:
			err = h.read()
		case engine.StatusNeedWrite:
			err = h.write()
		case engine.StatusNeedComputation:
			err = h.worker.Run(ctx, h.eng.PendingComputations())
		default:
			panic(fmt.Sprintf("handshake: unexpected engine status %v", status))
		}

		if errors.Is(err, ErrWouldBlock) {
			h.steps--
			return nil, ErrWouldBlock
		}
		if err != nil {
			return nil, h.fail(err)
		}
	}
}

// Run drives the handshake to completion, polling the socket between steps.
func (h *Handshaker) Run(ctx context.Context) (*Session, error) {
	for {
		sess, err := h.Advance(ctx)
		if !errors.Is(err, ErrWouldBlock) {
			return sess, err
		}
		if err := h.sock.WaitReadable(h.opts.PollInterval); err != nil && !errors.Is(err, rawsock.ErrTimeout) {
			return nil, h.fail(fmt.Errorf("wait readable: %w", err))
		}
	}
}

func (h *Handshaker) read() error {
	_, rerr := h.bufs.InNet.ReadOnce(h.sock)
	wouldBlock := errors.Is(rerr, rawsock.ErrWouldBlock)
	switch {
	case rerr == nil, wouldBlock, errors.Is(rerr, buffer.ErrFull):
	case errors.Is(rerr, io.EOF):
		if h.eng.IsInboundClosed() && h.eng.IsOutboundClosed() {
			return ErrPeerClosed
		}
		h.peerEOF = true
		h.eng.CloseInbound()
		h.eng.CloseOutbound()
		return nil
	default:
		return fmt.Errorf("read: %w", rerr)
	}
	if h.bufs.InNet.Len() == 0 {
		if wouldBlock {
			return ErrWouldBlock
		}
		return nil
	}

	res, err := h.eng.Unwrap(h.bufs.InNet, h.bufs.InPlain)
	if err != nil {
		return fmt.Errorf("unwrap: %w", err)
	}
	switch res.Code {
	case engine.BufferOverflow:
		h.bufs.InPlain = buffer.Grow(h.bufs.InPlain, h.eng.Session().ApplicationBufferSize)
	case engine.BufferUnderflow:
		grown := buffer.HandleUnderflow(h.bufs.InNet, h.eng.Session().PacketBufferSize)
		if grown == h.bufs.InNet {
			grown.Compact()
			if grown.Free() == 0 {
				panic(buffer.ErrPolicyViolation)
			}
		}
		h.bufs.InNet = grown
		if wouldBlock {
			return ErrWouldBlock
		}
	case engine.Closed:
		if h.eng.IsOutboundClosed() {
			return ErrPeerClosed
		}
		h.eng.CloseOutbound()
	}
	return nil
}

func (h *Handshaker) write() error {
	h.bufs.OutNet.Reset()
	res, err := h.eng.Wrap(h.bufs.OutPlain, h.bufs.OutNet)
	if err != nil {
		return fmt.Errorf("wrap: %w", err)
	}
	switch res.Code {
	case engine.BufferOverflow:
		h.bufs.OutNet = buffer.Grow(h.bufs.OutNet, h.eng.Session().PacketBufferSize)
		return nil
	case engine.BufferUnderflow:
		panic("handshake: wrap reported buffer underflow")
	case engine.Closed:
		if err := h.flush(); err != nil {
			return err
		}
		h.bufs.InNet.Reset()
		return nil
	default:
		return h.flush()
	}
}

func (h *Handshaker) flush() error {
	for h.bufs.OutNet.Len() > 0 {
		n, err := h.sock.Write(h.bufs.OutNet.Bytes())
		if n > 0 {
			h.bufs.OutNet.Consume(n)
		}
		if err == nil {
			continue
		}
		if h.peerEOF {
			return ErrPeerClosed
		}
		if !errors.Is(err, rawsock.ErrWouldBlock) {
			return fmt.Errorf("write: %w", err)
		}
		if err := h.sock.WaitWritable(h.opts.WriteTimeout); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

func (h *Handshaker) failure() error {
	if h.peerEOF {
		return ErrPeerClosed
	}
	if e, ok := h.eng.(interface{ Err() error }); ok && e.Err() != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, e.Err())
	}
	return ErrHandshakeFailed
}

func (h *Handshaker) fail(err error) error {
	h.err = err
	h.debugLog("handshake failed", "steps", h.steps, "error", err)
	return err
}

// debugLog logs a debug message if logging is enabled.
func (h *Handshaker) debugLog(msg string, args ...any) {
	if h.opts.Logger != nil {
		h.opts.Logger.Debug(msg, args...)
	}
}
