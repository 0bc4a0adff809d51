package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"github.com/mash-protocol/ktls-go/pkg/buffer"
)

// TLSEngine is a server-side Engine backed by crypto/tls.
//
// The handshake runs on its own goroutine against an in-memory transport;
// callers observe it only through Status, Wrap, Unwrap and the tasks returned
// by PendingComputations. After the handshake all methods must be called from
// a single goroutine.
type TLSEngine struct {
	conn *tls.Conn
	pipe *pipeConn
	keys *keyLog

	started        bool
	outboundClosed bool
}

// NewServer returns an engine that will run a server handshake with config.
// The config is cloned; its KeyLogWriter, if any, still receives key log
// lines.
func NewServer(config *tls.Config) *TLSEngine {
	keys := &keyLog{}
	cfg := config.Clone()
	if cfg.KeyLogWriter != nil {
		cfg.KeyLogWriter = io.MultiWriter(keys, cfg.KeyLogWriter)
	} else {
		cfg.KeyLogWriter = keys
	}
	// One record per Write keeps the record accounting exact.
	cfg.DynamicRecordSizingDisabled = true

	pipe := newPipeConn()
	return &TLSEngine{
		conn: tls.Server(pipe, cfg),
		pipe: pipe,
		keys: keys,
	}
}

// BeginHandshake starts the handshake goroutine.
func (e *TLSEngine) BeginHandshake() error {
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true
	go func() {
		e.pipe.finish(e.conn.HandshakeContext(context.Background()))
	}()
	return nil
}

// Status returns the current handshake status.
func (e *TLSEngine) Status() Status {
	if !e.started {
		return StatusNotHandshaking
	}
	return e.pipe.status()
}

// PendingComputations returns a task that waits for the handshake goroutine
// to finish its current step.
func (e *TLSEngine) PendingComputations() []Task {
	if e.Status() != StatusNeedComputation {
		return nil
	}
	return []Task{e.pipe.waitIdle}
}

func (e *TLSEngine) established() bool {
	done, err := e.pipe.handshakeResult()
	return done && err == nil
}

// Wrap emits pending handshake records, or encrypts at most one record of
// src once the handshake is complete.
func (e *TLSEngine) Wrap(src, dst *buffer.Buffer) (Result, error) {
	consumed := 0
	if src.Len() > 0 && e.established() && e.pipe.pendingOut() == 0 {
		if e.outboundClosed {
			return Result{Code: Closed, Status: e.Status()}, nil
		}
		n := min(src.Len(), maxPlaintext)
		if dst.Free() < recordHeaderLen+n+(maxCiphertext-maxPlaintext) {
			dst.Compact()
			if dst.Free() < recordHeaderLen+n+(maxCiphertext-maxPlaintext) {
				return Result{Code: BufferOverflow, Status: e.Status()}, nil
			}
		}
		if _, err := e.conn.Write(src.Bytes()[:n]); err != nil {
			return Result{Status: e.Status()}, fmt.Errorf("engine: wrap: %w", err)
		}
		src.Consume(n)
		consumed = n
	}

	if e.pipe.pendingOut() > dst.Free() {
		dst.Compact()
	}
	produced, ok := e.pipe.drainInto(dst.WriteSpace())
	if !ok {
		return Result{Code: BufferOverflow, Status: e.Status(), Consumed: consumed}, nil
	}
	dst.Advance(produced)

	code := OK
	if e.outboundClosed && e.pipe.pendingOut() == 0 {
		code = Closed
	}
	return Result{Code: code, Status: e.Status(), Consumed: consumed, Produced: produced}, nil
}

// Unwrap consumes one complete record from src. During the handshake the
// record is handed to the handshake goroutine; afterwards it is decrypted
// into dst.
func (e *TLSEngine) Unwrap(src, dst *buffer.Buffer) (Result, error) {
	if e.pipe.inboundClosed() {
		return Result{Code: Closed, Status: e.Status()}, nil
	}

	_, length, ok := parseRecordHeader(src.Bytes())
	if !ok {
		return Result{Code: BufferUnderflow, Status: e.Status()}, nil
	}
	if length > maxCiphertext {
		return Result{Status: e.Status()}, ErrRecordTooLarge
	}
	size := recordHeaderLen + length
	if src.Len() < size {
		return Result{Code: BufferUnderflow, Status: e.Status()}, nil
	}

	done, hsErr := e.pipe.handshakeResult()
	if !done {
		e.pipe.feed(src.Bytes()[:size])
		src.Consume(size)
		return Result{Code: OK, Status: e.Status(), Consumed: size}, nil
	}
	if hsErr != nil {
		return Result{Code: Closed, Status: StatusFailed}, hsErr
	}

	if dst.Free() < maxPlaintext {
		dst.Compact()
		if dst.Free() < maxPlaintext {
			return Result{Code: BufferOverflow, Status: e.Status()}, nil
		}
	}

	e.pipe.feed(src.Bytes()[:size])
	src.Consume(size)

	n, err := e.conn.Read(dst.WriteSpace())
	dst.Advance(n)
	res := Result{Code: OK, Consumed: size, Produced: n}
	switch {
	case err == nil, isWouldBlock(err):
	case errors.Is(err, io.EOF):
		e.pipe.closeInbound()
		res.Code = Closed
	default:
		res.Status = e.Status()
		return res, fmt.Errorf("engine: unwrap: %w", err)
	}
	res.Status = e.Status()
	return res, nil
}

// Err returns the error the handshake failed with, if any.
func (e *TLSEngine) Err() error {
	_, err := e.pipe.handshakeResult()
	return err
}

// IsInboundClosed reports whether no more records will be accepted.
func (e *TLSEngine) IsInboundClosed() bool {
	return e.pipe.inboundClosed()
}

// IsOutboundClosed reports whether CloseOutbound was called.
func (e *TLSEngine) IsOutboundClosed() bool {
	return e.outboundClosed
}

// CloseInbound stops accepting peer records. A handshake in progress fails.
func (e *TLSEngine) CloseInbound() {
	e.pipe.closeInbound()
}

// CloseOutbound closes the write direction. On an established session a
// close_notify alert is queued for the next Wrap.
func (e *TLSEngine) CloseOutbound() {
	if e.outboundClosed {
		return
	}
	e.outboundClosed = true
	if e.established() {
		_ = e.conn.CloseWrite()
	}
}

// Session returns the negotiated session. Protocol and suite are empty until
// the handshake has completed.
func (e *TLSEngine) Session() SessionInfo {
	info := SessionInfo{
		ApplicationBufferSize: ApplicationBufferSize,
		PacketBufferSize:      PacketBufferSize,
	}
	if !e.established() {
		return info
	}
	state := e.conn.ConnectionState()
	info.Protocol = ProtocolName(state.Version)
	info.CipherSuite = tls.CipherSuiteName(state.CipherSuite)
	return info
}

// ConnectionState returns the crypto/tls state of a completed handshake.
func (e *TLSEngine) ConnectionState() (tls.ConnectionState, bool) {
	if !e.established() {
		return tls.ConnectionState{}, false
	}
	return e.conn.ConnectionState(), true
}

// WriteCipher returns the transmit cipher state. It must be called after the
// handshake and before any application data is wrapped.
func (e *TLSEngine) WriteCipher() (WriteCipher, error) {
	if !e.established() {
		return nil, ErrHandshakeIncomplete
	}
	state := e.conn.ConnectionState()

	serverRandom, encrypted, appData := e.pipe.trackerState()
	if appData > 0 {
		return nil, ErrApplicationDataSent
	}

	suite, ok := aeadSuites[state.CipherSuite]
	if !ok || state.Version != tls.VersionTLS12 {
		return &OpaqueWriteCipher{Version: state.Version, Suite: state.CipherSuite}, nil
	}

	clientRandom, masterSecret, ok := e.keys.secret()
	if !ok || serverRandom == nil {
		return nil, ErrSecretUnavailable
	}
	key, iv := suite.serverWriteKeys(masterSecret, clientRandom, serverRandom)

	return &AEADWriteCipher{
		Version: state.Version,
		Suite:   state.CipherSuite,
		Key:     key,
		FixedIV: iv,
		Seq:     encrypted,
	}, nil
}

// Compile-time interface satisfaction checks.
var (
	_ Engine       = (*TLSEngine)(nil)
	_ SecretSource = (*TLSEngine)(nil)
)
