// Package engine adapts a TLS implementation to the wrap/unwrap model used by
// the handshake state machine and the reactor.
//
// An Engine never touches a socket. Callers move ciphertext between the
// network and the engine through buffers and drive the handshake by asking
// for its Status. TLSEngine implements Engine on top of crypto/tls.
package engine

import (
	"errors"

	"github.com/mash-protocol/ktls-go/pkg/buffer"
)

// Errors returned by engines.
var (
	ErrHandshakeIncomplete = errors.New("engine: handshake not complete")
	ErrApplicationDataSent = errors.New("engine: application data already written")
	ErrSecretUnavailable   = errors.New("engine: session secret unavailable")
	ErrRecordTooLarge      = errors.New("engine: record exceeds maximum size")
	ErrAlreadyStarted      = errors.New("engine: handshake already started")
)

// Status is the handshake status reported by an engine.
type Status uint8

const (
	// StatusNotHandshaking means no handshake is in progress.
	StatusNotHandshaking Status = iota
	// StatusNeedRead means the engine needs more ciphertext from the peer.
	StatusNeedRead
	// StatusNeedWrite means the engine has ciphertext to send.
	StatusNeedWrite
	// StatusNeedComputation means deferred computations must run.
	StatusNeedComputation
	// StatusComplete means the handshake finished successfully.
	StatusComplete
	// StatusFailed means the handshake failed.
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNotHandshaking:
		return "NOT_HANDSHAKING"
	case StatusNeedRead:
		return "NEED_READ"
	case StatusNeedWrite:
		return "NEED_WRITE"
	case StatusNeedComputation:
		return "NEED_COMPUTATION"
	case StatusComplete:
		return "COMPLETE"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ResultCode describes the outcome of a wrap or unwrap.
type ResultCode uint8

const (
	// OK means the operation made progress.
	OK ResultCode = iota
	// BufferOverflow means the destination buffer is too small.
	BufferOverflow
	// BufferUnderflow means the source buffer holds only part of a record.
	BufferUnderflow
	// Closed means the engine direction is closed.
	Closed
)

// String returns the result code name.
func (c ResultCode) String() string {
	switch c {
	case OK:
		return "OK"
	case BufferOverflow:
		return "BUFFER_OVERFLOW"
	case BufferUnderflow:
		return "BUFFER_UNDERFLOW"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Result reports what a single wrap or unwrap did.
type Result struct {
	Code     ResultCode
	Status   Status
	Consumed int
	Produced int
}

// Task is a deferred computation the engine needs run before it can
// progress. Tasks run to completion and may block.
type Task func()

// SessionInfo describes the negotiated session and the buffer sizes the
// engine expects.
type SessionInfo struct {
	Protocol              string
	CipherSuite           string
	ApplicationBufferSize int
	PacketBufferSize      int
}

// Engine is a non-blocking TLS engine driven through buffers.
type Engine interface {
	// BeginHandshake starts the handshake. It must be called once.
	BeginHandshake() error

	// Status returns the current handshake status.
	Status() Status

	// Wrap produces ciphertext in dst. During the handshake src is ignored
	// and pending handshake records are emitted; afterwards src is
	// encrypted.
	Wrap(src, dst *buffer.Buffer) (Result, error)

	// Unwrap consumes at most one record from src and writes any plaintext
	// to dst.
	Unwrap(src, dst *buffer.Buffer) (Result, error)

	// PendingComputations returns the tasks to run for StatusNeedComputation.
	PendingComputations() []Task

	IsInboundClosed() bool
	IsOutboundClosed() bool
	CloseInbound()
	CloseOutbound()

	// Session returns the negotiated session details.
	Session() SessionInfo
}

// SecretSource exposes the transmit cipher state after a completed handshake.
type SecretSource interface {
	Session() SessionInfo
	WriteCipher() (WriteCipher, error)
}

// WriteCipher is the engine's transmit cipher state. Implementations are
// distinguished by concrete type.
type WriteCipher interface {
	CipherSuite() uint16
}

// AEADWriteCipher is the write state of a TLS 1.2 AEAD suite.
type AEADWriteCipher struct {
	Version uint16
	Suite   uint16
	Key     []byte
	// FixedIV is the implicit part of the nonce (the salt).
	FixedIV []byte
	// Seq is the sequence number of the next record to be written.
	Seq uint64
}

// CipherSuite returns the suite identifier.
func (c *AEADWriteCipher) CipherSuite() uint16 { return c.Suite }

// OpaqueWriteCipher is returned when the negotiated suite has no exportable
// AEAD state.
type OpaqueWriteCipher struct {
	Version uint16
	Suite   uint16
}

// CipherSuite returns the suite identifier.
func (c *OpaqueWriteCipher) CipherSuite() uint16 { return c.Suite }

// Compile-time interface satisfaction checks.
var (
	_ WriteCipher = (*AEADWriteCipher)(nil)
	_ WriteCipher = (*OpaqueWriteCipher)(nil)
)
