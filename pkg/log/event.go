package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates data flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// CipherSuite is the negotiated suite (populated after the handshake).
	CipherSuite string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Record      *RecordEvent      `cbor:"10,keyasint,omitempty"` // Record layer
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Connection/handshake state
	Offload     *OffloadEvent     `cbor:"12,keyasint,omitempty"` // Kernel hand-off
	Transfer    *TransferEvent    `cbor:"13,keyasint,omitempty"` // Zero-copy file transfer
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates incoming data.
	DirectionIn Direction = 0
	// DirectionOut indicates outgoing data.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the stack captured the event.
type Layer uint8

const (
	// LayerSocket is the raw socket layer (accept, read, close).
	LayerSocket Layer = 0
	// LayerHandshake is the software TLS handshake.
	LayerHandshake Layer = 1
	// LayerOffload is the kernel TLS hand-off.
	LayerOffload Layer = 2
	// LayerRecord is the established record layer.
	LayerRecord Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerSocket:
		return "SOCKET"
	case LayerHandshake:
		return "HANDSHAKE"
	case LayerOffload:
		return "OFFLOAD"
	case LayerRecord:
		return "RECORD"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryRecord indicates application data moving through a connection.
	CategoryRecord Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryOffload indicates a kernel offload attempt.
	CategoryOffload Category = 2
	// CategoryTransfer indicates a zero-copy file transfer.
	CategoryTransfer Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryRecord:
		return "RECORD"
	case CategoryState:
		return "STATE"
	case CategoryOffload:
		return "OFFLOAD"
	case CategoryTransfer:
		return "TRANSFER"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// RecordEvent captures application data handled on an established connection.
type RecordEvent struct {
	// Size is the plaintext size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the plaintext (may be truncated for large records).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures connection lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityHandshake indicates a handshake state change.
	StateEntityHandshake StateEntity = 1
	// StateEntityReactor indicates a reactor lifecycle change.
	StateEntityReactor StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityHandshake:
		return "HANDSHAKE"
	case StateEntityReactor:
		return "REACTOR"
	default:
		return "UNKNOWN"
	}
}

// OffloadEvent captures the hand-off of the transmit cipher state to the kernel.
// Key material is never logged.
type OffloadEvent struct {
	// Protocol is the negotiated protocol name (e.g. "TLSv1.2").
	Protocol string `cbor:"1,keyasint"`

	// CipherSuite is the negotiated cipher suite name.
	CipherSuite string `cbor:"2,keyasint"`

	// Sequence is the first record sequence number the kernel will use.
	Sequence uint64 `cbor:"3,keyasint"`

	// Accepted reports whether the kernel accepted the state.
	Accepted bool `cbor:"4,keyasint"`
}

// TransferEvent captures a zero-copy file transfer.
type TransferEvent struct {
	// Offset is the starting file offset.
	Offset int64 `cbor:"1,keyasint"`

	// Requested is the number of bytes requested.
	Requested int64 `cbor:"2,keyasint"`

	// Sent is the number of bytes the kernel transferred.
	Sent int64 `cbor:"3,keyasint"`

	// Duration of the transfer (nanoseconds).
	Duration time.Duration `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the errno value (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
