package reactor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mash-protocol/ktls-go/pkg/engine"
	"github.com/mash-protocol/ktls-go/pkg/handshake"
	"github.com/mash-protocol/ktls-go/pkg/log"
	"github.com/mash-protocol/ktls-go/pkg/offload"
	"github.com/mash-protocol/ktls-go/pkg/rawsock"
)

// State is the lifecycle state of a connection.
type State uint8

const (
	// StateHandshaking means the TLS handshake is in progress.
	StateHandshaking State = iota
	// StateEstablished means the transmit side is offloaded to the kernel.
	StateEstablished
	// StateClosed means the socket has been closed.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "HANDSHAKING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// maxLoggedPayload bounds the plaintext copied into record events.
const maxLoggedPayload = 256

// Conn is one accepted connection. It belongs to the reactor goroutine; its
// methods must only be called from a Handler or the connection callbacks.
//
// Write and SendFile run on the reactor goroutine. Each wait for socket
// space may last up to Config.WriteTimeout, and no other connection is
// serviced meanwhile. Handlers that stream large files to slow peers should
// use Transfer and resume from their own readiness tracking instead.
type Conn struct {
	connID  string
	sock    *rawsock.Socket
	eng     *engine.TLSEngine
	hs      *handshake.Handshaker
	bufs    handshake.Buffers
	reactor *Reactor

	state    State
	accepted time.Time
	deadline time.Time
	session  engine.SessionInfo
	sequence uint64
}

// ConnID returns the connection's unique identifier.
func (c *Conn) ConnID() string { return c.connID }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.sock.RemoteAddr() }

// State returns the connection state.
func (c *Conn) State() State { return c.state }

// Session returns the negotiated protocol and cipher suite.
func (c *Conn) Session() engine.SessionInfo { return c.session }

// Sequence returns the record sequence number the kernel started from.
func (c *Conn) Sequence() uint64 { return c.sequence }

// Write sends p on the offloaded socket. The kernel frames and encrypts it.
// It blocks the reactor until p is written or WriteTimeout expires.
func (c *Conn) Write(p []byte) (int, error) {
	if c.state != StateEstablished {
		return 0, ErrConnClosed
	}
	n, err := c.sock.WriteFull(p, c.reactor.config.WriteTimeout)
	c.reactor.metrics.BytesWritten.Add(float64(n))
	c.reactor.logRecord(c, log.DirectionOut, p[:n])
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Transfer performs a single zero-copy send of up to count bytes of f
// starting at offset. It may send fewer bytes than requested.
func (c *Conn) Transfer(f *os.File, offset, count int64) (int64, error) {
	if c.state != StateEstablished {
		return 0, ErrConnClosed
	}
	start := time.Now()
	n, err := offload.Transfer(c.sock.FD(), int(f.Fd()), offset, count)
	c.recordTransfer(offset, count, n, time.Since(start), err)
	return n, err
}

// SendFile sends count bytes of f starting at offset, waiting for socket
// space as needed. If f ends before count bytes are sent, it returns the
// bytes sent with an error wrapping offload.ErrTransferFault.
func (c *Conn) SendFile(f *os.File, offset, count int64) (int64, error) {
	if c.state != StateEstablished {
		return 0, ErrConnClosed
	}
	start := time.Now()
	var sent int64
	var err error
	for sent < count {
		var n int64
		n, err = offload.Transfer(c.sock.FD(), int(f.Fd()), offset+sent, count-sent)
		sent += n
		if err == nil {
			if n == 0 {
				err = fmt.Errorf("sendfile: %w: sent %d of %d bytes", offload.ErrTransferFault, sent, count)
				break
			}
			continue
		}
		if !errors.Is(err, offload.ErrWouldBlock) {
			break
		}
		if err = c.sock.WaitWritable(c.reactor.config.WriteTimeout); err != nil {
			err = fmt.Errorf("sendfile: %w", err)
			break
		}
	}
	c.recordTransfer(offset, count, sent, time.Since(start), err)
	return sent, err
}

// Close closes the connection.
func (c *Conn) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.reactor.closeConn(c, nil)
	return nil
}

func (c *Conn) recordTransfer(offset, requested, sent int64, d time.Duration, err error) {
	r := c.reactor
	r.metrics.BytesTransferred.Add(float64(sent))
	r.logEvent(c, log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerRecord,
		Category:  log.CategoryTransfer,
		Transfer: &log.TransferEvent{
			Offset:    offset,
			Requested: requested,
			Sent:      sent,
			Duration:  d,
		},
	})
	if err != nil && !errors.Is(err, offload.ErrWouldBlock) {
		r.logError(c, log.LayerRecord, "sendfile", err)
	}
}
