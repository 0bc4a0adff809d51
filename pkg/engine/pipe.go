package engine

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// errWouldBlock is returned by pipeConn reads once the handshake is over and
// no ciphertext is queued. crypto/tls does not latch temporary errors.
var errWouldBlock error = wouldBlockError{}

type wouldBlockError struct{}

func (wouldBlockError) Error() string { return "engine: would block" }
func (wouldBlockError) Timeout() bool { return true }
func (wouldBlockError) Temporary() bool { return true }

func isWouldBlock(err error) bool {
	var wb wouldBlockError
	return errors.As(err, &wb)
}

// pipeConn is the in-memory transport under the tls.Conn. Ciphertext from the
// peer is fed into in; ciphertext the tls.Conn writes accumulates in out.
//
// While the handshake runs, reads block and the engine reports NeedRead once
// the handshake goroutine is parked on an empty input. After the handshake
// reads never block.
type pipeConn struct {
	mu   sync.Mutex
	cond *sync.Cond

	in  bytes.Buffer
	out bytes.Buffer

	tracker recordTracker

	blocking bool
	parked   bool
	inClosed bool
	closed   bool
	finished bool
	hsErr    error
}

func newPipeConn() *pipeConn {
	p := &pipeConn{blocking: true}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeConn) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.in.Len() == 0 {
		if p.inClosed || p.closed {
			return 0, io.EOF
		}
		if !p.blocking {
			return 0, errWouldBlock
		}
		p.parked = true
		p.cond.Broadcast()
		p.cond.Wait()
		p.parked = false
	}
	return p.in.Read(b)
}

func (p *pipeConn) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, net.ErrClosed
	}
	p.tracker.observe(b)
	p.out.Write(b)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *pipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

func (p *pipeConn) LocalAddr() net.Addr { return pipeAddr{} }
func (p *pipeConn) RemoteAddr() net.Addr { return pipeAddr{} }
func (p *pipeConn) SetDeadline(time.Time) error { return nil }
func (p *pipeConn) SetReadDeadline(time.Time) error { return nil }
func (p *pipeConn) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "engine" }
func (pipeAddr) String() string { return "engine" }

// feed queues one record of peer ciphertext.
func (p *pipeConn) feed(rec []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(rec)
	p.cond.Broadcast()
}

// finish records the handshake result and switches reads to non-blocking.
func (p *pipeConn) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
	p.hsErr = err
	p.blocking = false
	p.cond.Broadcast()
}

func (p *pipeConn) closeInbound() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inClosed = true
	p.parked = false
	p.cond.Broadcast()
}

func (p *pipeConn) inboundClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inClosed
}

// handshakeResult reports whether the handshake goroutine has returned and
// with what error.
func (p *pipeConn) handshakeResult() (done bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished, p.hsErr
}

func (p *pipeConn) status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.out.Len() > 0:
		return StatusNeedWrite
	case p.finished && p.hsErr != nil:
		return StatusFailed
	case p.finished:
		return StatusComplete
	case p.awaitingInput():
		return StatusNeedRead
	default:
		return StatusNeedComputation
	}
}

// waitIdle blocks until the handshake goroutine has either finished or is
// parked waiting for peer input.
func (p *pipeConn) waitIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.finished && !p.awaitingInput() {
		p.cond.Wait()
	}
}

// awaitingInput reports whether the handshake goroutine is parked on an empty
// input that can still receive bytes. Callers hold p.mu.
func (p *pipeConn) awaitingInput() bool {
	return p.parked && p.in.Len() == 0 && !p.inClosed && !p.closed
}

func (p *pipeConn) pendingOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Len()
}

// drainInto moves whole records from out into dst. It reports false when out
// is non-empty but its first record does not fit.
func (p *pipeConn) drainInto(dst []byte) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for p.out.Len() > 0 {
		_, length, ok := parseRecordHeader(p.out.Bytes())
		size := recordHeaderLen + length
		if !ok || size > p.out.Len() {
			// Records are written whole; a torn tail is flushed as is.
			size = p.out.Len()
		}
		if size > len(dst)-n {
			return n, n > 0
		}
		n += copy(dst[n:], p.out.Next(size))
	}
	return n, true
}

// trackerState returns what the outbound tracker has observed so far.
func (p *pipeConn) trackerState() (serverRandom []byte, encrypted, appData uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.serverRandom, p.tracker.encrypted, p.tracker.appData
}
