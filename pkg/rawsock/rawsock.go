// Package rawsock wraps non-blocking socket file descriptors.
//
// Sockets are used directly rather than through net.Conn because the
// kernel TLS hand-off and epoll both need the descriptor, and the reactor
// owns readiness instead of the Go runtime poller.
package rawsock

import (
	"errors"
	"net"
	"time"
)

// Errors returned by socket operations.
var (
	ErrWouldBlock          = errors.New("rawsock: operation would block")
	ErrTimeout             = errors.New("rawsock: timed out")
	ErrClosed              = errors.New("rawsock: socket closed")
	ErrUnsupportedPlatform = errors.New("rawsock: unsupported platform")
	ErrResourceLimit       = errors.New("rawsock: descriptor or memory limit reached")
)

// DefaultBacklog is the listen backlog used by Listen.
const DefaultBacklog = 128

// Socket is a non-blocking stream socket. It is not safe for concurrent use.
type Socket struct {
	fd     int
	remote net.Addr
	closed bool
}

// FD returns the file descriptor.
func (s *Socket) FD() int { return s.fd }

// RemoteAddr returns the peer address, if known.
func (s *Socket) RemoteAddr() net.Addr { return s.remote }

// WriteFull writes all of p, waiting up to timeout for writability whenever
// the socket buffer is full.
func (s *Socket) WriteFull(p []byte, timeout time.Duration) (int, error) {
	written := 0
	for written < len(p) {
		n, err := s.Write(p[written:])
		written += n
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrWouldBlock) {
			return written, err
		}
		if err := s.WaitWritable(timeout); err != nil {
			return written, err
		}
	}
	return written, nil
}
