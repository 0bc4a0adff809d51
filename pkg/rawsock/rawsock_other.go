//go:build !linux

package rawsock

import (
	"net"
	"time"
)

// New wraps an existing non-blocking descriptor.
func New(fd int, remote net.Addr) *Socket {
	return &Socket{fd: fd, remote: remote}
}

// Listen is only available on Linux.
func Listen(addr string, backlog int) (*Socket, net.Addr, error) {
	return nil, nil, ErrUnsupportedPlatform
}

// Accept is only available on Linux.
func (s *Socket) Accept() (*Socket, error) { return nil, ErrUnsupportedPlatform }

// Read is only available on Linux.
func (s *Socket) Read(p []byte) (int, error) { return 0, ErrUnsupportedPlatform }

// Write is only available on Linux.
func (s *Socket) Write(p []byte) (int, error) { return 0, ErrUnsupportedPlatform }

// WaitReadable is only available on Linux.
func (s *Socket) WaitReadable(timeout time.Duration) error { return ErrUnsupportedPlatform }

// WaitWritable is only available on Linux.
func (s *Socket) WaitWritable(timeout time.Duration) error { return ErrUnsupportedPlatform }

// Close marks the socket closed.
func (s *Socket) Close() error {
	s.closed = true
	return nil
}

// Pair is only available on Linux.
func Pair() (*Socket, *Socket, error) { return nil, nil, ErrUnsupportedPlatform }
