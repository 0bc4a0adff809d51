//go:build linux

package offload

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// EnableULP attaches the kernel TLS upper layer protocol to fd.
func EnableULP(fd int) error {
	if err := unix.SetsockoptString(fd, unix.SOL_TCP, tcpULP, ulpName); err != nil {
		return &Error{Op: "enable ulp", Err: fmt.Errorf("%w: %w", ErrOffloadRejected, err)}
	}
	return nil
}

func installTX(fd int, info []byte) error {
	if err := unix.SetsockoptString(fd, solTLS, tlsTX, string(info)); err != nil {
		return &Error{Op: "install tx", Err: fmt.Errorf("%w: %w", ErrOffloadRejected, err)}
	}
	return nil
}

// Transfer copies count bytes starting at offset from inFD to outFD with
// sendfile(2). On an offloaded socket the kernel encrypts the data. It
// returns the bytes sent, which may be short on a non-blocking socket, with
// ErrWouldBlock when the socket buffer is full.
func Transfer(outFD, inFD int, offset, count int64) (int64, error) {
	off := offset
	for {
		n, err := unix.Sendfile(outFD, inFD, &off, int(count))
		switch {
		case err == nil:
			return int64(n), nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return int64(max(n, 0)), ErrWouldBlock
		default:
			return 0, &Error{Op: "sendfile", Err: fmt.Errorf("%w: %w", ErrTransferFault, err)}
		}
	}
}

// probe enables the TLS upper layer protocol on a throwaway loopback
// connection.
func probe() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("offload probe: %w", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		return fmt.Errorf("offload probe: %w", err)
	}
	defer conn.Close()
	if peer, ok := <-accepted; ok {
		defer peer.Close()
	}

	raw, err := conn.(*net.TCPConn).SyscallConn()
	if err != nil {
		return fmt.Errorf("offload probe: %w", err)
	}
	var setErr error
	if err := raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptString(int(fd), unix.SOL_TCP, tcpULP, ulpName)
	}); err != nil {
		return fmt.Errorf("offload probe: %w", err)
	}
	if setErr != nil {
		return &Error{Op: "probe", Err: fmt.Errorf("%w: %w", ErrUnsupportedPlatform, setErr)}
	}
	return nil
}
