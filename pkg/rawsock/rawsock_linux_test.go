//go:build linux

package rawsock

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairReadWrite(t *testing.T) {
	a, b, err := Pair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	buf := make([]byte, 16)
	_, err = a.Read(buf)
	assert.ErrorIs(t, err, ErrWouldBlock)

	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, a.WaitReadable(time.Second))
	n, err = a.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, b.Close())
	require.NoError(t, a.WaitReadable(time.Second))
	_, err = a.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWaitReadableTimeout(t *testing.T) {
	a, b, err := Pair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	start := time.Now()
	err = a.WaitReadable(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWriteFullFillsSendBuffer(t *testing.T) {
	a, b, err := Pair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	payload := make([]byte, 4<<20)
	done := make(chan int)
	go func() {
		total := 0
		buf := make([]byte, 64<<10)
		for total < len(payload) {
			if err := b.WaitReadable(5 * time.Second); err != nil {
				break
			}
			n, err := b.Read(buf)
			if err != nil && err != ErrWouldBlock {
				break
			}
			total += n
		}
		done <- total
	}()

	n, err := a.WriteFull(payload, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, len(payload), <-done)
}

func TestCloseIsIdempotent(t *testing.T) {
	a, b, err := Pair()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
	_, err = a.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.WaitWritable(time.Second), ErrClosed)
}

func TestListenAccept(t *testing.T) {
	ln, addr, err := Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.Close()

	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, tcp.Port)

	_, err = ln.Accept()
	assert.ErrorIs(t, err, ErrWouldBlock)

	client, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, ln.WaitReadable(time.Second))
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	assert.NotNil(t, conn.RemoteAddr())
	assert.Equal(t, client.LocalAddr().String(), conn.RemoteAddr().String())
}
