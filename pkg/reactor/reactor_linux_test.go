//go:build linux

package reactor

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/ktls-go/internal/ktlstest"
	"github.com/mash-protocol/ktls-go/pkg/cipherctx"
	"github.com/mash-protocol/ktls-go/pkg/engine"
	"github.com/mash-protocol/ktls-go/pkg/log"
	"github.com/mash-protocol/ktls-go/pkg/offload"
)

// fakeOffloader records descriptors and returns err.
type fakeOffloader struct {
	mu    sync.Mutex
	err   error
	calls []cipherctx.Descriptor
}

func (f *fakeOffloader) Offload(fd int, d cipherctx.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
	return f.err
}

func (f *fakeOffloader) descriptors() []cipherctx.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cipherctx.Descriptor(nil), f.calls...)
}

// eventRecorder is a log.Logger that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *eventRecorder) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []log.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]log.Event(nil), r.events...)
}

func startReactor(t *testing.T, cfg Config) *Reactor {
	t.Helper()
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &engine.TLSConfig{Certificate: ktlstest.Certificate(t)}
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	r, err := New(cfg)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()
	t.Cleanup(func() {
		r.Stop()
		assert.NoError(t, <-errCh)
	})
	return r
}

func dialTLS(t *testing.T, r *Reactor) *tls.Conn {
	t.Helper()
	c, err := tls.DialWithDialer(&net.Dialer{Timeout: 5 * time.Second}, "tcp", r.Addr().String(), ktlstest.ClientConfig())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// messageChan returns a handler that forwards each message.
func messageChan() (Handler, <-chan string) {
	ch := make(chan string, 16)
	return HandlerFunc(func(_ *Conn, msg []byte) {
		ch <- string(msg)
	}), ch
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

// expectClosed asserts that the server closes c.
func expectClosed(t *testing.T, c net.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.Read(make([]byte, 1))
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "connection was not closed: %v", err)
}

func requireKernelTLS(t *testing.T) {
	t.Helper()
	if err := offload.Init(); err != nil {
		t.Skipf("kernel TLS unavailable: %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Handler: HandlerFunc(func(*Conn, []byte) {})})
	assert.Error(t, err)

	_, err = New(Config{TLSConfig: &engine.TLSConfig{Certificate: ktlstest.Certificate(t)}})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestReactorDeliversMessages(t *testing.T) {
	handler, msgs := messageChan()
	off := &fakeOffloader{}
	r := startReactor(t, Config{Handler: handler, Offloader: off})

	client := dialTLS(t, r)
	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", receive(t, msgs))

	_, err = client.Write([]byte("again"))
	require.NoError(t, err)
	assert.Equal(t, "again", receive(t, msgs))

	assert.Equal(t, 1, r.ConnectionCount())
	calls := off.descriptors()
	require.Len(t, calls, 1)
	assert.Equal(t, "TLSv1.2", calls[0].Protocol())
	assert.Equal(t, "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256", calls[0].CipherSuite())
	assert.Equal(t, uint64(1), calls[0].Sequence())

	m := r.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handshakes.WithLabelValues(resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Offloads.WithLabelValues(resultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Messages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
}

func TestReactorSmallInitialBuffers(t *testing.T) {
	handler, msgs := messageChan()
	r := startReactor(t, Config{Handler: handler, Offloader: &fakeOffloader{}, InitialBufferSize: 64})

	client := dialTLS(t, r)
	payload := strings.Repeat("x", 1000)
	_, err := client.Write([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, receive(t, msgs))
}

func TestReactorOffloadFailureClosesConnection(t *testing.T) {
	handler, _ := messageChan()
	off := &fakeOffloader{err: &offload.Error{Op: "enable ulp", Err: offload.ErrOffloadRejected}}
	r := startReactor(t, Config{Handler: handler, Offloader: off})

	client := dialTLS(t, r)
	expectClosed(t, client)

	assert.Zero(t, r.ConnectionCount())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(r.Metrics().Offloads.WithLabelValues(resultRejected)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(r.Metrics().Connections))
}

func TestReactorHandlerPanicClosesOnlyThatConnection(t *testing.T) {
	msgs := make(chan string, 4)
	handler := HandlerFunc(func(_ *Conn, msg []byte) {
		if string(msg) == "boom" {
			panic("handler exploded")
		}
		msgs <- string(msg)
	})
	r := startReactor(t, Config{Handler: handler, Offloader: &fakeOffloader{}})

	bad := dialTLS(t, r)
	good := dialTLS(t, r)

	_, err := bad.Write([]byte("boom"))
	require.NoError(t, err)
	expectClosed(t, bad)

	_, err = good.Write([]byte("still here"))
	require.NoError(t, err)
	assert.Equal(t, "still here", receive(t, msgs))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Metrics().HandlerPanics))
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestReactorHandshakeTimeout(t *testing.T) {
	handler, _ := messageChan()
	r := startReactor(t, Config{
		Handler:          handler,
		Offloader:        &fakeOffloader{},
		HandshakeTimeout: 100 * time.Millisecond,
	})

	c, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	expectClosed(t, c)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(r.Metrics().Handshakes.WithLabelValues(resultTimeout)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReactorPeerClosesBeforeHandshake(t *testing.T) {
	handler, _ := messageChan()
	off := &fakeOffloader{}
	r := startReactor(t, Config{Handler: handler, Offloader: off})

	c, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(r.Metrics().Handshakes.WithLabelValues(resultPeerClosed)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, r.ConnectionCount())
	assert.Empty(t, off.descriptors())
}

func TestReactorProtocolLog(t *testing.T) {
	handler, msgs := messageChan()
	rec := &eventRecorder{}
	r := startReactor(t, Config{Handler: handler, Offloader: &fakeOffloader{}, ProtocolLogger: rec})

	client := dialTLS(t, r)
	_, err := client.Write([]byte("logged"))
	require.NoError(t, err)
	receive(t, msgs)

	var states []string
	var offloaded, recorded bool
	connID := ""
	for _, e := range rec.snapshot() {
		switch {
		case e.StateChange != nil && e.StateChange.Entity == log.StateEntityConnection:
			states = append(states, e.StateChange.NewState)
			connID = e.ConnectionID
		case e.Offload != nil:
			offloaded = e.Offload.Accepted && e.Offload.Sequence == 1
		case e.Record != nil && e.Direction == log.DirectionIn:
			recorded = string(e.Record.Data) == "logged"
			assert.Equal(t, "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256", e.CipherSuite)
		}
	}
	assert.Equal(t, []string{"HANDSHAKING", "ESTABLISHED"}, states)
	assert.True(t, offloaded)
	assert.True(t, recorded)
	assert.Len(t, connID, 36)
}

func TestReactorStop(t *testing.T) {
	handler, _ := messageChan()
	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	r, err := New(Config{
		Address:      "127.0.0.1:0",
		TLSConfig:    &engine.TLSConfig{Certificate: ktlstest.Certificate(t)},
		Handler:      handler,
		Offloader:    &fakeOffloader{},
		PollInterval: 10 * time.Millisecond,
		OnConnect:    func(c *Conn) { connected <- c.ConnID() },
		OnDisconnect: func(c *Conn, _ error) { disconnected <- c.ConnID() },
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	client := dialTLS(t, r)
	assert.Eventually(t, func() bool { return r.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	require.NoError(t, <-done)
	expectClosed(t, client)
	assert.Zero(t, r.ConnectionCount())
	assert.Equal(t, <-connected, <-disconnected)

	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyStarted)
	r.Stop()
}

func TestReactorContextCancel(t *testing.T) {
	handler, _ := messageChan()
	r, err := New(Config{
		Address:      "127.0.0.1:0",
		TLSConfig:    &engine.TLSConfig{Certificate: ktlstest.Certificate(t)},
		Handler:      handler,
		Offloader:    &fakeOffloader{},
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReactorEchoOverKernelTLS(t *testing.T) {
	requireKernelTLS(t)

	handler := HandlerFunc(func(c *Conn, msg []byte) {
		_, _ = c.Write(msg)
	})
	r := startReactor(t, Config{Handler: handler})

	client := dialTLS(t, r)
	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.Metrics().BytesWritten))
}

func TestReactorSendFileOverKernelTLS(t *testing.T) {
	requireKernelTLS(t)

	content := []byte(strings.Repeat("zero-copy payload ", 4096))
	path := filepath.Join(t.TempDir(), "payload.txt")
	require.NoError(t, os.WriteFile(path, content, 0644))

	handler := HandlerFunc(func(c *Conn, msg []byte) {
		f, err := os.Open(path)
		if err != nil {
			c.Close()
			return
		}
		defer f.Close()
		if _, err := c.SendFile(f, 0, int64(len(content))); err != nil {
			c.Close()
		}
	})
	r := startReactor(t, Config{Handler: handler})

	client := dialTLS(t, r)
	_, err := client.Write([]byte("send"))
	require.NoError(t, err)

	got := make([]byte, len(content))
	_ = client.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, float64(len(content)), testutil.ToFloat64(r.Metrics().BytesTransferred))
}

func TestReactorSendFileShortFile(t *testing.T) {
	requireKernelTLS(t)

	content := []byte("short file")
	path := filepath.Join(t.TempDir(), "short.txt")
	require.NoError(t, os.WriteFile(path, content, 0644))

	type result struct {
		n   int64
		err error
	}
	results := make(chan result, 1)
	handler := HandlerFunc(func(c *Conn, msg []byte) {
		f, err := os.Open(path)
		if err != nil {
			results <- result{err: err}
			return
		}
		defer f.Close()
		n, err := c.SendFile(f, 0, int64(len(content))+100)
		results <- result{n: n, err: err}
	})
	r := startReactor(t, Config{Handler: handler})

	client := dialTLS(t, r)
	_, err := client.Write([]byte("send"))
	require.NoError(t, err)

	select {
	case res := <-results:
		assert.Equal(t, int64(len(content)), res.n)
		assert.ErrorIs(t, res.err, offload.ErrTransferFault)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sendfile")
	}

	got := make([]byte, len(content))
	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
