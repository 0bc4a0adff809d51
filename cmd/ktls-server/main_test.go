package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/ktls-go/pkg/config"
	"github.com/mash-protocol/ktls-go/pkg/log"
)

func TestApplyFlagsOnlySet(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = ":9443"
	cfg.Root = "/srv"

	cli = flags{listen: ":1", root: "/tmp", logLevel: "debug", advertise: true}
	t.Cleanup(func() { cli = flags{} })

	applyFlags(cfg, map[string]bool{"log-level": true, "advertise": true})

	assert.Equal(t, ":9443", cfg.Listen)
	assert.Equal(t, "/srv", cfg.Root)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Advertise.Enabled)
}

func TestProtocolLogger(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	verbose := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := config.Default()
	l, closeFn, err := protocolLogger(cfg, quiet)
	require.NoError(t, err)
	assert.IsType(t, log.NoopLogger{}, l)
	closeFn()

	l, closeFn, err = protocolLogger(cfg, verbose)
	require.NoError(t, err)
	assert.IsType(t, &log.SlogAdapter{}, l)
	closeFn()

	cfg.Logging.ProtocolLog = filepath.Join(t.TempDir(), "server.klog")
	l, closeFn, err = protocolLogger(cfg, verbose)
	require.NoError(t, err)
	assert.IsType(t, &log.MultiLogger{}, l)
	l.Log(log.Event{ConnectionID: "c"})
	closeFn()

	cfg.Logging.ProtocolLog = filepath.Join(t.TempDir(), "missing", "server.klog")
	_, _, err = protocolLogger(cfg, quiet)
	assert.Error(t, err)
}
