package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/ktls-go/pkg/cert"
	"github.com/mash-protocol/ktls-go/pkg/discovery"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8443", cfg.Listen)
	assert.Equal(t, discovery.ServiceType, cfg.Advertise.Service)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
listen: "127.0.0.1:9443"
root: /srv/files
reactor:
  poll_interval: 250ms
  handshake_timeout: 3s
  initial_buffer_size: 512
logging:
  level: debug
  protocol_log: /tmp/server.klog
metrics:
  address: ":9090"
advertise:
  enabled: true
  instance: lab
  text: ["v=1"]
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9443", cfg.Listen)
	assert.Equal(t, "/srv/files", cfg.Root)
	assert.Equal(t, 250*time.Millisecond, cfg.Reactor.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Reactor.HandshakeTimeout)
	assert.Equal(t, 512, cfg.Reactor.InitialBufferSize)
	assert.Equal(t, "/tmp/server.klog", cfg.Logging.ProtocolLog)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
	assert.True(t, cfg.Advertise.Enabled)
	assert.Equal(t, "lab", cfg.Advertise.Instance)
	assert.Equal(t, "local", cfg.Advertise.Domain)
	assert.Equal(t, []string{"v=1"}, cfg.Advertise.Text)

	// Unset values keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Reactor.WriteTimeout)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("listen: \":1\"\nlisten_addr: x\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":7443\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7443", cfg.Listen)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen", func(c *Config) { c.Listen = "" }},
		{"cert without key", func(c *Config) { c.TLS.CertFile = "a.crt" }},
		{"no hosts", func(c *Config) { c.TLS.SelfSignedHosts = nil }},
		{"negative timeout", func(c *Config) { c.Reactor.HandshakeTimeout = -time.Second }},
		{"negative buffer", func(c *Config) { c.Reactor.InitialBufferSize = -1 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"advertise without instance", func(c *Config) {
			c.Advertise.Enabled = true
			c.Advertise.Instance = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestReactorConfig(t *testing.T) {
	cfg := Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Reactor.PollInterval = 20 * time.Millisecond
	cfg.Reactor.InitialBufferSize = 128
	cfg.Reactor.MaxHandshakeSteps = 42
	cfg.Reactor.Backlog = 0

	rc := cfg.ReactorConfig()
	assert.Equal(t, "127.0.0.1:0", rc.Address)
	assert.Equal(t, 20*time.Millisecond, rc.PollInterval)
	assert.Equal(t, 128, rc.InitialBufferSize)
	assert.Equal(t, 42, rc.MaxHandshakeSteps)
	assert.Positive(t, rc.Backlog)
	assert.Nil(t, rc.Handler)
}

func TestAdvertiserConfig(t *testing.T) {
	cfg := Default()
	cfg.Advertise.Interface = "eth0"

	ac := cfg.AdvertiserConfig()
	assert.Equal(t, "eth0", ac.Interface)
	assert.Equal(t, discovery.DefaultTTL, ac.TTL)
	assert.Equal(t, discovery.ServiceType, ac.ServiceType)
	assert.Equal(t, discovery.Domain, ac.Domain)
}

func TestLoadTLSSelfSigned(t *testing.T) {
	tc, err := Default().LoadTLS()
	require.NoError(t, err)
	require.NotNil(t, tc.Certificate.Leaf)
	assert.Contains(t, tc.Certificate.Leaf.DNSNames, "localhost")
	assert.Nil(t, tc.ClientCAs)
}

func TestLoadTLSFromFiles(t *testing.T) {
	dir := t.TempDir()
	id, err := cert.GenerateSelfSigned([]string{"files.test"}, time.Hour)
	require.NoError(t, err)
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	require.NoError(t, cert.WriteKeyPair(certPath, keyPath, id.Certificate, id.PrivateKey))

	caPath := filepath.Join(dir, "ca.crt")
	require.NoError(t, os.WriteFile(caPath, cert.EncodeCertPEM(id.Certificate), 0o600))

	cfg := Default()
	cfg.TLS.CertFile = certPath
	cfg.TLS.KeyFile = keyPath
	cfg.TLS.ClientCAFile = caPath

	tc, err := cfg.LoadTLS()
	require.NoError(t, err)
	assert.NotEmpty(t, tc.Certificate.Certificate)
	assert.NotNil(t, tc.ClientCAs)
}

func TestLoadTLSBadClientCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))

	cfg := Default()
	cfg.TLS.ClientCAFile = path
	_, err := cfg.LoadTLS()
	assert.ErrorIs(t, err, cert.ErrInvalidPEM)
}
