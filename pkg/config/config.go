// Package config loads ktls-server configuration from YAML.
//
// Example:
//
//	listen: ":8443"
//	root: /srv/files
//	tls:
//	  cert_file: server.crt
//	  key_file: server.key
//	reactor:
//	  poll_interval: 100ms
//	  handshake_timeout: 10s
//	logging:
//	  level: debug
//	  protocol_log: /var/log/ktls/server.klog
//	metrics:
//	  address: ":9090"
//	advertise:
//	  enabled: true
//	  instance: ktls-demo
package config

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/ktls-go/pkg/cert"
	"github.com/mash-protocol/ktls-go/pkg/discovery"
	"github.com/mash-protocol/ktls-go/pkg/engine"
	"github.com/mash-protocol/ktls-go/pkg/reactor"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Config is the server configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	Root      string          `yaml:"root"`
	TLS       TLSConfig       `yaml:"tls"`
	Reactor   ReactorSettings `yaml:"reactor"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Advertise AdvertiseConfig `yaml:"advertise"`
}

// TLSConfig names the server key pair. When both files are empty a
// self-signed certificate is generated for SelfSignedHosts.
type TLSConfig struct {
	CertFile        string   `yaml:"cert_file"`
	KeyFile         string   `yaml:"key_file"`
	ClientCAFile    string   `yaml:"client_ca_file"`
	SelfSignedHosts []string `yaml:"self_signed_hosts"`
}

// ReactorSettings are the reactor timings and limits.
type ReactorSettings struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	InitialBufferSize int           `yaml:"initial_buffer_size"`
	MaxHandshakeSteps int           `yaml:"max_handshake_steps"`
	Backlog           int           `yaml:"backlog"`
}

// LoggingConfig selects the slog level and the protocol log file.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	ProtocolLog string `yaml:"protocol_log"`
}

// MetricsConfig enables the prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// AdvertiseConfig controls mDNS advertisement.
type AdvertiseConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Instance  string        `yaml:"instance"`
	Service   string        `yaml:"service"`
	Domain    string        `yaml:"domain"`
	Interface string        `yaml:"interface"`
	TTL       time.Duration `yaml:"ttl"`
	Text      []string      `yaml:"text"`
}

// Default returns the built-in configuration.
func Default() *Config {
	rc := reactor.DefaultConfig()
	return &Config{
		Listen: ":8443",
		Root:   ".",
		TLS: TLSConfig{
			SelfSignedHosts: []string{"localhost", "127.0.0.1"},
		},
		Reactor: ReactorSettings{
			PollInterval:     rc.PollInterval,
			HandshakeTimeout: rc.HandshakeTimeout,
			WriteTimeout:     rc.WriteTimeout,
			Backlog:          rc.Backlog,
		},
		Logging: LoggingConfig{Level: "info"},
		Advertise: AdvertiseConfig{
			Instance: "ktls-server",
			Service:  discovery.ServiceType,
			Domain:   discovery.Domain,
			TTL:      discovery.DefaultTTL,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var problems []string
	if c.Listen == "" {
		problems = append(problems, "listen address is required")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		problems = append(problems, "tls cert_file and key_file must be set together")
	}
	if c.TLS.CertFile == "" && len(c.TLS.SelfSignedHosts) == 0 {
		problems = append(problems, "tls self_signed_hosts is required without a key pair")
	}
	if c.Reactor.PollInterval < 0 || c.Reactor.HandshakeTimeout < 0 || c.Reactor.WriteTimeout < 0 {
		problems = append(problems, "reactor durations must not be negative")
	}
	if c.Reactor.InitialBufferSize < 0 {
		problems = append(problems, "reactor initial_buffer_size must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Advertise.Enabled {
		if err := discovery.ValidateInstanceName(c.Advertise.Instance); err != nil {
			problems = append(problems, "advertise instance: "+err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel parses the logging level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging level %q: %w", c.Logging.Level, err)
	}
	return level, nil
}

// LoadTLS loads the key pair, or generates a self-signed certificate, and
// the optional client CA pool.
func (c *Config) LoadTLS() (*engine.TLSConfig, error) {
	tc := &engine.TLSConfig{}
	if c.TLS.CertFile != "" {
		pair, err := cert.LoadKeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		tc.Certificate = pair
	} else {
		id, err := cert.GenerateSelfSigned(c.TLS.SelfSignedHosts, 365*24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("generate certificate: %w", err)
		}
		tc.Certificate = id.TLSCertificate()
	}

	if c.TLS.ClientCAFile != "" {
		data, err := os.ReadFile(c.TLS.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client CAs: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("%w: %s", cert.ErrInvalidPEM, c.TLS.ClientCAFile)
		}
		tc.ClientCAs = pool
	}
	return tc, nil
}

// ReactorConfig returns the reactor settings. The caller fills in the
// handler, TLS configuration and loggers.
func (c *Config) ReactorConfig() reactor.Config {
	rc := reactor.DefaultConfig()
	rc.Address = c.Listen
	if c.Reactor.PollInterval > 0 {
		rc.PollInterval = c.Reactor.PollInterval
	}
	if c.Reactor.HandshakeTimeout > 0 {
		rc.HandshakeTimeout = c.Reactor.HandshakeTimeout
	}
	if c.Reactor.WriteTimeout > 0 {
		rc.WriteTimeout = c.Reactor.WriteTimeout
	}
	if c.Reactor.Backlog > 0 {
		rc.Backlog = c.Reactor.Backlog
	}
	rc.InitialBufferSize = c.Reactor.InitialBufferSize
	rc.MaxHandshakeSteps = c.Reactor.MaxHandshakeSteps
	return rc
}

// AdvertiserConfig returns the mDNS advertiser settings.
func (c *Config) AdvertiserConfig() discovery.AdvertiserConfig {
	return discovery.AdvertiserConfig{
		Interface:   c.Advertise.Interface,
		TTL:         c.Advertise.TTL,
		ServiceType: c.Advertise.Service,
		Domain:      c.Advertise.Domain,
	}
}
