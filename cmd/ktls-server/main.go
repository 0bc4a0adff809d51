// Command ktls-server is a demonstration kTLS server.
//
// It completes TLS 1.2 handshakes in user space, hands the transmit side of
// every connection to the kernel and then echoes each received message back.
// A message of the form "SENDFILE <name>" streams the named file from the
// root directory with zero-copy sendfile instead.
//
// Usage:
//
//	ktls-server [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-listen string        Listen address (default ":8443")
//	-cert string          Certificate file (PEM)
//	-key string           Private key file (PEM)
//	-root string          Directory served by SENDFILE (default ".")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write connection events to this file (CBOR)
//	-metrics-addr string  Serve prometheus metrics on this address
//	-advertise            Advertise the server over mDNS
//
// Examples:
//
//	# Self-signed certificate, debug output
//	ktls-server -listen :8443 -log-level debug
//
//	# Production key pair with metrics and a protocol log
//	ktls-server -config /etc/ktls/server.yaml -metrics-addr :9090 -protocol-log /var/log/ktls/server.klog
//
//	# Try it
//	openssl s_client -tls1_2 -connect localhost:8443
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mash-protocol/ktls-go/pkg/config"
	"github.com/mash-protocol/ktls-go/pkg/discovery"
	"github.com/mash-protocol/ktls-go/pkg/log"
	"github.com/mash-protocol/ktls-go/pkg/offload"
	"github.com/mash-protocol/ktls-go/pkg/reactor"
)

// flags holds command-line overrides. Only flags that were set replace the
// configuration file values.
type flags struct {
	configFile  string
	listen      string
	certFile    string
	keyFile     string
	root        string
	logLevel    string
	protocolLog string
	metricsAddr string
	advertise   bool
}

var cli flags

func init() {
	flag.StringVar(&cli.configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&cli.listen, "listen", ":8443", "Listen address")
	flag.StringVar(&cli.certFile, "cert", "", "Certificate file (PEM)")
	flag.StringVar(&cli.keyFile, "key", "", "Private key file (PEM)")
	flag.StringVar(&cli.root, "root", ".", "Directory served by SENDFILE")
	flag.StringVar(&cli.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cli.protocolLog, "protocol-log", "", "Write connection events to this file (CBOR)")
	flag.StringVar(&cli.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	flag.BoolVar(&cli.advertise, "advertise", false, "Advertise the server over mDNS")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cli.configFile != "" {
		var err error
		if cfg, err = config.Load(cli.configFile); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg, setFlags())
	return cfg, cfg.Validate()
}

func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func applyFlags(cfg *config.Config, set map[string]bool) {
	if set["listen"] {
		cfg.Listen = cli.listen
	}
	if set["cert"] {
		cfg.TLS.CertFile = cli.certFile
	}
	if set["key"] {
		cfg.TLS.KeyFile = cli.keyFile
	}
	if set["root"] {
		cfg.Root = cli.root
	}
	if set["log-level"] {
		cfg.Logging.Level = cli.logLevel
	}
	if set["protocol-log"] {
		cfg.Logging.ProtocolLog = cli.protocolLog
	}
	if set["metrics-addr"] {
		cfg.Metrics.Address = cli.metricsAddr
	}
	if set["advertise"] {
		cfg.Advertise.Enabled = cli.advertise
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	tlsConf, err := cfg.LoadTLS()
	if err != nil {
		return fmt.Errorf("load TLS identity: %w", err)
	}

	plog, closeLog, err := protocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	metrics := reactor.NewMetrics(nil)

	rc := cfg.ReactorConfig()
	rc.TLSConfig = tlsConf
	rc.Handler = newFileServer(cfg.Root, logger)
	rc.Metrics = metrics
	rc.ProtocolLogger = plog
	rc.Logger = logger
	rc.OnConnect = func(c *reactor.Conn) {
		s := c.Session()
		logger.Info("connection established",
			"conn_id", c.ConnID(), "remote", c.RemoteAddr(),
			"protocol", s.Protocol, "suite", s.CipherSuite, "seq", c.Sequence())
	}
	rc.OnDisconnect = func(c *reactor.Conn, err error) {
		logger.Info("connection closed", "conn_id", c.ConnID(), "error", err)
	}

	r, err := reactor.New(rc)
	if err != nil {
		return fmt.Errorf("start reactor: %w", err)
	}
	logger.Info("listening", "addr", r.Addr(), "root", cfg.Root)

	if cfg.Metrics.Address != "" {
		srv, err := serveMetrics(cfg.Metrics.Address, metrics, logger)
		if err != nil {
			r.Stop()
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Advertise.Enabled {
		adv, err := advertise(ctx, cfg, r.Addr())
		if err != nil {
			// The server works without mDNS.
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Stop()
			logger.Info("advertising", "instance", cfg.Advertise.Instance, "service", cfg.Advertise.Service)
		}
	}

	if err := r.Run(ctx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// protocolLogger combines the file logger and, at debug level, an slog
// adapter. The returned function closes the file.
func protocolLogger(cfg *config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if cfg.Logging.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.Logging.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		stop := make(chan struct{})
		go flushEvery(fl, time.Second, stop, logger)
		closeFn = func() {
			close(stop)
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol log dropped events", "count", n)
			}
			if err := fl.Close(); err != nil {
				logger.Warn("protocol log close", "error", err)
			}
		}
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return log.NewMultiLogger(loggers...), closeFn, nil
	}
}

// flushEvery flushes the protocol log until stop is closed.
func flushEvery(fl *log.FileLogger, d time.Duration, stop <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := fl.Flush(); err != nil {
				logger.Warn("protocol log flush", "error", err)
			}
		case <-stop:
			return
		}
	}
}

func serveMetrics(addr string, m *reactor.Metrics, logger *slog.Logger) (*http.Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(m.PrometheusCollectors()...)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr())
	return srv, nil
}

func advertise(ctx context.Context, cfg *config.Config, addr net.Addr) (*discovery.MDNSAdvertiser, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("cannot advertise %s address", addr.Network())
	}

	adv := discovery.NewMDNSAdvertiser(cfg.AdvertiserConfig())
	err := adv.Advertise(ctx, &discovery.ServiceInfo{
		Instance:     cfg.Advertise.Instance,
		Port:         uint16(tcp.Port),
		Versions:     []string{"1.2"},
		CipherSuites: offload.Suites(),
		KernelTLS:    offload.Init() == nil,
		SendFile:     true,
		Extra:        cfg.Advertise.Text,
	})
	if err != nil {
		return nil, err
	}
	return adv, nil
}
