package engine

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"hash"
)

// TLSConfig holds configuration for a kTLS-capable server.
type TLSConfig struct {
	// Certificate is the server certificate.
	Certificate tls.Certificate

	// ClientCAs enables client certificate verification when set.
	ClientCAs *x509.CertPool

	// NextProtos lists the ALPN protocols offered, if any.
	NextProtos []string
}

// OffloadableSuites are the TLS 1.2 suites whose transmit state the kernel
// can take over.
var OffloadableSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
}

// NewServerTLSConfig creates a server configuration restricted to what the
// kernel hand-off supports.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	tlsConfig := &tls.Config{
		// The offloaded record layer is TLS 1.2 only
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS12,

		Certificates: []tls.Certificate{cfg.Certificate},
		CipherSuites: OffloadableSuites,

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		NextProtos: cfg.NextProtos,

		// Session tickets disabled (no resumption)
		SessionTicketsDisabled: true,
	}

	if cfg.ClientCAs != nil {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = cfg.ClientCAs
	}

	return tlsConfig, nil
}

// VerifyTLS12 checks that a connection negotiated TLS 1.2.
func VerifyTLS12(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS12 {
		return fmt.Errorf("TLS version %x is not TLS 1.2 (0x0303)", state.Version)
	}
	return nil
}

// ProtocolName returns the conventional name of a TLS version.
func ProtocolName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return fmt.Sprintf("0x%04X", version)
	}
}

// aeadSuite describes the key block layout of a TLS 1.2 AEAD suite.
type aeadSuite struct {
	keyLen int
	ivLen  int
	hash   func() hash.Hash
}

var aeadSuites = map[uint16]aeadSuite{
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256:               {16, 4, sha256.New},
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:         {16, 4, sha256.New},
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:       {16, 4, sha256.New},
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384:               {32, 4, sha512.New384},
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:         {32, 4, sha512.New384},
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384:       {32, 4, sha512.New384},
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:   {32, 12, sha256.New},
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256: {32, 12, sha256.New},
}
