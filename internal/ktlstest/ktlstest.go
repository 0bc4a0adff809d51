// Package ktlstest provides certificates and client configurations for tests.
// It does not import the engine, so engine tests can use it.
package ktlstest

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/mash-protocol/ktls-go/pkg/cert"
)

// Certificate returns a fresh self-signed ECDSA certificate for 127.0.0.1
// and localhost.
func Certificate(t testing.TB) tls.Certificate {
	t.Helper()
	id, err := cert.GenerateSelfSigned([]string{"localhost", "127.0.0.1"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("failed to generate certificate: %v", err)
	}
	return id.TLSCertificate()
}

// ClientConfig returns a TLS 1.2 client configuration that skips
// certificate verification.
func ClientConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
}
