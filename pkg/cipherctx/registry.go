package cipherctx

import (
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mash-protocol/ktls-go/pkg/engine"
)

// Extraction errors.
var (
	ErrUnsupportedCipher = errors.New("cipherctx: unsupported cipher")
	ErrMalformedState    = errors.New("cipherctx: malformed cipher state")
)

// Entry pairs a predicate on the engine's write cipher with the extractor
// that understands it.
type Entry struct {
	// Name identifies the entry in errors and logs.
	Name string

	// Match reports whether Extract understands the write cipher.
	Match func(engine.WriteCipher) bool

	// Extract builds the descriptor.
	Extract func(engine.WriteCipher, engine.SessionInfo) (Descriptor, error)
}

// Registry is an ordered list of extractors. It is fixed at construction and
// safe for concurrent use.
type Registry struct {
	entries []Entry
}

// NewRegistry returns a registry that tries entries in order.
func NewRegistry(entries ...Entry) *Registry {
	return &Registry{entries: append([]Entry(nil), entries...)}
}

var defaultRegistry = NewRegistry(AES128GCM())

// Default returns the process-wide registry. It knows TLS 1.2 AES-128-GCM.
func Default() *Registry {
	return defaultRegistry
}

// Names returns the entry names in match order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Extract reads the transmit cipher state from src and converts it with the
// first matching entry. It must run once, right after the handshake and
// before any application data is written.
func (r *Registry) Extract(src engine.SecretSource) (Descriptor, error) {
	wc, err := src.WriteCipher()
	if err != nil {
		return Descriptor{}, fmt.Errorf("read write cipher: %w", err)
	}

	session := src.Session()
	for _, e := range r.entries {
		if !e.Match(wc) {
			continue
		}
		d, err := e.Extract(wc, session)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%s: %w", e.Name, err)
		}
		return d, nil
	}
	return Descriptor{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedCipher, suiteName(wc.CipherSuite()), session.Protocol)
}

func suiteName(id uint16) string {
	return tls.CipherSuiteName(id)
}

var aes128GCMSuites = map[uint16]bool{
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256:         true,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:   true,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256: true,
}

// AES128GCM returns the entry for TLS 1.2 AES-128-GCM write ciphers.
func AES128GCM() Entry {
	return Entry{
		Name: "tls12-aes128-gcm",
		Match: func(wc engine.WriteCipher) bool {
			c, ok := wc.(*engine.AEADWriteCipher)
			return ok && c.Version == tls.VersionTLS12 && aes128GCMSuites[c.Suite]
		},
		Extract: extractAES128GCM,
	}
}

func extractAES128GCM(wc engine.WriteCipher, session engine.SessionInfo) (Descriptor, error) {
	c := wc.(*engine.AEADWriteCipher)
	if len(c.Key) != AES128GCMKeySize {
		return Descriptor{}, fmt.Errorf("%w: key is %d bytes", ErrMalformedState, len(c.Key))
	}
	if len(c.FixedIV) != AES128GCMSaltSize {
		return Descriptor{}, fmt.Errorf("%w: salt is %d bytes", ErrMalformedState, len(c.FixedIV))
	}

	seq := make([]byte, RecordSeqSize)
	binary.BigEndian.PutUint64(seq, c.Seq)

	protocol := session.Protocol
	if protocol == "" {
		protocol = engine.ProtocolName(c.Version)
	}
	suite := session.CipherSuite
	if suite == "" {
		suite = suiteName(c.Suite)
	}

	// The explicit nonce of the next record is its sequence number.
	return NewDescriptor(protocol, suite, seq, c.Key, c.FixedIV, seq), nil
}
