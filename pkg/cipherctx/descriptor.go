// Package cipherctx extracts the transmit cipher state of a completed TLS
// session into an offload descriptor the kernel can install.
package cipherctx

import (
	"bytes"
	"encoding/binary"
)

// Field sizes for TLS 1.2 AES-128-GCM.
const (
	AES128GCMKeySize  = 16
	AES128GCMSaltSize = 4
	AES128GCMIVSize   = 8
	RecordSeqSize     = 8
)

// Descriptor is an immutable snapshot of a session's transmit cipher state.
// Accessors return copies.
type Descriptor struct {
	protocol    string
	cipherSuite string
	iv          []byte
	key         []byte
	salt        []byte
	recSeq      []byte
}

// NewDescriptor copies the given material into a Descriptor.
func NewDescriptor(protocol, cipherSuite string, iv, key, salt, recSeq []byte) Descriptor {
	return Descriptor{
		protocol:    protocol,
		cipherSuite: cipherSuite,
		iv:          bytes.Clone(iv),
		key:         bytes.Clone(key),
		salt:        bytes.Clone(salt),
		recSeq:      bytes.Clone(recSeq),
	}
}

// Protocol returns the protocol name, e.g. "TLSv1.2".
func (d Descriptor) Protocol() string { return d.protocol }

// CipherSuite returns the cipher suite name.
func (d Descriptor) CipherSuite() string { return d.cipherSuite }

// IV returns the explicit nonce of the next record.
func (d Descriptor) IV() []byte { return bytes.Clone(d.iv) }

// Key returns the write key.
func (d Descriptor) Key() []byte { return bytes.Clone(d.key) }

// Salt returns the implicit nonce part.
func (d Descriptor) Salt() []byte { return bytes.Clone(d.salt) }

// RecSeq returns the big-endian sequence number of the next record.
func (d Descriptor) RecSeq() []byte { return bytes.Clone(d.recSeq) }

// Sequence returns RecSeq as an integer.
func (d Descriptor) Sequence() uint64 {
	if len(d.recSeq) != RecordSeqSize {
		return 0
	}
	return binary.BigEndian.Uint64(d.recSeq)
}

// IsZero reports whether d is the zero Descriptor.
func (d Descriptor) IsZero() bool {
	return d.protocol == "" && d.cipherSuite == "" && d.key == nil
}
