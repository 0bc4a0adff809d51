package engine

import (
	"golang.org/x/crypto/cryptobyte"
)

// Record layer limits (RFC 5246 section 6.2).
const (
	recordHeaderLen = 5
	maxPlaintext    = 16384
	maxCiphertext   = maxPlaintext + 2048

	// ApplicationBufferSize is the largest plaintext a single record carries.
	ApplicationBufferSize = maxPlaintext
	// PacketBufferSize is the largest record on the wire.
	PacketBufferSize = recordHeaderLen + maxCiphertext
)

const (
	recordTypeChangeCipherSpec uint8 = 20
	recordTypeAlert            uint8 = 21
	recordTypeHandshake        uint8 = 22
	recordTypeApplicationData  uint8 = 23

	handshakeTypeServerHello uint8 = 2
)

// parseRecordHeader returns the content type and body length of the record
// at the start of b.
func parseRecordHeader(b []byte) (typ uint8, length int, ok bool) {
	s := cryptobyte.String(b)
	var version, n uint16
	if !s.ReadUint8(&typ) || !s.ReadUint16(&version) || !s.ReadUint16(&n) {
		return 0, 0, false
	}
	return typ, int(n), true
}

// recordTracker follows the outbound record stream of a server. It captures
// the ServerHello random and counts records sent under the negotiated cipher.
type recordTracker struct {
	pending      []byte
	handshake    []byte
	serverRandom []byte
	ccsSent      bool
	encrypted    uint64
	appData      uint64
}

func (t *recordTracker) observe(b []byte) {
	t.pending = append(t.pending, b...)
	for {
		typ, n, ok := parseRecordHeader(t.pending)
		if !ok || len(t.pending) < recordHeaderLen+n {
			break
		}
		t.record(typ, t.pending[recordHeaderLen:recordHeaderLen+n])
		t.pending = t.pending[recordHeaderLen+n:]
	}
	if len(t.pending) == 0 {
		t.pending = nil
	}
}

func (t *recordTracker) record(typ uint8, body []byte) {
	if t.ccsSent {
		t.encrypted++
		if typ == recordTypeApplicationData {
			t.appData++
		}
		return
	}
	switch typ {
	case recordTypeChangeCipherSpec:
		t.ccsSent = true
		t.handshake = nil
	case recordTypeHandshake:
		if t.serverRandom == nil {
			t.handshake = append(t.handshake, body...)
			t.findServerHello()
		}
	}
}

// findServerHello scans buffered handshake messages for a complete ServerHello.
func (t *recordTracker) findServerHello() {
	s := cryptobyte.String(t.handshake)
	for !s.Empty() {
		var typ uint8
		var msg cryptobyte.String
		if !s.ReadUint8(&typ) || !s.ReadUint24LengthPrefixed(&msg) {
			return
		}
		if typ != handshakeTypeServerHello {
			continue
		}
		var version uint16
		random := make([]byte, 32)
		if msg.ReadUint16(&version) && msg.CopyBytes(random) {
			t.serverRandom = random
		}
		t.handshake = nil
		return
	}
}
