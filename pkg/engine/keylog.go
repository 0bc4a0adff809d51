package engine

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"sync"
)

const keyLogLabelTLS12 = "CLIENT_RANDOM"

// keyLog captures the TLS 1.2 master secret crypto/tls reports through
// Config.KeyLogWriter (NSS key log format).
type keyLog struct {
	mu           sync.Mutex
	clientRandom []byte
	masterSecret []byte
}

func (k *keyLog) Write(p []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(p))
	for sc.Scan() {
		fields := bytes.Fields(sc.Bytes())
		if len(fields) != 3 || string(fields[0]) != keyLogLabelTLS12 {
			continue
		}
		cr, err := hex.DecodeString(string(fields[1]))
		if err != nil {
			continue
		}
		ms, err := hex.DecodeString(string(fields[2]))
		if err != nil {
			continue
		}
		k.mu.Lock()
		k.clientRandom, k.masterSecret = cr, ms
		k.mu.Unlock()
	}
	return len(p), nil
}

func (k *keyLog) secret() (clientRandom, masterSecret []byte, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.masterSecret == nil {
		return nil, nil, false
	}
	return k.clientRandom, k.masterSecret, true
}
