package engine

import (
	"crypto/hmac"
	"hash"
)

var keyExpansionLabel = []byte("key expansion")

// pHash implements the P_hash function of RFC 5246 section 5.
func pHash(result, secret, seed []byte, h func() hash.Hash) {
	mac := hmac.New(h, secret)
	mac.Write(seed)
	a := mac.Sum(nil)

	for j := 0; j < len(result); {
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		b := mac.Sum(nil)
		j += copy(result[j:], b)

		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)
	}
}

// prf12 is the TLS 1.2 pseudo-random function.
func prf12(h func() hash.Hash, result, secret, label, seed []byte) {
	labelAndSeed := make([]byte, 0, len(label)+len(seed))
	labelAndSeed = append(labelAndSeed, label...)
	labelAndSeed = append(labelAndSeed, seed...)
	pHash(result, secret, labelAndSeed, h)
}

// serverWriteKeys expands the master secret and returns the server write key
// and fixed IV. The key block is laid out as client key, server key, client
// IV, server IV; AEAD suites carry no MAC keys.
func (s aeadSuite) serverWriteKeys(masterSecret, clientRandom, serverRandom []byte) (key, iv []byte) {
	seed := make([]byte, 0, len(serverRandom)+len(clientRandom))
	seed = append(seed, serverRandom...)
	seed = append(seed, clientRandom...)

	block := make([]byte, 2*s.keyLen+2*s.ivLen)
	prf12(s.hash, block, masterSecret, keyExpansionLabel, seed)

	key = block[s.keyLen : 2*s.keyLen]
	iv = block[2*s.keyLen+s.ivLen:]
	return key, iv
}
