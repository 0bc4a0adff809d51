package cert

import (
	"crypto/x509"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSigned(t *testing.T) {
	id, err := GenerateSelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "localhost", id.Certificate.Subject.CommonName)
	assert.Equal(t, []string{"localhost"}, id.Certificate.DNSNames)
	require.Len(t, id.Certificate.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", id.Certificate.IPAddresses[0].String())

	pool := x509.NewCertPool()
	pool.AddCert(id.Certificate)
	_, err = id.Certificate.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: pool})
	assert.NoError(t, err)

	tc := id.TLSCertificate()
	assert.Len(t, tc.Certificate, 1)
	assert.Same(t, id.Certificate, tc.Leaf)
}

func TestKeyPairRoundTrip(t *testing.T) {
	id, err := GenerateSelfSigned([]string{"127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.pem")
	keyPath := filepath.Join(dir, "server-key.pem")
	require.NoError(t, WriteKeyPair(certPath, keyPath, id.Certificate, id.PrivateKey))

	pair, err := LoadKeyPair(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, id.Certificate.Raw, pair.Certificate[0])
}

func TestDecodeKeyPEM(t *testing.T) {
	id, err := GenerateSelfSigned(nil, time.Hour)
	require.NoError(t, err)

	data, err := EncodeKeyPEM(id.PrivateKey)
	require.NoError(t, err)

	key, err := DecodeKeyPEM(data)
	require.NoError(t, err)
	assert.True(t, id.PrivateKey.PublicKey.Equal(key.Public()))

	_, err = DecodeKeyPEM([]byte("not pem"))
	assert.ErrorIs(t, err, ErrInvalidPEM)

	_, err = DecodeCertPEM(data)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

func TestLoadKeyPairMissing(t *testing.T) {
	_, err := LoadKeyPair(filepath.Join(t.TempDir(), "none.pem"), "none-key.pem")
	assert.Error(t, err)
}
