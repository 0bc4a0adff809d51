package offload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/ktls-go/pkg/cipherctx"
)

func testDescriptor(suite string) cipherctx.Descriptor {
	seq := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	return cipherctx.NewDescriptor("TLSv1.2", suite,
		seq,
		bytes.Repeat([]byte{0x11}, 16),
		[]byte{0xa, 0xb, 0xc, 0xd},
		seq,
	)
}

func TestMarshalCryptoInfoLayout(t *testing.T) {
	info, err := MarshalCryptoInfo(testDescriptor("TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"))
	require.NoError(t, err)
	require.Len(t, info, 40)
	assert.Equal(t, cryptoInfoAESGCM128Size, len(info))

	assert.Equal(t, uint16(0x0303), binary.NativeEndian.Uint16(info[0:2]))
	assert.Equal(t, uint16(51), binary.NativeEndian.Uint16(info[2:4]))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, info[4:12], "iv")
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 16), info[12:28], "key")
	assert.Equal(t, []byte{0xa, 0xb, 0xc, 0xd}, info[28:32], "salt")
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, info[32:40], "rec_seq")
}

func TestMarshalCryptoInfoRejects(t *testing.T) {
	tests := []struct {
		name string
		d    cipherctx.Descriptor
	}{
		{"suite", testDescriptor("TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384")},
		{"protocol", cipherctx.NewDescriptor("TLSv1.3", "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", make([]byte, 8), make([]byte, 16), make([]byte, 4), make([]byte, 8))},
		{"short key", cipherctx.NewDescriptor("TLSv1.2", "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", make([]byte, 8), make([]byte, 15), make([]byte, 4), make([]byte, 8))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCryptoInfo(tt.d)
			assert.ErrorIs(t, err, ErrUnsupportedCipher)
		})
	}
}

func TestControllerRejectsBeforeTouchingSocket(t *testing.T) {
	err := NewController().Offload(-1, testDescriptor("TLS_CHACHA"))
	require.Error(t, err)

	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "encode", oe.Op)
	assert.ErrorIs(t, err, ErrUnsupportedCipher)
}

func TestInitIsCached(t *testing.T) {
	first := Init()
	assert.Equal(t, first, Init())
}

func TestSuitesSorted(t *testing.T) {
	assert.Equal(t, []string{
		"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
		"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
		"TLS_RSA_WITH_AES_128_GCM_SHA256",
	}, Suites())
}
