// Package offload hands the transmit side of an established TLS session to
// the Linux kernel (kTLS) and performs zero-copy file transfers on offloaded
// sockets.
//
// The hand-off is two socket options applied in order: TCP_ULP "tls" attaches
// the kernel TLS upper layer protocol, then TLS_TX installs the cipher state.
// Neither step can be undone; a socket whose hand-off failed must be closed.
package offload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mash-protocol/ktls-go/pkg/cipherctx"
)

// Offload errors.
var (
	ErrOffloadRejected     = errors.New("offload: rejected by kernel")
	ErrUnsupportedCipher   = errors.New("offload: unsupported protocol or cipher")
	ErrUnsupportedPlatform = errors.New("offload: kernel TLS not supported on this platform")
	ErrTransferFault       = errors.New("offload: transfer failed")
	ErrWouldBlock          = errors.New("offload: transfer would block")
)

// Error describes a failed offload step.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("offload %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kernel interface constants (include/uapi/linux/tls.h, tcp.h).
const (
	tcpULP          = 31
	solTLS          = 282
	tlsTX           = 1
	tlsVersion12    = 0x0303
	cipherAESGCM128 = 51

	ulpName = "tls"
)

// cryptoInfoAESGCM128Size is sizeof(struct tls12_crypto_info_aes_gcm_128).
const cryptoInfoAESGCM128Size = 2 + 2 + cipherctx.AES128GCMIVSize + cipherctx.AES128GCMKeySize +
	cipherctx.AES128GCMSaltSize + cipherctx.RecordSeqSize

var kernelSuites = map[string]uint16{
	"TLS_RSA_WITH_AES_128_GCM_SHA256":         cipherAESGCM128,
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   cipherAESGCM128,
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": cipherAESGCM128,
}

// Suites returns the cipher suite names the kernel can take over, sorted.
func Suites() []string {
	names := make([]string, 0, len(kernelSuites))
	for name := range kernelSuites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalCryptoInfo encodes d as struct tls12_crypto_info_aes_gcm_128 in
// native byte order.
func MarshalCryptoInfo(d cipherctx.Descriptor) ([]byte, error) {
	if d.Protocol() != "TLSv1.2" {
		return nil, fmt.Errorf("%w: protocol %q", ErrUnsupportedCipher, d.Protocol())
	}
	cipherType, ok := kernelSuites[d.CipherSuite()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCipher, d.CipherSuite())
	}

	fields := []struct {
		name string
		val  []byte
		size int
	}{
		{"iv", d.IV(), cipherctx.AES128GCMIVSize},
		{"key", d.Key(), cipherctx.AES128GCMKeySize},
		{"salt", d.Salt(), cipherctx.AES128GCMSaltSize},
		{"rec_seq", d.RecSeq(), cipherctx.RecordSeqSize},
	}

	info := make([]byte, 4, cryptoInfoAESGCM128Size)
	binary.NativeEndian.PutUint16(info[0:], tlsVersion12)
	binary.NativeEndian.PutUint16(info[2:], cipherType)
	for _, f := range fields {
		if len(f.val) != f.size {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrUnsupportedCipher, f.name, len(f.val), f.size)
		}
		info = append(info, f.val...)
	}
	return info, nil
}

// Offloader applies a descriptor to a connected socket.
type Offloader interface {
	Offload(fd int, d cipherctx.Descriptor) error
}

// Controller is the kernel Offloader.
type Controller struct{}

// NewController returns the kernel offload controller.
func NewController() *Controller {
	return &Controller{}
}

// Offload enables the TLS upper layer protocol on fd and installs the
// transmit state. On error the socket must be closed by the caller.
func (c *Controller) Offload(fd int, d cipherctx.Descriptor) error {
	info, err := MarshalCryptoInfo(d)
	if err != nil {
		return &Error{Op: "encode", Err: err}
	}
	if err := EnableULP(fd); err != nil {
		return err
	}
	return installTX(fd, info)
}

// InstallTX installs the transmit state of d on a socket whose TLS upper
// layer protocol is already enabled.
func InstallTX(fd int, d cipherctx.Descriptor) error {
	info, err := MarshalCryptoInfo(d)
	if err != nil {
		return &Error{Op: "encode", Err: err}
	}
	return installTX(fd, info)
}

var (
	initOnce sync.Once
	initErr  error
)

// Init checks once per process that the kernel accepts the TLS upper layer
// protocol. Later calls return the cached result.
func Init() error {
	initOnce.Do(func() {
		initErr = probe()
	})
	return initErr
}

// Compile-time interface satisfaction check.
var _ Offloader = (*Controller)(nil)
