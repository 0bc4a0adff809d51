package discovery

import (
	"errors"
	"fmt"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of a kTLS server.
	ServiceType = "_ktls._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultTTL is the DNS record TTL.
	DefaultTTL = 120 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyVersions     = "ver"
	TXTKeyCipherSuites = "cs"
	TXTKeyKernelTLS    = "ktls"
	TXTKeySendFile     = "sf"
)

var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 bytes")
	ErrInvalidPort         = errors.New("invalid port")
)

// ServiceInfo describes an advertised server.
type ServiceInfo struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Port is the TCP port the reactor listens on.
	Port uint16

	// Versions are the TLS protocol versions offered (e.g. "1.2").
	Versions []string

	// CipherSuites are the suites whose transmit state the kernel accepts.
	CipherSuites []string

	// KernelTLS reports whether transmit offload is available.
	KernelTLS bool

	// SendFile reports whether files are served with sendfile.
	SendFile bool

	// Extra holds additional "key=value" TXT strings.
	Extra []string
}

// Validate checks the fields needed for registration.
func (i *ServiceInfo) Validate() error {
	if err := ValidateInstanceName(i.Instance); err != nil {
		return err
	}
	if i.Port == 0 {
		return ErrInvalidPort
	}
	if len(i.Versions) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersions)
	}
	return nil
}
