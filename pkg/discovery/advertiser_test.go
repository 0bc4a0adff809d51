package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct{ shutdowns int }

func (s *fakeServer) Shutdown() { s.shutdowns++ }

type registerCall struct {
	instance, service, domain string
	port                      int
	text                      []string
	opts                      int
}

func fakeRegister(calls *[]registerCall, servers *[]*fakeServer, err error) registerFunc {
	return func(instance, service, domain string, port int, text []string, _ []net.Interface, opts ...zeroconf.ServerOption) (registration, error) {
		*calls = append(*calls, registerCall{instance, service, domain, port, text, len(opts)})
		if err != nil {
			return nil, err
		}
		s := &fakeServer{}
		*servers = append(*servers, s)
		return s, nil
	}
}

func testInfo() *ServiceInfo {
	return &ServiceInfo{Instance: "edge-1", Port: 8443, Versions: []string{"1.2"}, KernelTLS: true}
}

func TestAdvertiseRegisters(t *testing.T) {
	var calls []registerCall
	var servers []*fakeServer
	a := NewMDNSAdvertiser(DefaultAdvertiserConfig())
	a.register = fakeRegister(&calls, &servers, nil)

	info := testInfo()
	require.NoError(t, a.Advertise(context.Background(), info))

	require.Len(t, calls, 1)
	assert.Equal(t, "edge-1", calls[0].instance)
	assert.Equal(t, ServiceType, calls[0].service)
	assert.Equal(t, Domain, calls[0].domain)
	assert.Equal(t, 8443, calls[0].port)
	assert.Equal(t, []string{"ktls=1", "ver=1.2"}, calls[0].text)
	assert.Equal(t, 1, calls[0].opts)
	assert.Same(t, info, a.Advertised())
}

func TestAdvertiseReplacesPrevious(t *testing.T) {
	var calls []registerCall
	var servers []*fakeServer
	a := NewMDNSAdvertiser(AdvertiserConfig{})
	a.register = fakeRegister(&calls, &servers, nil)

	require.NoError(t, a.Advertise(context.Background(), testInfo()))
	require.NoError(t, a.Advertise(context.Background(), testInfo()))

	require.Len(t, servers, 2)
	assert.Equal(t, 1, servers[0].shutdowns)
	assert.Equal(t, 0, servers[1].shutdowns)
	assert.Equal(t, 0, calls[1].opts)

	a.Stop()
	a.Stop()
	assert.Equal(t, 1, servers[1].shutdowns)
	assert.Nil(t, a.Advertised())
}

func TestAdvertiseErrors(t *testing.T) {
	var calls []registerCall
	var servers []*fakeServer
	a := NewMDNSAdvertiser(DefaultAdvertiserConfig())
	a.register = fakeRegister(&calls, &servers, errors.New("no multicast"))

	bad := testInfo()
	bad.Port = 0
	assert.ErrorIs(t, a.Advertise(context.Background(), bad), ErrInvalidPort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Advertise(ctx, testInfo()), context.Canceled)
	assert.Empty(t, calls)

	err := a.Advertise(context.Background(), testInfo())
	assert.ErrorContains(t, err, "no multicast")
	assert.Nil(t, a.Advertised())
}
