//go:build !linux

package reactor

import (
	"time"

	"github.com/mash-protocol/ktls-go/pkg/rawsock"
)

type poller struct{}

func newPoller(int) (*poller, error) { return nil, rawsock.ErrUnsupportedPlatform }

func (p *poller) add(int) error    { return rawsock.ErrUnsupportedPlatform }
func (p *poller) remove(int) error { return rawsock.ErrUnsupportedPlatform }
func (p *poller) close() error     { return nil }

func (p *poller) wait(time.Duration, []int) ([]int, error) {
	return nil, rawsock.ErrUnsupportedPlatform
}
