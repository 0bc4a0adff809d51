//go:build linux

package reactor

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// poller is a level-triggered epoll set.
type poller struct {
	epfd   int
	events []unix.EpollEvent
}

func newPoller(maxEvents int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &poller{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func (p *poller) add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev))
}

func (p *poller) remove(fd int) error {
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil))
}

// wait returns the descriptors that became ready within timeout.
func (p *poller) wait(timeout time.Duration, ready []int) ([]int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return ready[:0], nil
		}
		return nil, os.NewSyscallError("epoll_wait", err)
	}
	ready = ready[:0]
	for _, ev := range p.events[:n] {
		ready = append(ready, int(ev.Fd))
	}
	return ready, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}
