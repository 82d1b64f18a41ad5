//go:build linux

package engine

import (
	"fmt"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux readiness backend: a single epoll instance
// shared by the listener and every connection, level-triggered so a
// connection with unread bytes keeps firing until fully drained.
type epollPoller struct {
	fd  int
	fds map[int]int // token -> raw fd, needed by remove() and EpollCtl
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("engine: epoll_create1: %w", err)
	}
	return &epollPoller{fd: fd, fds: make(map[int]int)}, nil
}

func (p *epollPoller) addListener(token int, ln net.Listener) error {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return fmt.Errorf("engine: listener does not expose a raw fd")
	}
	return p.register(token, sc)
}

func (p *epollPoller) addConn(token int, c net.Conn) (io.Reader, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("engine: connection does not expose a raw fd")
	}
	if err := p.register(token, sc); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *epollPoller) register(token int, sc syscall.Conn) error {
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("engine: syscall conn: %w", err)
	}

	var ctlErr error
	cerr := raw.Control(func(fdPtr uintptr) {
		fd := int(fdPtr)
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(token)} //nolint:gosec // token is a small monotonic counter
		ctlErr = unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
		if ctlErr == nil {
			p.fds[token] = fd
		}
	})
	if cerr != nil {
		return fmt.Errorf("engine: control: %w", cerr)
	}
	return ctlErr
}

func (p *epollPoller) rearm(int) error { return nil }

func (p *epollPoller) remove(token int) error {
	fd, ok := p.fds[token]
	if !ok {
		return nil
	}
	delete(p.fds, token)
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait() ([]pollEvent, error) {
	var raw [64]unix.EpollEvent
	n, err := unix.EpollWait(p.fd, raw[:], -1)
	if err != nil {
		if err == unix.EINTR { //nolint:errorlint // unix.Errno comparison, not a wrapped error
			return nil, nil
		}
		return nil, fmt.Errorf("engine: epoll_wait: %w", err)
	}

	out := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		e := raw[i]
		hangup := e.Events&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0
		out = append(out, pollEvent{token: int(e.Fd), hangup: hangup})
	}
	return out, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}
