// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

const (
	initPollEventsCap = 128
	maxPollEventsCap  = 1024
)

// eventList is a reusable, self-doubling buffer of raw epoll events,
// grounded in gnet's own internal/netpoll eventList (defs_poller_epoll.go).
type eventList struct {
	size   int
	events []unix.EpollEvent
}

func newEventList(size int) *eventList {
	return &eventList{size: size, events: make([]unix.EpollEvent, size)}
}

func (el *eventList) expand() {
	if newSize := el.size << 1; newSize <= maxPollEventsCap {
		el.size = newSize
		el.events = make([]unix.EpollEvent, newSize)
	}
}

// epollPoller is the scalable, default demultiplexer on Linux.
type epollPoller struct {
	fd       int
	evList   *eventList
	channels map[int]*Channel
}

func newScalablePoller() (demultiplexer, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapErrno("epoll_create1", err)
	}
	return &epollPoller{
		fd:       fd,
		evList:   newEventList(initPollEventsCap),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *epollPoller) poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.fd, p.evList.events, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, wrapErrno("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		ev := p.evList.events[i]
		if c, ok := p.channels[int(ev.Fd)]; ok {
			c.SetRevents(Event(ev.Events))
			*active = append(*active, c)
		}
	}
	if n == p.evList.size {
		p.evList.expand()
	}
	return now, nil
}

func (p *epollPoller) updateChannel(c *Channel) error {
	fd := c.Fd()
	switch c.Index() {
	case channelNew, channelDeleted:
		op := unix.EPOLL_CTL_ADD
		if c.Index() == channelDeleted {
			op = unix.EPOLL_CTL_ADD
		}
		if c.IsNoneEvent() {
			// nothing to add yet; keep it pending.
			if c.Index() == channelNew {
				c.SetIndex(channelNew)
			}
			return nil
		}
		p.channels[fd] = c
		c.SetIndex(channelAdded)
		return wrapErrno("epoll_ctl_add", unix.EpollCtl(p.fd, op, fd, &unix.EpollEvent{
			Fd:     int32(fd),
			Events: uint32(c.Events()),
		}))
	case channelAdded:
		if c.IsNoneEvent() {
			c.SetIndex(channelDeleted)
			return wrapErrno("epoll_ctl_del", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
		}
		return wrapErrno("epoll_ctl_mod", unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
			Fd:     int32(fd),
			Events: uint32(c.Events()),
		}))
	}
	return nil
}

func (p *epollPoller) removeChannel(c *Channel) error {
	fd := c.Fd()
	delete(p.channels, fd)
	if c.Index() == channelAdded {
		if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return wrapErrno("epoll_ctl_del", err)
		}
	}
	c.SetIndex(channelNew)
	return nil
}

func (p *epollPoller) hasChannel(fd int) bool {
	_, ok := p.channels[fd]
	return ok
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}
