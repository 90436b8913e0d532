// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

const (
	initPollEventsCap = 64
	maxPollEventsCap  = 1024
)

// eventList is the kqueue analogue of the epoll eventList, grounded in
// gnet's own internal/netpoll kqueue_events.go.
type eventList struct {
	size   int
	events []unix.Kevent_t
}

func newEventList(size int) *eventList {
	return &eventList{size: size, events: make([]unix.Kevent_t, size)}
}

func (el *eventList) expand() {
	if newSize := el.size << 1; newSize <= maxPollEventsCap {
		el.size = newSize
		el.events = make([]unix.Kevent_t, newSize)
	}
}

// kqueuePoller is the scalable, default demultiplexer on BSD/Darwin.
// kqueue's readiness model is filter+flags rather than a bitmask, so
// unlike the epoll backend it must translate into the shared Event
// bitset explicitly.
type kqueuePoller struct {
	fd       int
	evList   *eventList
	channels map[int]*Channel
}

func newScalablePoller() (demultiplexer, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, wrapErrno("kqueue", err)
	}
	if _, err := unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		unix.Close(fd)
		return nil, wrapErrno("kevent init", err)
	}
	return &kqueuePoller{
		fd:       fd,
		evList:   newEventList(initPollEventsCap),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *kqueuePoller) poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(p.fd, nil, p.evList.events, ts)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, wrapErrno("kevent", err)
	}
	// Coalesce read+write events observed for the same fd within one
	// wait into a single received mask, since our Channel exposes one
	// revents field, not per-filter events like raw kqueue does.
	merged := make(map[int]Event, n)
	fdOrder := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := p.evList.events[i]
		fd := int(ev.Ident)
		var e Event
		switch ev.Filter {
		case unix.EVFILT_READ:
			e = EventReadable
		case unix.EVFILT_WRITE:
			e = EventWritable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			e |= EventPeerClosed
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			e |= EventError
		}
		if _, seen := merged[fd]; !seen {
			fdOrder = append(fdOrder, fd)
		}
		merged[fd] |= e
	}
	if n == p.evList.size {
		p.evList.expand()
	}
	for _, fd := range fdOrder {
		if c, ok := p.channels[fd]; ok {
			c.SetRevents(merged[fd])
			*active = append(*active, c)
		}
	}
	return now, nil
}

func (p *kqueuePoller) updateChannel(c *Channel) error {
	fd := c.Fd()
	var changes []unix.Kevent_t
	if c.IsReading() {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	} else if c.Index() == channelAdded {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if c.IsWriting() {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	} else if c.Index() == channelAdded {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.fd, changes, nil, new(unix.Timespec)); err != nil {
		return wrapErrno("kevent update", err)
	}
	p.channels[fd] = c
	if c.IsNoneEvent() {
		c.SetIndex(channelDeleted)
	} else {
		c.SetIndex(channelAdded)
	}
	return nil
}

func (p *kqueuePoller) removeChannel(c *Channel) error {
	fd := c.Fd()
	delete(p.channels, fd)
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Deleting a filter that was never added returns ENOENT, which is
	// harmless here: the fd may only have had one of read/write set.
	_, _ = unix.Kevent(p.fd, changes, nil, new(unix.Timespec))
	c.SetIndex(channelNew)
	return nil
}

func (p *kqueuePoller) hasChannel(fd int) bool {
	_, ok := p.channels[fd]
	return ok
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.fd)
}
