// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable fallback demultiplexer, selected by
// envPortablePoller. Unlike the scalable backends it rebuilds its
// interest list from the channel map on every call, trading O(n)
// per-wait cost for portability — the documented trade-off of the
// "portable polling primitive" alternative.
type pollPoller struct {
	channels map[int]*Channel
}

func newPollPoller() (demultiplexer, error) {
	return &pollPoller{channels: make(map[int]*Channel)}, nil
}

func (p *pollPoller) poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	fds := make([]unix.PollFd, 0, len(p.channels))
	order := make([]*Channel, 0, len(p.channels))
	for _, c := range p.channels {
		fds = append(fds, unix.PollFd{Fd: int32(c.Fd()), Events: int16(c.Events())})
		order = append(order, c)
	}
	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int(timeout / time.Millisecond)
	}
	n, err := unix.Poll(fds, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, wrapErrno("poll", err)
	}
	if n == 0 {
		return now, nil
	}
	for i, fd := range fds {
		if fd.Revents == 0 {
			continue
		}
		ev := Event(fd.Revents)
		if fd.Revents&unix.POLLNVAL != 0 {
			ev |= EventInvalid
		}
		order[i].SetRevents(ev)
		*active = append(*active, order[i])
	}
	return now, nil
}

func (p *pollPoller) updateChannel(c *Channel) error {
	if c.IsNoneEvent() {
		delete(p.channels, c.Fd())
		c.SetIndex(channelDeleted)
		return nil
	}
	p.channels[c.Fd()] = c
	c.SetIndex(channelAdded)
	return nil
}

func (p *pollPoller) removeChannel(c *Channel) error {
	delete(p.channels, c.Fd())
	c.SetIndex(channelNew)
	return nil
}

func (p *pollPoller) hasChannel(fd int) bool {
	_, ok := p.channels[fd]
	return ok
}

func (p *pollPoller) close() error { return nil }
