// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

// Event is a bitset over channel readiness. The numeric values below
// are the real POLLIN/POLLPRI/POLLOUT/POLLERR/POLLHUP/POLLRDHUP values
// shared by poll(2) and epoll(7) on Linux, so the epoll backend can
// hand a Channel's interest mask straight to epoll_ctl and a received
// mask straight from epoll_wait without translation. The poll(2)
// fallback (portable on every unix in the corpus) shares the same
// POLLIN/POLLOUT/POLLERR/POLLHUP numeric values by POSIX convention;
// only the kqueue backend, whose readiness model is filter+flags
// rather than a bitmask, translates into this set explicitly.
type Event uint32

const (
	EventNone Event = 0
	// EventReadable mirrors EPOLLIN/POLLIN.
	EventReadable Event = 0x001
	// EventPriority mirrors EPOLLPRI/POLLPRI: out-of-band data pending.
	EventPriority Event = 0x002
	// EventWritable mirrors EPOLLOUT/POLLOUT.
	EventWritable Event = 0x004
	// EventError mirrors EPOLLERR/POLLERR.
	EventError Event = 0x008
	// EventHangup mirrors EPOLLHUP/POLLHUP.
	EventHangup Event = 0x010
	// EventPeerClosed mirrors EPOLLRDHUP on Linux; the kqueue backend
	// sets it synthetically from EV_EOF. The poll(2) fallback neither
	// requests nor synthesizes it.
	EventPeerClosed Event = 0x2000
	// EventInvalid marks an invalid file descriptor (POLLNVAL has no
	// direct epoll analogue; the epoll backend never sets it, the
	// poll(2) fallback does).
	EventInvalid Event = 1 << 30

	eventReadEvents  = EventReadable | EventPriority
	eventWriteEvents = EventWritable
)

func (e Event) has(bits Event) bool { return e&bits != 0 }
