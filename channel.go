// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import "time"

// channel index states, tracked per-fd by the demultiplexer so that
// update() can distinguish first insertion from modification and so
// that removal after disabling is O(1).
const (
	channelNew int32 = iota - 1
	channelAdded
	channelDeleted
)

// Channel binds one file descriptor to a set of readiness callbacks and
// the loop that owns it. A Channel never closes its fd — the owner
// (connection, acceptor, connector, timer queue, loop wakeup) is
// responsible for that.
//
// Channel is not safe for concurrent use; every method must run on the
// owning loop's thread, which is what EventLoop.RunInLoop/QueueInLoop exist
// to guarantee for callers on other threads.
type Channel struct {
	loop   *EventLoop
	fd     int
	events Event // interest mask
	revent Event // events last reported ready by the demultiplexer
	index  int32

	readHandler  func(receiveTime time.Time)
	writeHandler func()
	closeHandler func()
	errorHandler func()

	tied          bool
	ownerAlive    func() bool
	logHangup     bool
	eventHandling bool
	addedToLoop   bool
}

// NewChannel constructs a channel for fd, owned by loop. It starts with
// no interest and no handlers; callers install handlers and call
// EnableReading/EnableWriting before the channel does anything.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:  loop,
		fd:    fd,
		index: channelNew,
	}
}

func (c *Channel) Fd() int { return c.fd }

func (c *Channel) SetReadHandler(fn func(receiveTime time.Time)) { c.readHandler = fn }
func (c *Channel) SetWriteHandler(fn func())                     { c.writeHandler = fn }
func (c *Channel) SetCloseHandler(fn func())                     { c.closeHandler = fn }
func (c *Channel) SetErrorHandler(fn func())                     { c.errorHandler = fn }

// SetLogHangup requests a warning log line when the channel observes a
// bare hangup (no accompanying read-ready). Acceptors and connectors
// leave this off; TCP connections turn it on.
func (c *Channel) SetLogHangup(v bool) { c.logHangup = v }

// Tie installs a liveness probe, typically a closure over an atomic
// "destroyed" flag on a shared connection object. While tied, dispatch
// is skipped entirely whenever the probe reports the owner is gone,
// which is this package's stand-in for upgrading a weak_ptr: Go has no
// portable weak reference prior to the loop's minimum Go version, and a
// closure over an atomic flag gives the same "skip if owner outlived"
// guarantee without an arena/generation table.
func (c *Channel) Tie(alive func() bool) {
	c.tied = true
	c.ownerAlive = alive
}

func (c *Channel) Index() int32     { return c.index }
func (c *Channel) SetIndex(i int32) { c.index = i }

func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }
func (c *Channel) IsReading() bool   { return c.events.has(eventReadEvents) }
func (c *Channel) IsWriting() bool   { return c.events.has(eventWriteEvents) }

func (c *Channel) Events() Event { return c.events }

// SetRevents records the events the demultiplexer observed ready; only
// the poller implementations call this, right before queuing the
// channel into the loop's active list.
func (c *Channel) SetRevents(ev Event) { c.revent = ev }

func (c *Channel) EnableReading() {
	c.events |= eventReadEvents
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= eventReadEvents
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= eventWriteEvents
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= eventWriteEvents
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) update() {
	c.loop.assertInLoopThread("Channel.update")
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// remove detaches the channel from its loop's demultiplexer. It is the
// last thing an owner does with a channel before dropping its
// reference. It may be called from one of the channel's own handlers
// (the Connector detaches its channel from its write handler); the
// dispatch in progress finishes and the fd is no longer reported.
func (c *Channel) remove() {
	c.loop.assertInLoopThread("Channel.remove")
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// handleEvent runs the dispatch policy against the received mask
// recorded by the demultiplexer, gated by the tie liveness probe.
func (c *Channel) handleEvent(receiveTime time.Time) {
	if c.tied {
		if c.ownerAlive == nil || !c.ownerAlive() {
			return
		}
	}
	c.handleEventGuarded(receiveTime)
}

func (c *Channel) handleEventGuarded(receiveTime time.Time) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revent.has(EventHangup) && !c.revent.has(EventReadable) {
		if c.logHangup {
			c.loop.logger().Warnf("reactor: fd=%d received hangup with no pending read", c.fd)
		}
		if c.closeHandler != nil {
			c.closeHandler()
		}
		return
	}
	if c.revent.has(EventInvalid) {
		c.loop.logger().Warnf("reactor: fd=%d is invalid", c.fd)
	}
	if c.revent.has(EventError | EventInvalid) {
		if c.errorHandler != nil {
			c.errorHandler()
		}
	}
	if c.revent.has(EventReadable | EventPriority | EventPeerClosed) {
		if c.readHandler != nil {
			c.readHandler(receiveTime)
		}
	}
	if c.revent.has(EventWritable) {
		if c.writeHandler != nil {
			c.writeHandler()
		}
	}
}
