// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2010, Shuo Chen. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

type connState int32

const (
	connConnecting connState = iota
	connConnected
	connDisconnecting
	connDisconnected
)

func (s connState) String() string {
	switch s {
	case connConnecting:
		return "connecting"
	case connConnected:
		return "connected"
	case connDisconnecting:
		return "disconnecting"
	case connDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionCallback fires once when a connection becomes established
// and once more, with the same object, when it goes down.
type ConnectionCallback func(c *TCPConnection)

// MessageCallback fires whenever handleRead appended new bytes to the
// connection's input buffer.
type MessageCallback func(c *TCPConnection, buf *Buffer, receiveTime time.Time)

// WriteCompleteCallback fires once the connection's entire output
// buffer has drained to the socket.
type WriteCompleteCallback func(c *TCPConnection)

// HighWaterMarkCallback fires when queuing more bytes onto the output
// buffer crosses the high watermark from below.
type HighWaterMarkCallback func(c *TCPConnection, queuedBytes int)

// CloseCallback fires once, after the connection callback has already
// been invoked with the down transition, so a TCPServer/TCPClient can
// unlink the connection from its lifetime map.
type CloseCallback func(c *TCPConnection)

// DefaultConnectionCallback logs the transition; it never closes the
// connection, since some callers only ever want the message callback.
func DefaultConnectionCallback(log Logger) ConnectionCallback {
	return func(c *TCPConnection) {
		state := "DOWN"
		if c.Connected() {
			state = "UP"
		}
		log.Debugf("reactor: %s -> %s is %s", c.LocalAddr(), c.PeerAddr(), state)
	}
}

// DefaultMessageCallback discards every byte it is handed.
func DefaultMessageCallback(c *TCPConnection, buf *Buffer, _ time.Time) {
	buf.RetrieveAll()
}

// TCPConnection is one established (or half-torn-down) TCP socket
// bound to a Channel on a single loop. Every public method is safe to
// call from any goroutine; methods whose name ends in InLoop assume
// they already run on the owning loop and are not exported.
type TCPConnection struct {
	loop *EventLoop
	name string
	fd   int

	channel *Channel

	local *net.TCPAddr
	peer  *net.TCPAddr

	state int32 // connState, atomic for Connected()/Disconnected() from other goroutines

	reading int32

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int

	connectionCallback     ConnectionCallback
	messageCallback        MessageCallback
	writeCompleteCallback  WriteCompleteCallback
	highWaterMarkCallback  HighWaterMarkCallback
	closeCallback          CloseCallback

	destroyed int32 // atomic bool backing the channel's tie probe

	context interface{}
}

// NewTCPConnection wraps an already-accepted or already-connected fd.
// The connection starts in the connecting state; callers must invoke
// connectEstablished (via a TCPServer/TCPClient) before it becomes
// live.
func NewTCPConnection(loop *EventLoop, name string, fd int, local, peer *net.TCPAddr) *TCPConnection {
	c := &TCPConnection{
		loop:                  loop,
		name:                  name,
		fd:                    fd,
		local:                 local,
		peer:                  peer,
		state:                 int32(connConnecting),
		reading:               1,
		inputBuffer:           NewBuffer(),
		outputBuffer:          NewBuffer(),
		highWaterMark:         DefaultHighWatermark,
		connectionCallback:    func(*TCPConnection) {},
		messageCallback:       DefaultMessageCallback,
		writeCompleteCallback: func(*TCPConnection) {},
		highWaterMarkCallback: func(*TCPConnection, int) {},
		closeCallback:         func(*TCPConnection) {},
	}
	c.channel = NewChannel(loop, fd)
	c.channel.SetReadHandler(c.handleRead)
	c.channel.SetWriteHandler(c.handleWrite)
	c.channel.SetCloseHandler(c.handleClose)
	c.channel.SetErrorHandler(c.handleError)
	c.channel.SetLogHangup(true)
	_ = setKeepAlive(fd, 15*time.Second)
	return c
}

func (c *TCPConnection) Name() string          { return c.name }
func (c *TCPConnection) Fd() int               { return c.fd }
func (c *TCPConnection) LocalAddr() net.Addr   { return c.local }
func (c *TCPConnection) PeerAddr() net.Addr    { return c.peer }
func (c *TCPConnection) Loop() *EventLoop      { return c.loop }
func (c *TCPConnection) Context() interface{}  { return c.context }
func (c *TCPConnection) SetContext(v interface{}) { c.context = v }

func (c *TCPConnection) state_() connState { return connState(atomic.LoadInt32(&c.state)) }
func (c *TCPConnection) setState(s connState) { atomic.StoreInt32(&c.state, int32(s)) }

func (c *TCPConnection) Connected() bool    { return c.state_() == connConnected }
func (c *TCPConnection) Disconnected() bool { return c.state_() == connDisconnected }

func (c *TCPConnection) SetConnectionCallback(cb ConnectionCallback)         { c.connectionCallback = cb }
func (c *TCPConnection) SetMessageCallback(cb MessageCallback)               { c.messageCallback = cb }
func (c *TCPConnection) SetWriteCompleteCallback(cb WriteCompleteCallback)   { c.writeCompleteCallback = cb }
func (c *TCPConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, n int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = n
}
func (c *TCPConnection) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// Send queues data for delivery, writing directly to the socket first
// when nothing is already pending. Safe from any goroutine. It returns
// ErrConnClosed once the connection is no longer connected.
func (c *TCPConnection) Send(data []byte) error {
	if c.state_() != connConnected {
		return ErrConnClosed
	}
	if c.loop.isInLoopThread() {
		c.sendInLoop(data)
		return nil
	}
	cp := append([]byte(nil), data...)
	return c.loop.RunInLoop(func() { c.sendInLoop(cp) })
}

// SendString is a convenience wrapper around Send.
func (c *TCPConnection) SendString(s string) error { return c.Send([]byte(s)) }

func (c *TCPConnection) sendInLoop(data []byte) {
	c.loop.assertInLoopThread("TCPConnection.sendInLoop")
	if c.state_() == connDisconnected {
		c.loop.log.Warnf("reactor: %s disconnected, give up writing", c.name)
		return
	}

	var nwrote int
	remaining := len(data)
	faultError := false

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err == nil {
			nwrote = n
			remaining = len(data) - n
			if remaining == 0 {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		} else if err != unix.EAGAIN {
			c.loop.log.Errorf("reactor: %v", wrapErrno("write", err))
			if err == unix.EPIPE || err == unix.ECONNRESET {
				faultError = true
			}
		}
	}

	if !faultError && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark {
			c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, oldLen+remaining) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the write side once any queued output has
// drained; reads continue until the peer closes or ForceClose runs.
func (c *TCPConnection) Shutdown() {
	if c.state_() == connConnected {
		c.setState(connDisconnecting)
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TCPConnection) shutdownInLoop() {
	c.loop.assertInLoopThread("TCPConnection.shutdownInLoop")
	if !c.channel.IsWriting() {
		unix.Shutdown(c.fd, unix.SHUT_WR)
	}
}

// ForceClose tears the connection down immediately, as if the peer had
// sent EOF.
func (c *TCPConnection) ForceClose() {
	if s := c.state_(); s == connConnected || s == connDisconnecting {
		c.setState(connDisconnecting)
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

// ForceCloseWithDelay schedules ForceClose after d elapses, guarded by
// the tie liveness probe so a connection destroyed in the meantime
// doesn't get double-closed.
func (c *TCPConnection) ForceCloseWithDelay(d time.Duration) {
	if s := c.state_(); s == connConnected || s == connDisconnecting {
		c.setState(connDisconnecting)
		c.loop.RunAfter(d, func() {
			if atomic.LoadInt32(&c.destroyed) == 0 {
				c.ForceClose()
			}
		})
	}
}

func (c *TCPConnection) forceCloseInLoop() {
	c.loop.assertInLoopThread("TCPConnection.forceCloseInLoop")
	if s := c.state_(); s == connConnected || s == connDisconnecting {
		c.handleClose()
	}
}

// SetTCPNoDelay toggles Nagle's algorithm on the underlying socket.
func (c *TCPConnection) SetTCPNoDelay(on bool) error { return setNoDelay(c.fd, on) }

// StartRead re-enables read readiness; safe to call from any
// goroutine.
func (c *TCPConnection) StartRead() { c.loop.RunInLoop(c.startReadInLoop) }

func (c *TCPConnection) startReadInLoop() {
	c.loop.assertInLoopThread("TCPConnection.startReadInLoop")
	if atomic.LoadInt32(&c.reading) == 0 || !c.channel.IsReading() {
		c.channel.EnableReading()
		atomic.StoreInt32(&c.reading, 1)
	}
}

// StopRead disables read readiness; safe to call from any goroutine.
func (c *TCPConnection) StopRead() { c.loop.RunInLoop(c.stopReadInLoop) }

func (c *TCPConnection) stopReadInLoop() {
	c.loop.assertInLoopThread("TCPConnection.stopReadInLoop")
	if atomic.LoadInt32(&c.reading) == 1 || c.channel.IsReading() {
		c.channel.DisableReading()
		atomic.StoreInt32(&c.reading, 0)
	}
}

// connectEstablished must run on the owning loop, immediately after
// construction, once the connection is registered with its owner's
// lifetime map.
func (c *TCPConnection) connectEstablished() {
	c.loop.assertInLoopThread("TCPConnection.connectEstablished")
	c.setState(connConnected)
	c.channel.Tie(func() bool { return atomic.LoadInt32(&c.destroyed) == 0 })
	c.channel.EnableReading()
	c.connectionCallback(c)
}

// connectDestroyed is the mirror teardown call a TCPServer/TCPClient
// makes once the connection is unlinked from its map.
func (c *TCPConnection) connectDestroyed() {
	c.loop.assertInLoopThread("TCPConnection.connectDestroyed")
	if c.state_() == connConnected {
		c.setState(connDisconnected)
		c.channel.DisableAll()
		c.connectionCallback(c)
	}
	atomic.StoreInt32(&c.destroyed, 1)
	c.channel.remove()
}

func (c *TCPConnection) handleRead(receiveTime time.Time) {
	c.loop.assertInLoopThread("TCPConnection.handleRead")
	n, err := c.inputBuffer.ReadFD(c.fd)
	switch {
	case n > 0:
		c.messageCallback(c, c.inputBuffer, receiveTime)
	case err == nil:
		c.handleClose()
	case err == unix.EAGAIN:
		// spurious readable wakeup, nothing came in
	default:
		c.loop.log.Errorf("reactor: %v", wrapErrno("read", err))
		c.handleError()
	}
}

func (c *TCPConnection) handleWrite() {
	c.loop.assertInLoopThread("TCPConnection.handleWrite")
	if !c.channel.IsWriting() {
		c.loop.log.Debugf("reactor: %s is down, no more writing", c.name)
		return
	}
	n, err := unix.Write(c.fd, c.outputBuffer.Peek())
	if err != nil {
		c.loop.log.Errorf("reactor: %v", wrapErrno("write", err))
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		if c.state_() == connDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TCPConnection) handleClose() {
	c.loop.assertInLoopThread("TCPConnection.handleClose")
	prev := c.state_()
	if prev != connConnected && prev != connDisconnecting {
		return
	}
	c.setState(connDisconnected)
	c.channel.DisableAll()

	c.connectionCallback(c)
	c.closeCallback(c)
}

func (c *TCPConnection) handleError() {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		errno = int(unix.EINVAL)
	}
	c.loop.log.Errorf("reactor: %s handleError: SO_ERROR=%d (%s)", c.name, errno, unix.Errno(errno))
}
