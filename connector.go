// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2010, Shuo Chen. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sys/unix"
)

type connectorState int32

const (
	connectorDisconnected connectorState = iota
	connectorConnecting
	connectorConnected
)

// Connector drives one outbound TCP dial with muduo's retry policy:
// nonblocking connect, classify the resulting errno into
// connect-in-progress / retry-worthy / fatal, and on a retryable
// failure schedule another attempt with exponentially backed-off
// delay capped at DefaultMaxRetryDelay.
type Connector struct {
	loop    *EventLoop
	address string

	channel *Channel
	state   connectorState

	connect   int32 // atomic bool: should we keep trying
	retryMs   time.Duration
	resolving int32

	newConnCallback func(fd int, peer *net.TCPAddr)
	errorCallback   func(err error)

	resolvePool *ants.Pool
}

// NewConnector prepares a connector for address, which is resolved
// lazily on Start: on resolvePool when one is given, so a slow DNS
// lookup does not block the owning loop, otherwise inline on the loop.
func NewConnector(loop *EventLoop, address string, resolvePool *ants.Pool) *Connector {
	return &Connector{
		loop:        loop,
		address:     address,
		state:       connectorDisconnected,
		retryMs:     DefaultInitRetryDelay,
		resolvePool: resolvePool,
	}
}

func (c *Connector) SetNewConnCallback(cb func(fd int, peer *net.TCPAddr)) {
	c.newConnCallback = cb
}

func (c *Connector) SetErrorCallback(cb func(err error)) { c.errorCallback = cb }

// IsResolving reports whether a DNS lookup is currently in flight on
// the shared resolvePool.
func (c *Connector) IsResolving() bool { return atomic.LoadInt32(&c.resolving) == 1 }

// Start begins connecting. Safe to call from any goroutine.
func (c *Connector) Start() {
	atomic.StoreInt32(&c.connect, 1)
	c.loop.RunInLoop(c.startInLoop)
}

func (c *Connector) startInLoop() {
	c.loop.assertInLoopThread("Connector.startInLoop")
	if atomic.LoadInt32(&c.connect) == 1 {
		c.resolveAndConnect()
	}
}

// resolveAndConnect offloads net.ResolveTCPAddr to the shared ants
// pool (address resolution can block on a live DNS round trip) and
// re-enters the loop with the result, keeping the reactor goroutine
// itself never blocked on the network.
func (c *Connector) resolveAndConnect() {
	if c.resolvePool == nil {
		sa, family, tcpAddr, err := resolveSockaddr(c.address)
		c.onResolved(sa, family, tcpAddr, err)
		return
	}
	atomic.StoreInt32(&c.resolving, 1)
	err := c.resolvePool.Submit(func() {
		sa, family, tcpAddr, rerr := resolveSockaddr(c.address)
		c.loop.QueueInLoop(func() {
			atomic.StoreInt32(&c.resolving, 0)
			c.onResolved(sa, family, tcpAddr, rerr)
		})
	})
	if err != nil {
		atomic.StoreInt32(&c.resolving, 0)
		sa, family, tcpAddr, rerr := resolveSockaddr(c.address)
		c.onResolved(sa, family, tcpAddr, rerr)
	}
}

func (c *Connector) onResolved(sa unix.Sockaddr, family int, tcpAddr *net.TCPAddr, err error) {
	if err != nil {
		if c.errorCallback != nil {
			c.errorCallback(err)
		}
		return
	}
	if atomic.LoadInt32(&c.connect) != 1 {
		return
	}
	c.connectTo(sa, family, tcpAddr)
}

func (c *Connector) connectTo(sa unix.Sockaddr, family int, tcpAddr *net.TCPAddr) {
	fd, err := newConnectSocket(family)
	if err != nil {
		if c.errorCallback != nil {
			c.errorCallback(err)
		}
		return
	}

	var errno unix.Errno
	if cerr := unix.Connect(fd, sa); cerr != nil {
		if e, ok := cerr.(unix.Errno); ok {
			errno = e
		} else {
			errno = unix.EINVAL
		}
	}

	switch errno {
	case 0, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		c.connecting(fd, tcpAddr)
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		c.retry(fd)
	case unix.EACCES, unix.EPERM, unix.EAFNOSUPPORT, unix.EALREADY, unix.EBADF, unix.EFAULT, unix.ENOTSOCK:
		c.loop.log.Errorf("reactor: connect: %v", wrapErrno("connect", errno))
		unix.Close(fd)
	default:
		c.loop.log.Errorf("reactor: connect (unexpected): %v", wrapErrno("connect", errno))
		unix.Close(fd)
	}
}

func (c *Connector) connecting(fd int, tcpAddr *net.TCPAddr) {
	c.state = connectorConnecting
	ch := NewChannel(c.loop, fd)
	ch.SetWriteHandler(func() { c.handleWrite(tcpAddr) })
	ch.SetErrorHandler(c.handleError)
	c.channel = ch
	ch.EnableWriting()
}

func (c *Connector) removeAndResetChannel() int {
	fd := c.channel.Fd()
	c.channel.DisableAll()
	c.channel.remove()
	c.loop.QueueInLoop(func() { c.channel = nil })
	return fd
}

func (c *Connector) handleWrite(tcpAddr *net.TCPAddr) {
	if c.state != connectorConnecting {
		return
	}
	fd := c.removeAndResetChannel()
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		c.retry(fd)
		return
	}
	if isSelfConnect(fd) {
		c.retry(fd)
		return
	}

	c.state = connectorConnected
	if atomic.LoadInt32(&c.connect) == 1 && c.newConnCallback != nil {
		c.newConnCallback(fd, tcpAddr)
	} else {
		unix.Close(fd)
	}
}

func (c *Connector) handleError() {
	if c.state != connectorConnecting {
		return
	}
	fd := c.removeAndResetChannel()
	c.retry(fd)
}

func (c *Connector) retry(fd int) {
	unix.Close(fd)
	c.state = connectorDisconnected
	if atomic.LoadInt32(&c.connect) != 1 {
		return
	}
	delay := c.retryMs
	c.loop.log.Infof("reactor: retrying connect to %s in %s", c.address, delay)
	c.loop.RunAfter(delay, c.startInLoop)
	c.retryMs *= 2
	if c.retryMs > DefaultMaxRetryDelay {
		c.retryMs = DefaultMaxRetryDelay
	}
}

// Restart resets backoff state and starts over; used by TCPClient's
// retry-on-disconnect policy.
func (c *Connector) Restart() {
	c.loop.assertInLoopThread("Connector.Restart")
	c.state = connectorDisconnected
	c.retryMs = DefaultInitRetryDelay
	atomic.StoreInt32(&c.connect, 1)
	c.startInLoop()
}

// Stop cancels any pending retry and, if mid-connect, tears down the
// half-open socket.
func (c *Connector) Stop() {
	atomic.StoreInt32(&c.connect, 0)
	c.loop.QueueInLoop(c.stopInLoop)
}

func (c *Connector) stopInLoop() {
	c.loop.assertInLoopThread("Connector.stopInLoop")
	if c.state == connectorConnecting {
		c.state = connectorDisconnected
		fd := c.removeAndResetChannel()
		unix.Close(fd)
	}
}

func isSelfConnect(fd int) bool {
	local, err := unix.Getsockname(fd)
	if err != nil {
		return false
	}
	peer, err := unix.Getpeername(fd)
	if err != nil {
		return false
	}
	switch l := local.(type) {
	case *unix.SockaddrInet4:
		if p, ok := peer.(*unix.SockaddrInet4); ok {
			return l.Port == p.Port && l.Addr == p.Addr
		}
	case *unix.SockaddrInet6:
		if p, ok := peer.(*unix.SockaddrInet6); ok {
			return l.Port == p.Port && l.Addr == p.Addr
		}
	}
	return false
}
