// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import (
	"net"
	"time"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/sys/unix"
)

// resolveSockaddr turns an "ip:port" (or "host:port") address into a
// unix.Sockaddr plus the socket family to create, resolving hostnames
// through net.ResolveTCPAddr the way a caller would expect from a
// string address.
func resolveSockaddr(address string) (unix.Sockaddr, int, *net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, 0, nil, err
	}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, tcpAddr, nil
	}
	ip16 := tcpAddr.IP.To16()
	if ip16 == nil {
		ip16 = net.IPv6zero
	}
	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], ip16)
	return sa, unix.AF_INET6, tcpAddr, nil
}

// sockaddrToTCPAddr converts an accepted/connected peer's raw sockaddr
// into a *net.TCPAddr, the presentation form (§6) every peer/local
// address is surfaced as.
func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	}
	return nil
}

// listenOptions configures the listening socket a TCPServer or bare
// acceptor binds.
type listenOptions struct {
	reusePort bool
	keepAlive time.Duration
	noDelay   bool
}

func defaultListenOptions() *listenOptions {
	return &listenOptions{keepAlive: 15 * time.Second}
}

// ListenOption configures socket-level behavior of a listening socket.
type ListenOption func(*listenOptions)

// WithReusePort opts into SO_REUSEPORT, implemented via
// github.com/libp2p/go-reuseport so multiple processes/loops can share
// one listening port with kernel-level load balancing.
func WithReusePort() ListenOption {
	return func(o *listenOptions) { o.reusePort = true }
}

// WithTCPNoDelay records a TCP_NODELAY preference in the listen
// options. Neither listenTCP nor the Acceptor reads it, so accepted
// sockets keep Nagle enabled; TCPConnection.SetTCPNoDelay toggles it
// per connection.
func WithTCPNoDelay() ListenOption {
	return func(o *listenOptions) { o.noDelay = true }
}

// WithKeepAlive records a keepalive idle time in the listen options
// (default 15s). Neither listenTCP nor the Acceptor reads it:
// NewTCPConnection always enables keepalive with a 15s idle time.
func WithKeepAlive(d time.Duration) ListenOption {
	return func(o *listenOptions) { o.keepAlive = d }
}

// listenTCP creates the acceptor's listening socket. Sockets are
// always created nonblocking with close-on-exec; SO_REUSEADDR is
// always set on the listening socket, SO_REUSEPORT only when
// WithReusePort is given.
func listenTCP(address string, opts *listenOptions) (fd int, laddr *net.TCPAddr, err error) {
	if opts.reusePort {
		return listenTCPReusePort(address)
	}

	sa, family, tcpAddr, err := resolveSockaddr(address)
	if err != nil {
		return -1, nil, err
	}
	fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, wrapErrno("socket", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nil, wrapErrno("setsockopt(SO_REUSEADDR)", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, wrapErrno("bind", err)
	}
	// A requested port of 0 asks the kernel to assign an ephemeral one;
	// getsockname reports what actually got bound.
	if bound, gerr := unix.Getsockname(fd); gerr == nil {
		if a := sockaddrToTCPAddr(bound); a != nil {
			tcpAddr = a
		}
	}
	return fd, tcpAddr, nil
}

// listenTCPReusePort delegates socket creation to go-reuseport (which
// itself sets SO_REUSEPORT before bind) and then detaches the returned
// net.Listener from Go's runtime poller, matching the teacher's own
// listener.system() dance of pulling the raw fd out of a std net
// listener and flipping it nonblocking under our own control.
func listenTCPReusePort(address string) (fd int, laddr *net.TCPAddr, err error) {
	ln, err := reuseport.Listen("tcp", address)
	if err != nil {
		return -1, nil, err
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return -1, nil, errUnsupportedListener
	}
	f, err := tl.File()
	if err != nil {
		ln.Close()
		return -1, nil, err
	}
	// tl.File() hands back a dup of the listener's fd owned by f; f and
	// ln both close their own fd once we've taken a second dup that the
	// acceptor can own for the rest of its lifetime.
	fd, err = unix.Dup(int(f.Fd()))
	f.Close()
	ln.Close()
	if err != nil {
		return -1, nil, wrapErrno("dup", err)
	}
	// dup does not carry close-on-exec over to the new descriptor.
	if _, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return -1, nil, wrapErrno("fcntl(FD_CLOEXEC)", err)
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, wrapErrno("setnonblock", err)
	}
	laddr, _ = tl.Addr().(*net.TCPAddr)
	return fd, laddr, nil
}

func setKeepAlive(fd int, idle time.Duration) error {
	if idle <= 0 {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 0)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	return setKeepAliveIdle(fd, int(idle/time.Second))
}

func setNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// newConnectSocket creates a nonblocking, close-on-exec socket matching
// the family of the destination address, for the connector's outbound
// dial.
func newConnectSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, wrapErrno("socket", err)
	}
	return fd, nil
}
