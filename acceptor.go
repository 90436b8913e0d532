// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

const listenBacklog = 1024

// Acceptor listens for inbound TCP and emits raw accepted sockets. It
// owns the listening socket and closes it on Close.
type Acceptor struct {
	loop    *EventLoop
	fd      int
	channel *Channel
	laddr   *net.TCPAddr

	// idleFD is a spare fd opened on /dev/null purely to be closed and
	// reopened around an EMFILE, so the acceptor can accept-then-close
	// the pending connection instead of spinning a tight busy loop with
	// the listening socket perpetually readable.
	idleFD int

	listening bool
	closed    bool

	newConnCallback func(fd int, peer *net.TCPAddr)
}

// NewAcceptor binds a listening socket for address on loop.
func NewAcceptor(loop *EventLoop, address string, opts ...ListenOption) (*Acceptor, error) {
	o := defaultListenOptions()
	for _, opt := range opts {
		opt(o)
	}
	fd, laddr, err := listenTCP(address, o)
	if err != nil {
		return nil, err
	}

	idleFD, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(fd)
		return nil, wrapErrno("open /dev/null", err)
	}

	a := &Acceptor{loop: loop, fd: fd, laddr: laddr, idleFD: idleFD}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadHandler(a.handleRead)
	return a, nil
}

func (a *Acceptor) Addr() *net.TCPAddr { return a.laddr }

// Listening reports whether Listen has already been called.
func (a *Acceptor) Listening() bool { return a.listening }

func (a *Acceptor) SetNewConnCallback(cb func(fd int, peer *net.TCPAddr)) {
	a.newConnCallback = cb
}

// Listen must run on the owning loop's goroutine.
func (a *Acceptor) Listen() error {
	a.loop.assertInLoopThread("Acceptor.Listen")
	if a.closed {
		return ErrAcceptorClosed
	}
	a.listening = true
	if err := unix.Listen(a.fd, listenBacklog); err != nil {
		return wrapErrno("listen", err)
	}
	a.channel.EnableReading()
	return nil
}

func (a *Acceptor) handleRead(_ time.Time) {
	nfd, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		switch err {
		case unix.EAGAIN:
			return
		case unix.EMFILE, unix.ENFILE:
			a.recoverFromFDExhaustion()
			return
		default:
			a.loop.log.Errorf("reactor: accept: %v", wrapErrno("accept4", err))
			return
		}
	}

	peer := sockaddrToTCPAddr(sa)
	if a.newConnCallback != nil {
		a.newConnCallback(nfd, peer)
	} else {
		unix.Close(nfd)
	}
}

// recoverFromFDExhaustion implements the documented "can't-accept"
// recovery: give up the idle fd, accept and immediately close the
// pending connection to shed it without spinning the listening
// socket's readiness in a tight loop, then reopen the idle fd.
func (a *Acceptor) recoverFromFDExhaustion() {
	unix.Close(a.idleFD)
	nfd, _, _ := unix.Accept(a.fd)
	if nfd >= 0 {
		unix.Close(nfd)
	}
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		a.loop.log.Errorf("reactor: %v", wrapErrno("reopen /dev/null", err))
		return
	}
	a.idleFD = fd
}

// Close disables and removes the acceptor's channel, then closes the
// listening socket and the idle fd. It is idempotent: a second call
// returns ErrAcceptorClosed instead of touching an already-closed fd.
func (a *Acceptor) Close() error {
	if a.closed {
		return ErrAcceptorClosed
	}
	a.closed = true
	a.channel.DisableAll()
	a.channel.remove()
	unix.Close(a.idleFD)
	return unix.Close(a.fd)
}
