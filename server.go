// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2010, Shuo Chen. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// TCPServer accepts inbound connections on one listening socket and
// spreads them across a LoopThreadPool. Start may be called from any
// goroutine and is idempotent under concurrent calls; the Set*
// configuration methods are not synchronized and belong before Start.
type TCPServer struct {
	loop     *EventLoop
	acceptor *Acceptor
	pool     *LoopThreadPool

	name   string
	ipPort string

	started int32 // atomic set-once guard

	nextConnID uint64

	connections map[string]*TCPConnection

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	threadInitCallback LoopThreadInitCallback
}

// NewTCPServer binds address immediately, on the calling goroutine,
// for an acceptor owned by loop, and returns a server
// ready to have its thread count configured before Start.
func NewTCPServer(loop *EventLoop, address, name string, opts ...ListenOption) (*TCPServer, error) {
	acc, err := NewAcceptor(loop, address, opts...)
	if err != nil {
		return nil, err
	}
	s := &TCPServer{
		loop:                  loop,
		acceptor:              acc,
		pool:                  NewLoopThreadPool(loop),
		name:                  name,
		ipPort:                address,
		nextConnID:            1,
		connections:           make(map[string]*TCPConnection),
		connectionCallback:    DefaultConnectionCallback(loop.log),
		messageCallback:       DefaultMessageCallback,
		writeCompleteCallback: func(*TCPConnection) {},
	}
	acc.SetNewConnCallback(s.newConnection)
	return s, nil
}

func (s *TCPServer) Addr() *net.TCPAddr { return s.acceptor.Addr() }

// SetThreadNum configures the worker pool; must be called before
// Start.
func (s *TCPServer) SetThreadNum(n int) { s.pool.SetThreadNum(n) }

func (s *TCPServer) SetThreadInitCallback(cb LoopThreadInitCallback) { s.threadInitCallback = cb }
func (s *TCPServer) SetConnectionCallback(cb ConnectionCallback)     { s.connectionCallback = cb }
func (s *TCPServer) SetMessageCallback(cb MessageCallback)           { s.messageCallback = cb }
func (s *TCPServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// Start spins up the worker pool and begins listening. Safe to call
// from any goroutine, and idempotent: only the first call has effect.
func (s *TCPServer) Start() {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return
	}
	s.loop.RunInLoop(func() {
		s.pool.Start(s.threadInitCallback)
		if err := s.acceptor.Listen(); err != nil {
			s.loop.log.Errorf("reactor: %s failed to listen: %v", s.name, err)
		}
	})
}

// Stop quits every worker loop and closes the listening socket. Must
// run after Start.
func (s *TCPServer) Stop() {
	s.loop.RunInLoop(func() { _ = s.acceptor.Close() })
	s.pool.Stop()
}

func (s *TCPServer) newConnection(fd int, peer *net.TCPAddr) {
	s.loop.assertInLoopThread("TCPServer.newConnection")
	ioLoop := s.pool.NextLoop()

	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	s.nextConnID++

	local := localTCPAddr(fd)
	s.loop.log.Infof("reactor: %s new connection [%s] from %s", s.name, connName, peer)

	conn := NewTCPConnection(ioLoop, connName, fd, local, peer)
	s.connections[connName] = conn
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetCloseCallback(s.removeConnection)

	ioLoop.RunInLoop(conn.connectEstablished)
}

func (s *TCPServer) removeConnection(conn *TCPConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TCPServer) removeConnectionInLoop(conn *TCPConnection) {
	s.loop.assertInLoopThread("TCPServer.removeConnectionInLoop")
	s.loop.log.Infof("reactor: %s removing connection [%s]", s.name, conn.Name())
	delete(s.connections, conn.Name())
	conn.Loop().QueueInLoop(conn.connectDestroyed)
}

func localTCPAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return sockaddrToTCPAddr(sa)
}
