// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2010, Shuo Chen. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// TCPClient drives a single outbound connection through a Connector,
// optionally reconnecting whenever the peer goes down.
type TCPClient struct {
	loop      *EventLoop
	connector *Connector
	name      string

	mu         sync.Mutex
	connection *TCPConnection

	retry   bool
	connect bool

	nextConnID uint64

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	teardownPool *ants.Pool
}

// NewTCPClient prepares a client dialing address. teardownPool, if
// non-nil, offloads the delayed connector cleanup this type schedules
// on Close when no connection is live (mirrors muduo's TcpClient
// destructor "run after 1s" hack, done here via a pooled goroutine, or
// via RunAfter when teardownPool is nil). The connector also resolves
// the address on teardownPool.
func NewTCPClient(loop *EventLoop, address, name string, teardownPool *ants.Pool) *TCPClient {
	c := &TCPClient{
		loop:                  loop,
		name:                  name,
		connect:               true,
		nextConnID:            1,
		connectionCallback:    DefaultConnectionCallback(loop.log),
		messageCallback:       DefaultMessageCallback,
		writeCompleteCallback: func(*TCPConnection) {},
		teardownPool:          teardownPool,
	}
	c.connector = NewConnector(loop, address, teardownPool)
	c.connector.SetNewConnCallback(c.newConnection)
	c.connector.SetErrorCallback(func(err error) {
		loop.log.Warnf("reactor: %s connect error: %v", name, err)
	})
	return c
}

func (c *TCPClient) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *TCPClient) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *TCPClient) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }

// EnableRetry makes the client keep reconnecting whenever the current
// connection drops, as long as Connect (not Stop) established it.
func (c *TCPClient) EnableRetry() { c.retry = true }

// Connection returns the current connection, or nil if none is
// established.
func (c *TCPClient) Connection() *TCPConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

// Connect starts the underlying connector.
func (c *TCPClient) Connect() {
	c.connect = true
	c.connector.Start()
}

// Disconnect half-closes the current connection, if any, and clears
// the connect flag, so the client does not reconnect when that
// connection goes down. The connector itself is not stopped.
func (c *TCPClient) Disconnect() {
	c.connect = false
	c.mu.Lock()
	conn := c.connection
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

// Stop cancels any in-flight or pending connect attempt.
func (c *TCPClient) Stop() {
	c.connect = false
	c.connector.Stop()
}

// Close is the Go stand-in for TcpClient's destructor: force-close
// whatever connection is live, or if none is live, stop
// the connector and let its teardown finish a beat later rather than
// racing an in-flight connect attempt's callback.
func (c *TCPClient) Close() {
	c.mu.Lock()
	conn := c.connection
	c.mu.Unlock()

	if conn != nil {
		conn.SetCloseCallback(func(cc *TCPConnection) {
			cc.Loop().QueueInLoop(cc.connectDestroyed)
		})
		conn.ForceClose()
		return
	}
	c.connector.Stop()
	c.scheduleDelayedTeardown(func() {})
}

func (c *TCPClient) newConnection(fd int, peer *net.TCPAddr) {
	c.loop.assertInLoopThread("TCPClient.newConnection")

	connName := fmt.Sprintf("%s:%s#%d", c.name, peer, c.nextConnID)
	c.nextConnID++

	local := localTCPAddr(fd)
	conn := NewTCPConnection(c.loop, connName, fd, local, peer)
	conn.SetConnectionCallback(c.connectionCallback)
	conn.SetMessageCallback(c.messageCallback)
	conn.SetWriteCompleteCallback(c.writeCompleteCallback)
	conn.SetCloseCallback(c.removeConnection)

	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()

	conn.connectEstablished()
}

func (c *TCPClient) removeConnection(conn *TCPConnection) {
	c.loop.assertInLoopThread("TCPClient.removeConnection")

	c.mu.Lock()
	c.connection = nil
	c.mu.Unlock()

	conn.Loop().QueueInLoop(conn.connectDestroyed)
	if c.retry && c.connect {
		c.loop.log.Infof("reactor: %s reconnecting", c.name)
		c.connector.Restart()
	}
}

// scheduleDelayedTeardown offloads a fire-once cleanup a full second
// after being called, the way muduo's TcpClient destructor
// runs the connector's own removal a beat later to avoid tearing it
// down mid-callback. Submitted to teardownPool when set so the sleep
// never ties up a loop goroutine.
func (c *TCPClient) scheduleDelayedTeardown(fn func()) {
	if c.teardownPool == nil {
		c.loop.RunAfter(time.Second, fn)
		return
	}
	_ = c.teardownPool.Submit(func() {
		time.Sleep(time.Second)
		c.loop.RunInLoop(fn)
	})
}
