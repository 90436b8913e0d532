// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTCPServerEchoesToClient exercises the full accept -> connection
// -> send -> message callback path against a TCPServer with no worker
// loops (connections run on the base loop), using a plain net.Dial
// peer as the driver.
func TestTCPServerEchoesToClient(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	srv, err := NewTCPServer(loop, "127.0.0.1:0", "echo-test")
	require.NoError(t, err)
	srv.SetMessageCallback(func(c *TCPConnection, buf *Buffer, _ time.Time) {
		c.Send(buf.RetrieveAllAsBytes())
	})
	srv.Start()
	defer srv.Stop()

	// Give the acceptor's Listen (marshaled onto the loop) a moment to
	// take effect before dialing.
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestTCPServerConnectionCallbackSeesUpAndDown(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	srv, err := NewTCPServer(loop, "127.0.0.1:0", "lifecycle-test")
	require.NoError(t, err)

	events := make(chan bool, 2)
	srv.SetConnectionCallback(func(c *TCPConnection) { events <- c.Connected() })
	srv.Start()
	defer srv.Stop()

	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	select {
	case up := <-events:
		assert.True(t, up)
	case <-time.After(time.Second):
		t.Fatal("never saw connection-up")
	}

	require.NoError(t, conn.Close())

	select {
	case up := <-events:
		assert.False(t, up)
	case <-time.After(time.Second):
		t.Fatal("never saw connection-down")
	}
}

func TestTCPClientConnectsAndExchanges(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	srv, err := NewTCPServer(loop, "127.0.0.1:0", "client-test")
	require.NoError(t, err)
	srv.SetMessageCallback(func(c *TCPConnection, buf *Buffer, _ time.Time) {
		c.Send(buf.RetrieveAllAsBytes())
	})
	srv.Start()
	defer srv.Stop()
	time.Sleep(20 * time.Millisecond)

	client := NewTCPClient(loop, srv.Addr().String(), "client-test", nil)
	received := make(chan string, 1)
	client.SetMessageCallback(func(c *TCPConnection, buf *Buffer, _ time.Time) {
		received <- string(buf.RetrieveAllAsBytes())
	})
	client.Connect()

	require.Eventually(t, func() bool { return client.Connection() != nil }, time.Second, 5*time.Millisecond)
	client.Connection().SendString("hello")

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("client never received echo")
	}

	client.Close()
}
