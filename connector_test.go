// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedPortAddr binds an ephemeral port and immediately releases it,
// so a subsequent connect attempt reliably hits ECONNREFUSED without
// racing another test for a fixed port number.
func closedPortAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestConnectorRetriesAgainstClosedPort(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var errCount int32
	c := NewConnector(loop, closedPortAddr(t), nil)
	c.SetErrorCallback(func(error) { atomic.AddInt32(&errCount, 1) })
	c.SetNewConnCallback(func(int, *net.TCPAddr) {
		t.Fatal("connection should never succeed against a closed port")
	})

	c.Start()
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	// ECONNREFUSED classifies as retryable in connectTo, not fatal, so
	// no errorCallback should have fired; the retry itself is only
	// observable through the loop's own retry-scheduling log line.
	assert.Equal(t, int32(0), atomic.LoadInt32(&errCount))
}

func TestConnectorSucceedsAgainstListener(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	connected := make(chan int, 1)
	c := NewConnector(loop, ln.Addr().String(), nil)
	c.SetNewConnCallback(func(fd int, peer *net.TCPAddr) { connected <- fd })
	c.Start()

	select {
	case fd := <-connected:
		assert.Greater(t, fd, 0)
	case <-time.After(time.Second):
		t.Fatal("connector never connected")
	}
}
