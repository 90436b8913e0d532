// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopThreadPoolRoundRobin(t *testing.T) {
	base, err := NewEventLoop()
	require.NoError(t, err)
	defer base.Close()

	pool := NewLoopThreadPool(base)
	pool.SetThreadNum(3)

	var initCount int
	pool.Start(func(*EventLoop) { initCount++ })
	defer pool.Stop()

	assert.Equal(t, 3, initCount)
	assert.Len(t, pool.AllLoops(), 3)

	first := pool.NextLoop()
	second := pool.NextLoop()
	third := pool.NextLoop()
	fourth := pool.NextLoop()
	assert.NotSame(t, first, second)
	assert.NotSame(t, second, third)
	assert.Same(t, first, fourth)
}

func TestLoopThreadPoolHashAffinity(t *testing.T) {
	base, err := NewEventLoop()
	require.NoError(t, err)
	defer base.Close()

	pool := NewLoopThreadPool(base)
	pool.SetThreadNum(4)
	pool.Start(nil)
	defer pool.Stop()

	a := pool.LoopForHash(42)
	b := pool.LoopForHash(42)
	c := pool.LoopForHash(42 + 4) // same bucket, four loops
	assert.Same(t, a, b)
	assert.Same(t, a, c)
}

func TestLoopThreadPoolZeroThreadsUsesBaseLoop(t *testing.T) {
	base, err := NewEventLoop()
	require.NoError(t, err)
	defer base.Close()

	pool := NewLoopThreadPool(base)
	var cbLoop *EventLoop
	pool.Start(func(l *EventLoop) { cbLoop = l })

	assert.Same(t, base, cbLoop)
	assert.Same(t, base, pool.NextLoop())
	assert.Equal(t, []*EventLoop{base}, pool.AllLoops())
}

func TestLoopThreadStartBlocksUntilReady(t *testing.T) {
	done := make(chan struct{})
	th := newLoopThread(func(l *EventLoop) {
		time.Sleep(20 * time.Millisecond)
		close(done)
	})
	loop := th.start()
	require.NotNil(t, loop)
	select {
	case <-done:
	default:
		t.Fatal("start returned before the init callback finished")
	}
	th.stop()
}
