// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningLoop(t *testing.T) (*EventLoop, func()) {
	t.Helper()

	type result struct {
		loop *EventLoop
		err  error
	}
	resultCh := make(chan result, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop, err := NewEventLoop(WithPollTimeout(50 * time.Millisecond))
		resultCh <- result{loop, err}
		if err != nil {
			return
		}
		_ = loop.Run()
	}()
	res := <-resultCh
	require.NoError(t, res.err)
	loop := res.loop

	// Give Run a moment to flip the looping flag before returning.
	for !loop.IsRunning() {
		time.Sleep(time.Millisecond)
	}

	return loop, func() {
		loop.Quit()
		<-done
		_ = loop.Close()
	}
}

func TestEventLoopRunAfterFires(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	fired := make(chan struct{})
	loop.RunAfter(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestEventLoopRunEveryRepeats(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var count int32
	id := loop.RunEvery(5*time.Millisecond, func() { atomic.AddInt32(&count, 1) })

	time.Sleep(60 * time.Millisecond)
	loop.CancelTimer(id)
	after := atomic.LoadInt32(&count)
	assert.GreaterOrEqual(t, after, int32(3))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&count))
}

func TestEventLoopCancelBeforeFire(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	fired := int32(0)
	id := loop.RunAfter(50*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	loop.CancelTimer(id)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestEventLoopQueueInLoopFromOtherGoroutine(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	result := make(chan int, 1)
	loop.QueueInLoop(func() { result <- 7 })

	select {
	case v := <-result:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("queued task never ran")
	}
}

func TestEventLoopAssertInLoopThreadPanicsWhileRunning(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	panicked := make(chan bool, 1)
	loop.QueueInLoop(func() {
		// This runs on the loop's own goroutine, so it must not panic.
		defer func() { panicked <- recover() != nil }()
		loop.assertInLoopThread("test")
	})
	assert.False(t, <-panicked)

	// Calling directly from the test goroutine while the loop is
	// running must panic.
	assert.Panics(t, func() { loop.assertInLoopThread("test") })
}
