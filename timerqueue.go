// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// timerQueue is the ordered set of timers driven by a single kernel
// timer fd, armed to the earliest pending expiration. All mutation
// happens on the owning loop's goroutine; addTimer/cancel marshal onto
// it from any caller.
type timerQueue struct {
	loop    *EventLoop
	tfd     timerFD
	channel *Channel

	heap   timerHeap
	active map[int64]*timerEntry

	callingExpired bool
	cancelledInCB  map[int64]bool

	nextSeq int64
}

func newTimerQueue(loop *EventLoop) (*timerQueue, error) {
	tfd, err := newTimerFD()
	if err != nil {
		return nil, err
	}
	tq := &timerQueue{
		loop:   loop,
		tfd:    tfd,
		active: make(map[int64]*timerEntry),
	}
	tq.channel = NewChannel(loop, tfd.readFD())
	tq.channel.SetReadHandler(tq.handleRead)
	tq.channel.EnableReading()
	return tq, nil
}

// addTimer constructs a timer with a new sequence number and marshals
// its insertion onto the loop, returning the opaque id immediately.
func (tq *timerQueue) addTimer(cb func(), when time.Time, interval time.Duration) TimerID {
	seq := atomic.AddInt64(&tq.nextSeq, 1)
	entry := &timerEntry{seq: seq, expiration: when, interval: interval, cb: cb}
	tq.loop.RunInLoop(func() {
		tq.insertInLoop(entry)
	})
	return TimerID{seq: seq}
}

func (tq *timerQueue) insertInLoop(e *timerEntry) {
	earliestChanged := len(tq.heap) == 0 || e.expiration.Before(tq.heap[0].expiration)
	heap.Push(&tq.heap, e)
	tq.active[e.seq] = e
	if earliestChanged {
		tq.rearm()
	}
}

// cancel marshals onto the loop; if the id is still pending it is
// removed outright. If it is not found because the queue is currently
// running expired callbacks, the id is recorded so that if it belongs
// to a periodic timer about to be re-armed, the re-arm is skipped
// instead.
func (tq *timerQueue) cancel(id TimerID) {
	tq.loop.RunInLoop(func() {
		tq.cancelInLoop(id)
	})
}

func (tq *timerQueue) cancelInLoop(id TimerID) {
	if e, ok := tq.active[id.seq]; ok {
		delete(tq.active, id.seq)
		if e.heapIndex >= 0 && e.heapIndex < len(tq.heap) {
			heap.Remove(&tq.heap, e.heapIndex)
		}
		return
	}
	if tq.callingExpired {
		if tq.cancelledInCB == nil {
			tq.cancelledInCB = make(map[int64]bool)
		}
		tq.cancelledInCB[id.seq] = true
	}
}

func (tq *timerQueue) handleRead(now time.Time) {
	if _, err := tq.tfd.drain(); err != nil {
		tq.loop.log.Warnf("reactor: %v", err)
	}

	expired := tq.extractExpired(now)

	tq.callingExpired = true
	tq.cancelledInCB = make(map[int64]bool)
	for _, e := range expired {
		e.cb()
	}
	tq.callingExpired = false

	for _, e := range expired {
		if e.interval > 0 && !tq.cancelledInCB[e.seq] {
			e.expiration = e.expiration.Add(e.interval)
			heap.Push(&tq.heap, e)
			tq.active[e.seq] = e
		}
	}
	tq.cancelledInCB = nil

	if len(tq.heap) > 0 {
		tq.rearm()
	}
}

// extractExpired pops every entry whose expiration is at or before now,
// removing it from the active-lookup map so a cancel() observed during
// the callback loop below correctly falls into the "currently
// iterating expired" branch.
func (tq *timerQueue) extractExpired(now time.Time) []*timerEntry {
	var expired []*timerEntry
	for len(tq.heap) > 0 && !tq.heap[0].expiration.After(now) {
		e := heap.Pop(&tq.heap).(*timerEntry)
		delete(tq.active, e.seq)
		expired = append(expired, e)
	}
	return expired
}

func (tq *timerQueue) rearm() {
	if len(tq.heap) == 0 {
		if err := tq.tfd.disarm(); err != nil {
			tq.loop.log.Warnf("reactor: %v", err)
		}
		return
	}
	d := time.Until(tq.heap[0].expiration)
	if err := tq.tfd.arm(d); err != nil {
		tq.loop.log.Warnf("reactor: %v", err)
	}
}

func (tq *timerQueue) close() {
	tq.channel.DisableAll()
	tq.channel.remove()
	if err := tq.tfd.close(); err != nil {
		tq.loop.log.Warnf("reactor: %v", err)
	}
}
