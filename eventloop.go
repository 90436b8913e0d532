// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimerID opaquely identifies a scheduled timer for cancellation. It
// carries no meaning beyond equality/lookup.
type TimerID struct {
	seq int64
}

// EventLoop is a single-threaded reactor: it polls a demultiplexer,
// dispatches ready channels, drains deferred tasks and drives a timer
// queue. Every EventLoop is owned by exactly one goroutine, fixed at
// construction time; every public mutator either runs on that
// goroutine or marshals onto it via RunInLoop/QueueInLoop.
type EventLoop struct {
	idx int // always -1; LoopThreadPool does not assign loop indices

	ownerGoroutine uint64
	looping        int32
	quitting       int32
	closed         int32
	callingPending int32
	iteration      uint64

	pollTimeout    time.Duration
	pollReturnTime time.Time

	poller     demultiplexer
	timerQueue *timerQueue

	wakeupFD      wakeupFD
	wakeupChannel *Channel

	activeChannels       []*Channel
	currentActiveChannel *Channel

	mu           sync.Mutex
	pendingTasks []func()

	log Logger
}

// NewEventLoop constructs a loop bound to the calling goroutine. The
// same goroutine must later call Run.
func NewEventLoop(opts ...Option) (*EventLoop, error) {
	o := defaultLoopOptions()
	for _, opt := range opts {
		opt(o)
	}

	poller, err := newDemultiplexer()
	if err != nil {
		return nil, err
	}
	wfd, err := newWakeupFD()
	if err != nil {
		_ = poller.close()
		return nil, err
	}

	l := &EventLoop{
		idx:            -1,
		ownerGoroutine: goroutineID(),
		pollTimeout:    o.pollTimeout,
		poller:         poller,
		wakeupFD:       wfd,
		log:            o.logger,
	}
	l.wakeupChannel = NewChannel(l, wfd.readFD())
	l.wakeupChannel.SetReadHandler(l.handleWakeupRead)
	l.wakeupChannel.EnableReading()

	tq, err := newTimerQueue(l)
	if err != nil {
		_ = wfd.close()
		_ = poller.close()
		return nil, err
	}
	l.timerQueue = tq

	return l, nil
}

func (l *EventLoop) logger() Logger { return l.log }

func (l *EventLoop) isInLoopThread() bool { return goroutineID() == l.ownerGoroutine }

// assertInLoopThread enforces the "owning goroutine only" invariant
// while the loop is actively running. Construction (wiring up the
// wakeup/timer channels before Run starts) and teardown (Close, called
// after Run has returned, often by whichever goroutine joined the
// worker) legitimately happen off the original goroutine; there is no
// concurrent Run in either window, so the invariant that matters —
// no two goroutines mutate loop state while it is polling — still
// holds.
func (l *EventLoop) assertInLoopThread(op string) {
	if l.IsRunning() && !l.isInLoopThread() {
		panic("reactor: " + op + " called from outside the owning loop's goroutine")
	}
}

// Run is the reactor's main loop. It blocks until Quit is called and
// the current poll returns; it must run on the goroutine that
// constructed the loop.
func (l *EventLoop) Run() error {
	l.assertInLoopThread("EventLoop.Run")
	atomic.StoreInt32(&l.looping, 1)
	atomic.StoreInt32(&l.quitting, 0)
	defer atomic.StoreInt32(&l.looping, 0)

	for atomic.LoadInt32(&l.quitting) == 0 {
		l.activeChannels = l.activeChannels[:0]
		now, err := l.poller.poll(l.pollTimeout, &l.activeChannels)
		if err != nil {
			l.log.Errorf("reactor: poll error: %v", err)
			continue
		}
		l.pollReturnTime = now
		atomic.AddUint64(&l.iteration, 1)

		for _, ch := range l.activeChannels {
			l.currentActiveChannel = ch
			ch.handleEvent(l.pollReturnTime)
		}
		l.currentActiveChannel = nil

		l.doPendingTasks()
	}
	return ErrServerShutdown
}

// Quit is advisory: it sets the quit flag and, if called off the
// owning goroutine, wakes the loop so the current poll returns.
func (l *EventLoop) Quit() {
	atomic.StoreInt32(&l.quitting, 1)
	if !l.isInLoopThread() {
		l.wakeup()
	}
}

func (l *EventLoop) IsRunning() bool { return atomic.LoadInt32(&l.looping) == 1 }

// RunInLoop runs task immediately if called on the owning goroutine,
// otherwise it is queued and the loop is woken. It returns
// ErrLoopClosed once Close has run.
func (l *EventLoop) RunInLoop(task func()) error {
	if l.isInLoopThread() {
		if atomic.LoadInt32(&l.closed) == 1 {
			return ErrLoopClosed
		}
		task()
		return nil
	}
	return l.QueueInLoop(task)
}

// QueueInLoop always defers task to the next drain. It wakes the loop
// when the caller isn't the owning goroutine, or when the loop is
// currently mid-drain and might otherwise miss this task until an
// unrelated future wakeup. It returns ErrLoopClosed once Close has run.
func (l *EventLoop) QueueInLoop(task func()) error {
	if atomic.LoadInt32(&l.closed) == 1 {
		return ErrLoopClosed
	}
	l.mu.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	l.mu.Unlock()

	if !l.isInLoopThread() || atomic.LoadInt32(&l.callingPending) == 1 {
		l.wakeup()
	}
	return nil
}

func (l *EventLoop) doPendingTasks() {
	l.mu.Lock()
	tasks := l.pendingTasks
	l.pendingTasks = nil
	l.mu.Unlock()

	atomic.StoreInt32(&l.callingPending, 1)
	for _, t := range tasks {
		t()
	}
	atomic.StoreInt32(&l.callingPending, 0)
}

func (l *EventLoop) wakeup() {
	if err := l.wakeupFD.wake(); err != nil {
		l.log.Warnf("reactor: %v", err)
	}
}

func (l *EventLoop) handleWakeupRead(_ time.Time) {
	if n, err := l.wakeupFD.drain(); err != nil {
		l.log.Warnf("reactor: %v", err)
	} else if n != 0 && n != 8 {
		l.log.Warnf("reactor: %v", errWakeupSizeMismatch)
	}
}

// updateChannel, removeChannel and HasChannel must run on the owning
// goroutine; they forward to the demultiplexer.
func (l *EventLoop) updateChannel(c *Channel) {
	l.assertInLoopThread("EventLoop.updateChannel")
	if err := l.poller.updateChannel(c); err != nil {
		l.log.Errorf("reactor: %v", err)
	}
}

func (l *EventLoop) removeChannel(c *Channel) {
	l.assertInLoopThread("EventLoop.removeChannel")
	if err := l.poller.removeChannel(c); err != nil {
		l.log.Errorf("reactor: %v", err)
	}
}

func (l *EventLoop) HasChannel(fd int) bool {
	l.assertInLoopThread("EventLoop.HasChannel")
	return l.poller.hasChannel(fd)
}

// RunAt schedules cb to run at t.
func (l *EventLoop) RunAt(t time.Time, cb func()) TimerID {
	return l.timerQueue.addTimer(cb, t, 0)
}

// RunAfter schedules cb to run once, after d.
func (l *EventLoop) RunAfter(d time.Duration, cb func()) TimerID {
	return l.RunAt(time.Now().Add(d), cb)
}

// RunEvery schedules cb to run repeatedly, every interval, starting
// after the first interval elapses.
func (l *EventLoop) RunEvery(interval time.Duration, cb func()) TimerID {
	return l.timerQueue.addTimer(cb, time.Now().Add(interval), interval)
}

// CancelTimer cancels a previously scheduled timer. It is a no-op if
// the timer already fired (and was one-shot) or was already cancelled.
func (l *EventLoop) CancelTimer(id TimerID) {
	l.timerQueue.cancel(id)
}

// Close releases the loop's demultiplexer, wakeup fd and timer fd. It
// must only be called after Run has returned. Every subsequent
// RunInLoop/QueueInLoop call fails with ErrLoopClosed.
func (l *EventLoop) Close() error {
	atomic.StoreInt32(&l.closed, 1)
	l.timerQueue.close()
	_ = l.wakeupFD.close()
	return l.poller.close()
}
