// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2010, Shuo Chen. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import "sync"

// LoopThreadInitCallback runs on a worker loop's own goroutine, right
// after the loop is constructed and before it starts polling.
type LoopThreadInitCallback func(loop *EventLoop)

// loopThread owns exactly one goroutine running exactly one EventLoop,
// started lazily and handed back to the caller once it has begun
// polling.
type loopThread struct {
	loop   *EventLoop
	ready  sync.Mutex
	cond   *sync.Cond
	cb     LoopThreadInitCallback
	opts   []Option
	done   chan struct{}
}

func newLoopThread(cb LoopThreadInitCallback, opts ...Option) *loopThread {
	t := &loopThread{cb: cb, opts: opts, done: make(chan struct{})}
	t.cond = sync.NewCond(&t.ready)
	return t
}

// start launches the loop's goroutine and blocks until the loop object
// exists and its init callback has run, mirroring
// EventLoopThread::startLoop's condition-variable handoff.
func (t *loopThread) start() *EventLoop {
	go t.run()

	t.ready.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	t.ready.Unlock()
	return t.loop
}

func (t *loopThread) run() {
	loop, err := NewEventLoop(t.opts...)
	if err != nil {
		// Nothing sensible to do with a loop that failed to construct;
		// surface it via panic so it isn't silently swallowed the way a
		// stray goroutine's error otherwise would be.
		panic("reactor: failed to construct worker loop: " + err.Error())
	}
	if t.cb != nil {
		t.cb(loop)
	}

	t.ready.Lock()
	t.loop = loop
	t.cond.Signal()
	t.ready.Unlock()

	loop.Run()
	close(t.done)
}

func (t *loopThread) stop() {
	t.loop.Quit()
	<-t.done
	_ = t.loop.Close()
}

// LoopThreadPool spreads accepted connections across N worker loops,
// each pinned to its own goroutine, so a TCPServer's baseLoop only
// accepts and every established connection lives on a worker loop
// picked round-robin or by hash.
type LoopThreadPool struct {
	baseLoop *EventLoop
	opts     []Option

	numThreads int
	started    bool
	next       int

	threads []*loopThread
	loops   []*EventLoop
}

// NewLoopThreadPool prepares a pool anchored on baseLoop. Set the
// worker count with SetThreadNum before calling Start.
func NewLoopThreadPool(baseLoop *EventLoop, opts ...Option) *LoopThreadPool {
	return &LoopThreadPool{baseLoop: baseLoop, opts: opts}
}

// SetThreadNum configures how many worker loops Start will spin up. A
// count of 0 means every connection is handled on baseLoop.
func (p *LoopThreadPool) SetThreadNum(n int) { p.numThreads = n }

// Start must run on baseLoop's goroutine. It blocks until every worker
// loop has been constructed and its init callback has run.
func (p *LoopThreadPool) Start(cb LoopThreadInitCallback) {
	p.baseLoop.assertInLoopThread("LoopThreadPool.Start")
	if p.started {
		panic("reactor: LoopThreadPool.Start called twice")
	}
	p.started = true

	for i := 0; i < p.numThreads; i++ {
		t := newLoopThread(cb, p.opts...)
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.start())
	}
	if p.numThreads == 0 && cb != nil {
		cb(p.baseLoop)
	}
}

// NextLoop returns the next worker loop, round-robin, or baseLoop when
// the pool has no workers.
func (p *LoopThreadPool) NextLoop() *EventLoop {
	p.baseLoop.assertInLoopThread("LoopThreadPool.NextLoop")
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// LoopForHash deterministically maps hashCode onto one worker loop, so
// e.g. all connections from the same client IP can be pinned together.
func (p *LoopThreadPool) LoopForHash(hashCode uint64) *EventLoop {
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	return p.loops[hashCode%uint64(len(p.loops))]
}

// AllLoops returns every loop the pool drives, baseLoop included when
// there are no workers.
func (p *LoopThreadPool) AllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Stop quits and joins every worker loop. Must run after baseLoop has
// itself stopped accepting new work.
func (p *LoopThreadPool) Stop() {
	for _, t := range p.threads {
		t.stop()
	}
}
