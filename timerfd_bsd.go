// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// timerFD is the kernel monotonic timer the timer queue arms to its
// earliest pending expiration. Darwin/BSD have no timerfd; a self-pipe
// plus a stdlib time.Timer emulate the same "readable fd, 8-byte
// counter" contract so the rest of the timer queue is platform-neutral.
type timerFD interface {
	readFD() int
	arm(d time.Duration) error
	disarm() error
	drain() (uint64, error)
	close() error
}

type pipeTimerFD struct {
	r, w int

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

func newTimerFD() (timerFD, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, wrapErrno("pipe2", err)
	}
	return &pipeTimerFD{r: fds[0], w: fds[1]}, nil
}

func (t *pipeTimerFD) readFD() int { return t.r }

func (t *pipeTimerFD) arm(d time.Duration) error {
	if d <= 0 {
		d = time.Microsecond
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		var one [8]byte
		one[7] = 1
		_, _ = unix.Write(t.w, one[:])
	})
	return nil
}

func (t *pipeTimerFD) disarm() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	return nil
}

func (t *pipeTimerFD) drain() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(t.r, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, wrapErrno("timer pipe read", err)
	}
	if n != 8 {
		return 0, errTimerFDShortRead
	}
	return 1, nil
}

func (t *pipeTimerFD) close() error {
	t.mu.Lock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	_ = unix.Close(t.r)
	return unix.Close(t.w)
}
