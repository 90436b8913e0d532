// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import "golang.org/x/sys/unix"

// wakeupFD is the internal event-signaling descriptor a loop reads to
// preempt its demultiplexer from another thread. Darwin/BSD have no
// eventfd, so a self-pipe carries the same 8-byte wake token.
type wakeupFD interface {
	readFD() int
	wake() error
	drain() (int, error)
	close() error
}

type pipeWakeup struct {
	r, w int
}

func newWakeupFD() (wakeupFD, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, wrapErrno("pipe2", err)
	}
	return &pipeWakeup{r: fds[0], w: fds[1]}, nil
}

func (w *pipeWakeup) readFD() int { return w.r }

func (w *pipeWakeup) wake() error {
	var one [8]byte
	one[7] = 1
	n, err := unix.Write(w.w, one[:])
	if err != nil {
		return wrapErrno("wakeup write", err)
	}
	if n != 8 {
		return errWakeupSizeMismatch
	}
	return nil
}

func (w *pipeWakeup) drain() (int, error) {
	var buf [8]byte
	n, err := unix.Read(w.r, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, wrapErrno("wakeup read", err)
	}
	return n, nil
}

func (w *pipeWakeup) close() error {
	_ = unix.Close(w.r)
	return unix.Close(w.w)
}
