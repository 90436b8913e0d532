// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package reactor

import "golang.org/x/sys/unix"

// wakeupFD is the internal event-signaling descriptor a loop reads to
// preempt its demultiplexer from another thread.
type wakeupFD interface {
	readFD() int
	wake() error
	drain() (int, error)
	close() error
}

type eventfdWakeup struct {
	fd int
}

func newWakeupFD() (wakeupFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, wrapErrno("eventfd", err)
	}
	return &eventfdWakeup{fd: fd}, nil
}

func (w *eventfdWakeup) readFD() int { return w.fd }

func (w *eventfdWakeup) wake() error {
	var one [8]byte
	one[7] = 1
	n, err := unix.Write(w.fd, one[:])
	if err != nil {
		return wrapErrno("wakeup write", err)
	}
	if n != 8 {
		return errWakeupSizeMismatch
	}
	return nil
}

func (w *eventfdWakeup) drain() (int, error) {
	var buf [8]byte
	n, err := unix.Read(w.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, wrapErrno("wakeup read", err)
	}
	return n, nil
}

func (w *eventfdWakeup) close() error {
	return unix.Close(w.fd)
}
