// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package reactor

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// timerFD is the kernel monotonic timer the timer queue arms to its
// earliest pending expiration, grounded in talostrading-sonic's
// internal/timer_linux.go use of timerfd_create/timerfd_settime.
type timerFD interface {
	readFD() int
	arm(d time.Duration) error
	disarm() error
	drain() (uint64, error)
	close() error
}

type kernelTimerFD struct {
	fd int
}

func newTimerFD() (timerFD, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, wrapErrno("timerfd_create", err)
	}
	return &kernelTimerFD{fd: fd}, nil
}

func (t *kernelTimerFD) readFD() int { return t.fd }

// arm re-arms the timer to fire once after d. A non-positive d arms the
// minimal representable delay so the fd becomes readable on the very
// next loop iteration rather than silently disarming (a
// timerfd_settime with an all-zero itimerspec disarms the timer).
func (t *kernelTimerFD) arm(d time.Duration) error {
	if d <= 0 {
		d = time.Microsecond
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	return wrapErrno("timerfd_settime", unix.TimerfdSettime(t.fd, 0, &spec, nil))
}

func (t *kernelTimerFD) disarm() error {
	return wrapErrno("timerfd_settime", unix.TimerfdSettime(t.fd, 0, &unix.ItimerSpec{}, nil))
}

// drain reads the 8-byte expiration counter. A short read is logged by
// the caller and treated as "no expirations observed this wakeup",
// per the documented failure semantics for timer-fd reads.
func (t *kernelTimerFD) drain() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(t.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, wrapErrno("timerfd read", err)
	}
	if n != 8 {
		return 0, errTimerFDShortRead
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (t *kernelTimerFD) close() error {
	return unix.Close(t.fd)
}
