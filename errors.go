// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrLoopClosed is returned by EventLoop.RunInLoop and QueueInLoop
	// once the loop has been closed.
	ErrLoopClosed = errors.New("reactor: event loop is closed")
	// ErrConnClosed is returned when an operation is attempted on a
	// connection that is already disconnected.
	ErrConnClosed = errors.New("reactor: connection is closed")
	// ErrServerShutdown is what EventLoop.Run returns once Quit has
	// stopped the reactor.
	ErrServerShutdown = errors.New("reactor: server is shutting down")
	// ErrAcceptorClosed marks an acceptor that has already released its
	// listening socket.
	ErrAcceptorClosed = errors.New("reactor: acceptor is closed")

	errWakeupSizeMismatch  = errors.New("reactor: wakeup fd read/write size mismatch")
	errTimerFDShortRead    = errors.New("reactor: timer fd short read")
	errUnsupportedListener = errors.New("reactor: reuseport listener is not a *net.TCPListener")
)

// wrapErrno attaches a stack trace to a syscall-classified error before it
// is handed to the logger, without altering the errno-based control flow
// that already decided what to do about it.
func wrapErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, "reactor: %s", op)
}
