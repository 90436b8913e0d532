// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import (
	"os/signal"

	"golang.org/x/sys/unix"
)

// Writing to a peer that has already closed its read side raises
// SIGPIPE, whose default action kills the process; every syscall in
// this package already surfaces EPIPE through its error return, so the
// signal itself carries no information this package needs.
func init() {
	signal.Ignore(unix.SIGPIPE)
}
