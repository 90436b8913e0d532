// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"os"
	"time"
)

// envPortablePoller, when set to any non-empty value, selects the
// portable poll(2)-based demultiplexer instead of the scalable
// epoll/kqueue backend. This is the single environment-variable knob
// described by the design: presence, not content, decides.
const envPortablePoller = "REACTOR_USE_POLL"

// demultiplexer is the abstraction two interchangeable readiness
// backends satisfy: a scalable one (epoll on Linux, kqueue on
// BSD/Darwin) used by default, and a portable poll(2)-based fallback
// selected by envPortablePoller. Selection is a tagged choice made once
// at loop construction, not runtime polymorphism behind every call.
type demultiplexer interface {
	// poll blocks up to timeout, appends every channel whose readiness
	// changed to *active (with its revents already recorded), and
	// returns the timestamp the wait completed. Signal interruption
	// returns (now, nil) with no channels appended.
	poll(timeout time.Duration, active *[]*Channel) (time.Time, error)
	updateChannel(c *Channel) error
	removeChannel(c *Channel) error
	hasChannel(fd int) bool
	close() error
}

func newDemultiplexer() (demultiplexer, error) {
	if os.Getenv(envPortablePoller) != "" {
		return newPollPoller()
	}
	return newScalablePoller()
}
