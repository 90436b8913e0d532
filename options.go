// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import "time"

// Defaults named by §6 of the design: initial/max retry delays,
// high-watermark, poll timeout, prepend headroom, initial buffer size
// and the read-side overflow scatter buffer.
const (
	DefaultInitRetryDelay  = 500 * time.Millisecond
	DefaultMaxRetryDelay   = 30 * time.Second
	DefaultHighWatermark   = 64 * 1024 * 1024
	DefaultPollTimeout     = 10 * time.Second
	DefaultPrependSize     = 8
	DefaultInitialBufSize  = 1024
	DefaultOverflowBufSize = 64 * 1024
)

type loopOptions struct {
	logger      Logger
	pollTimeout time.Duration
}

func defaultLoopOptions() *loopOptions {
	return &loopOptions{
		logger:      defaultLogger,
		pollTimeout: DefaultPollTimeout,
	}
}

// Option configures an EventLoop the way gnet's functional
// Options/WithXxx constructors do; a LoopThreadPool hands its options
// to every worker loop it creates.
type Option func(*loopOptions)

// WithLogger swaps the default zerolog-backed sink for a caller-supplied
// one.
func WithLogger(l Logger) Option {
	return func(o *loopOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPollTimeout overrides the demultiplexer's per-iteration ceiling
// (default 10s, per §6).
func WithPollTimeout(d time.Duration) Option {
	return func(o *loopOptions) { o.pollTimeout = d }
}
