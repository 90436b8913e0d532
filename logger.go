// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the log sink the core writes level, timestamp and message
// triples to. It is deliberately minimal: implementations of async
// disk sinks, rotation, sampling, etc. live outside this package.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// zeroLogger backs the default Logger with zerolog, giving structured,
// leveled, timestamped output without the core needing to know about
// zerolog's API beyond construction.
type zeroLogger struct {
	l zerolog.Logger
}

// NewZeroLogger builds the default Logger, writing to w (os.Stderr when
// w is nil) with the given minimum level.
func NewZeroLogger(w *os.File, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zeroLogger{l: l}
}

func (z *zeroLogger) Debugf(format string, args ...interface{}) {
	z.l.Debug().Msgf(format, args...)
}

func (z *zeroLogger) Infof(format string, args ...interface{}) {
	z.l.Info().Msgf(format, args...)
}

func (z *zeroLogger) Warnf(format string, args ...interface{}) {
	z.l.Warn().Msgf(format, args...)
}

func (z *zeroLogger) Errorf(format string, args ...interface{}) {
	z.l.Error().Msgf(format, args...)
}

var defaultLogger Logger = NewZeroLogger(nil, zerolog.InfoLevel)
