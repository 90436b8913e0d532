// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package reactor implements a non-blocking TCP networking core built
// around the reactor pattern: a single-threaded event loop that
// multiplexes readiness events over file descriptors, dispatches them
// to per-fd channels, drives a monotonic timer queue backed by a
// kernel timer descriptor, and composes loop-per-thread into acceptors,
// connectors and pooled TCP servers/clients.
//
// The package is level-triggered, IPv4/IPv6 aware and payload
// transparent: it never interprets the bytes flowing through a
// connection, leaving framing and application protocols to the caller.
package reactor
