// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID stands in for muduo's CurrentThread::tid(): the "one loop
// per owner" invariant needs a way to tell whether the caller is the
// goroutine that constructed the loop. Go exposes no portable OS thread
// id to user code (LockOSThread pins a goroutine to a thread but never
// hands back its identity), so the owner is identified by goroutine id
// instead, parsed out of the runtime's own debug stack header. It is
// only ever used for the loop's programming-contract assertions, never
// on a hot path.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
