// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import "time"

// timerEntry is a single scheduled callback: immutable except for its
// expiration, which advances on each periodic re-arm, and its heap
// index, which container/heap maintains for O(log n) cancellation.
type timerEntry struct {
	seq        int64
	expiration time.Time
	interval   time.Duration
	cb         func()
	heapIndex  int
}

// timerHeap is a container/heap min-heap ordered by (expiration, seq).
// The sequence number is this port's stand-in for muduo's tie-break on
// timer-pointer identity: it gives a stronger, deterministic total
// order than a raw pointer address ever did, while playing the same
// role of keeping the ordered set total when two timers share an
// expiration.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration.Equal(h[j].expiration) {
		return h[i].seq < h[j].seq
	}
	return h[i].expiration.Before(h[j].expiration)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}
