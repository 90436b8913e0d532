// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"encoding/binary"
	"errors"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

// ErrInsufficientPrepend is returned by Prepend when the prepend
// headroom is smaller than the payload being prepended.
var ErrInsufficientPrepend = errors.New("reactor: insufficient prepend headroom")

const (
	prependSize = DefaultPrependSize
	initialSize = DefaultInitialBufSize
	overflowCap = DefaultOverflowBufSize
)

var pool bytebufferpool.Pool

// Buffer is a growable prepend/read/write buffer, modeled after
// muduo's net.Buffer: a contiguous array with a reader index and a
// writer index, plus a fixed prepend headroom so wire framing can be
// stitched on after the payload is already buffered.
//
//	+-------------------+------------------+------------------+
//	| prependable bytes  |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	0      <=      reader        <=      writer       <=     size
//
// Invariant: 0 <= prependSize <= reader <= writer <= len(buf).
type Buffer struct {
	pooled *bytebufferpool.ByteBuffer
	buf    []byte
	reader int
	writer int
}

// NewBuffer allocates a buffer with the default initial capacity,
// taking its backing array from the shared bytebufferpool. The array
// goes back to the pool only through Release; TCPConnection does not
// call Release on its input or output buffer.
func NewBuffer() *Buffer {
	return NewBufferSize(initialSize)
}

// NewBufferSize allocates a buffer whose initial writable capacity is
// at least size.
func NewBufferSize(size int) *Buffer {
	bb := pool.Get()
	total := prependSize + size
	if cap(bb.B) < total {
		bb.B = append(bb.B[:0], make([]byte, total)...)
	} else {
		bb.B = bb.B[:total]
	}
	return &Buffer{pooled: bb, buf: bb.B, reader: prependSize, writer: prependSize}
}

// Release returns the pooled array the Buffer was created with to the
// shared pool; an array allocated later by EnsureWritable's growth is
// not pooled. Callers must not use the Buffer afterward.
func (b *Buffer) Release() {
	if b.pooled != nil {
		pool.Put(b.pooled)
		b.pooled = nil
		b.buf = nil
	}
}

func (b *Buffer) ReadableBytes() int    { return b.writer - b.reader }
func (b *Buffer) WritableBytes() int    { return len(b.buf) - b.writer }
func (b *Buffer) PrependableBytes() int { return b.reader }

// Peek returns the readable span without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.reader:b.writer] }

// Retrieve consumes len bytes from the front of the readable span.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.reader += n
	} else {
		b.RetrieveAll()
	}
}

// RetrieveAll resets both indices to the start of the readable span,
// discarding all buffered data without shrinking the backing array.
func (b *Buffer) RetrieveAll() {
	b.reader = prependSize
	b.writer = prependSize
}

// RetrieveAsBytes consumes and returns a copy of the first n readable
// bytes.
func (b *Buffer) RetrieveAsBytes(n int) []byte {
	out := make([]byte, n)
	copy(out, b.buf[b.reader:b.reader+n])
	b.Retrieve(n)
	return out
}

// RetrieveAllAsBytes consumes and returns a copy of every readable
// byte.
func (b *Buffer) RetrieveAllAsBytes() []byte {
	return b.RetrieveAsBytes(b.ReadableBytes())
}

// EnsureWritable grows or compacts the backing array so at least n
// bytes are writable, per the documented growth policy: grow only if
// writable+prependable falls short of what compaction alone could
// free; otherwise slide the readable span down to the prepend offset.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.PrependableBytes() < n+prependSize {
		newBuf := make([]byte, b.writer+n)
		copy(newBuf, b.buf[:b.writer])
		b.buf = newBuf
	} else {
		readable := b.ReadableBytes()
		copy(b.buf[prependSize:], b.buf[b.reader:b.writer])
		b.reader = prependSize
		b.writer = b.reader + readable
	}
}

// Append writes data to the end of the readable span, growing the
// buffer first if necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writer:], data)
	b.writer += len(data)
}

// Prepend writes data into the headroom immediately before the
// readable span. It only succeeds while PrependableBytes() >= len(data).
func (b *Buffer) Prepend(data []byte) error {
	if len(data) > b.PrependableBytes() {
		return ErrInsufficientPrepend
	}
	b.reader -= len(data)
	copy(b.buf[b.reader:], data)
	return nil
}

func (b *Buffer) AppendUint8(v uint8)   { b.Append([]byte{v}) }
func (b *Buffer) AppendUint16(v uint16) { var t [2]byte; binary.BigEndian.PutUint16(t[:], v); b.Append(t[:]) }
func (b *Buffer) AppendUint32(v uint32) { var t [4]byte; binary.BigEndian.PutUint32(t[:], v); b.Append(t[:]) }
func (b *Buffer) AppendUint64(v uint64) { var t [8]byte; binary.BigEndian.PutUint64(t[:], v); b.Append(t[:]) }

func (b *Buffer) PeekUint8() uint8   { return b.Peek()[0] }
func (b *Buffer) PeekUint16() uint16 { return binary.BigEndian.Uint16(b.Peek()) }
func (b *Buffer) PeekUint32() uint32 { return binary.BigEndian.Uint32(b.Peek()) }
func (b *Buffer) PeekUint64() uint64 { return binary.BigEndian.Uint64(b.Peek()) }

func (b *Buffer) ReadUint8() uint8   { v := b.PeekUint8(); b.Retrieve(1); return v }
func (b *Buffer) ReadUint16() uint16 { v := b.PeekUint16(); b.Retrieve(2); return v }
func (b *Buffer) ReadUint32() uint32 { v := b.PeekUint32(); b.Retrieve(4); return v }
func (b *Buffer) ReadUint64() uint64 { v := b.PeekUint64(); b.Retrieve(8); return v }

func (b *Buffer) PrependUint32(v uint32) error {
	var t [4]byte
	binary.BigEndian.PutUint32(t[:], v)
	return b.Prepend(t[:])
}

// ReadFD performs the scatter-read this design calls out explicitly:
// read into the buffer's remaining writable span plus a 64KiB stack
// overflow area in one syscall, so a single small connection doesn't
// force the buffer to over-allocate just to accommodate one large
// burst of inbound data.
func (b *Buffer) ReadFD(fd int) (int, error) {
	writable := b.WritableBytes()
	var extra [overflowCap]byte
	iov := [][]byte{b.buf[b.writer:len(b.buf)], extra[:]}
	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writer += n
	} else {
		b.writer = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}
