// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendAndRetrieve(t *testing.T) {
	b := NewBuffer()
	defer b.Release()

	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, prependSize, b.PrependableBytes())

	b.Append([]byte("hello"))
	assert.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, "hello", string(b.Peek()))

	b.Retrieve(2)
	assert.Equal(t, "llo", string(b.Peek()))

	b.RetrieveAll()
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestBufferGrowsPastInitialCapacity(t *testing.T) {
	b := NewBuffer()
	defer b.Release()

	big := make([]byte, initialSize*4)
	for i := range big {
		big[i] = byte(i)
	}
	b.Append(big)
	require.Equal(t, len(big), b.ReadableBytes())
	assert.Equal(t, big, b.Peek())
}

func TestBufferCompactsInsteadOfGrowingWhenRoomExists(t *testing.T) {
	b := NewBufferSize(64)
	defer b.Release()

	b.Append(make([]byte, 40))
	b.Retrieve(30)
	before := len(b.buf)

	// 24 bytes are writable, but 24 writable + 38 prependable covers
	// 40 + the 8-byte headroom, so the 10 readable bytes slide down to
	// the prepend offset instead of reallocating.
	b.EnsureWritable(40)
	assert.Equal(t, before, len(b.buf))
	assert.Equal(t, prependSize, b.reader)
}

func TestBufferPrependRequiresHeadroom(t *testing.T) {
	b := NewBuffer()
	defer b.Release()

	require.NoError(t, b.PrependUint32(42))
	assert.Equal(t, uint32(42), b.PeekUint32())

	// Exhaust remaining headroom, then a further prepend must fail.
	for b.PrependableBytes() > 0 {
		require.NoError(t, b.Prepend([]byte{0}))
	}
	assert.ErrorIs(t, b.Prepend([]byte{1}), ErrInsufficientPrepend)
}

func TestBufferIntHelpersRoundTrip(t *testing.T) {
	b := NewBuffer()
	defer b.Release()

	b.AppendUint8(1)
	b.AppendUint16(2)
	b.AppendUint32(3)
	b.AppendUint64(4)

	assert.Equal(t, uint8(1), b.ReadUint8())
	assert.Equal(t, uint16(2), b.ReadUint16())
	assert.Equal(t, uint32(3), b.ReadUint32())
	assert.Equal(t, uint64(4), b.ReadUint64())
	assert.Equal(t, 0, b.ReadableBytes())
}
