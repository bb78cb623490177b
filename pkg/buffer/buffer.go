// Package buffer provides a uniquely-owned, resizable byte region with the
// compression primitives used by the detector stream: pass-through, plain LZ4
// block compression, and bit-shuffled LZ4.
//
// The buffer is sized to the decoded length of the data before Decode is
// called; a decode that does not produce exactly Size() bytes is an error.
package buffer

import (
	"github.com/pierrec/lz4/v4"
)

// DefaultElementSize is the element width assumed when none is given,
// matching 32-bit detector pixels.
const DefaultElementSize = 4

// Buffer is an owned byte region with a current length. Resizing is
// destructive: the previous contents are released, not copied.
type Buffer struct {
	data []byte
}

// New allocates a buffer of exactly n bytes. Contents are zeroed by the
// runtime but callers must not rely on that after a Resize.
func New(n int) *Buffer {
	return &Buffer{data: make([]byte, n)}
}

// Bytes returns the underlying region. Valid until the next Resize or Reset.
func (b *Buffer) Bytes() []byte { return b.data }

// Size returns the current length in bytes.
func (b *Buffer) Size() int { return len(b.data) }

// Resize sets the buffer length to n. Same-size calls are no-ops; n == 0
// releases the region; any other n discards the old region and allocates a
// fresh one with undefined contents.
func (b *Buffer) Resize(n int) {
	if n == len(b.data) {
		return
	}
	// Scribble over the old region so stale aliases read garbage instead
	// of plausible pixel data.
	for i := range b.data {
		b.data[i] = 'x'
	}
	if n == 0 {
		b.data = nil
		return
	}
	b.data = make([]byte, n)
}

// Reset releases the buffer. Equivalent to Resize(0).
func (b *Buffer) Reset() { b.Resize(0) }

// Decode decompresses src into the buffer using the given codec. The buffer
// must already be sized to the decoded length; exactly Size() bytes are valid
// afterwards. elementSize is only meaningful for BSLZ4.
func (b *Buffer) Decode(codec Codec, src []byte, elementSize int) error {
	switch codec {
	case BSLZ4:
		return b.decodeBSLZ4(src, elementSize)
	case LZ4:
		return b.decodeLZ4(src)
	case None:
		if len(src) != len(b.data) {
			return &CodecError{Codec: None, Op: "decode", Want: len(b.data), Got: len(src)}
		}
		copy(b.data, src)
		return nil
	default:
		return &CodecError{Codec: codec, Op: "decode", Err: errUnsupported}
	}
}

// Encode compresses src into the buffer and returns the compressed byte
// count. The buffer is grown to the compressor's upper bound first, so
// Size() may exceed the returned count afterwards.
func (b *Buffer) Encode(codec Codec, src []byte, elementSize int) (int, error) {
	switch codec {
	case BSLZ4:
		return b.encodeBSLZ4(src, elementSize)
	case LZ4:
		return b.encodeLZ4(src)
	case None:
		if len(b.data) < len(src) {
			b.Resize(len(src))
		}
		copy(b.data, src)
		return len(src), nil
	default:
		return 0, &CodecError{Codec: codec, Op: "encode", Err: errUnsupported}
	}
}

// decodeLZ4 decompresses a single LZ4 block. The decompressed length must
// equal Size() exactly.
func (b *Buffer) decodeLZ4(src []byte) error {
	n, err := lz4.UncompressBlock(src, b.data)
	if err != nil {
		return &CodecError{Codec: LZ4, Op: "decode", Err: err}
	}
	if n != len(b.data) {
		return &CodecError{Codec: LZ4, Op: "decode", Want: len(b.data), Got: n}
	}
	return nil
}

// encodeLZ4 compresses src as a single LZ4 block.
func (b *Buffer) encodeLZ4(src []byte) (int, error) {
	bound := lz4.CompressBlockBound(len(src))
	if len(b.data) < bound {
		b.Resize(bound)
	}
	n, err := lz4.CompressBlock(src, b.data, nil)
	if err != nil {
		return 0, &CodecError{Codec: LZ4, Op: "encode", Err: err}
	}
	if n == 0 {
		// The block compressor signals incompressible input with a
		// zero length.
		return 0, &CodecError{Codec: LZ4, Op: "encode", Err: errIncompressible}
	}
	return n, nil
}
