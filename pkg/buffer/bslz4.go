package buffer

import (
	"encoding/binary"
	"errors"

	"github.com/pierrec/lz4/v4"
)

var (
	errUnsupported    = errors.New("unsupported codec")
	errIncompressible = errors.New("input is incompressible")
	errTruncated      = errors.New("compressed stream truncated")
)

// Bit-shuffled LZ4, the blocked scheme the detector firmware applies to
// 32-bit pixel arrays. Elements are processed in blocks; within a block the
// bits of all elements are transposed so that bit k of every element lands
// adjacent in memory, then the block is LZ4-compressed and emitted behind a
// big-endian uint32 length prefix. Trailing elements that do not fill a group
// of eight are appended to the stream uncompressed and unshuffled.

// bslz4BlockSize returns the block size in elements for a given element
// width: the count that fills 8 KiB, rounded down to a multiple of eight.
func bslz4BlockSize(elementSize int) int {
	n := 8192 / elementSize
	return n &^ 7
}

// bslz4Bound returns an upper bound on the encoded size of n elements.
func bslz4Bound(n, elementSize int) int {
	block := bslz4BlockSize(elementSize)
	nblocks := n / block
	if rem := n % block; rem >= 8 {
		nblocks++
	}
	// Per block: 4-byte length prefix plus the LZ4 worst case.
	bound := nblocks * (4 + lz4.CompressBlockBound(block*elementSize))
	// Unshuffled tail.
	bound += (n % 8) * elementSize
	return bound
}

// decodeBSLZ4 decompresses src into the buffer. The buffer length fixes the
// element count; the decoder must consume exactly len(src) input bytes.
func (b *Buffer) decodeBSLZ4(src []byte, elementSize int) error {
	if elementSize <= 0 {
		elementSize = DefaultElementSize
	}
	nElements := len(b.data) / elementSize
	block := bslz4BlockSize(elementSize)
	scratch := make([]byte, block*elementSize)

	read := 0
	out := 0
	remaining := nElements
	for remaining >= 8 {
		n := block
		if remaining < block {
			n = remaining &^ 7
		}
		if read+4 > len(src) {
			return &CodecError{Codec: BSLZ4, Op: "decode", Err: errTruncated}
		}
		clen := int(binary.BigEndian.Uint32(src[read:]))
		read += 4
		if read+clen > len(src) {
			return &CodecError{Codec: BSLZ4, Op: "decode", Err: errTruncated}
		}
		blockBytes := n * elementSize
		m, err := lz4.UncompressBlock(src[read:read+clen], scratch[:blockBytes])
		if err != nil {
			return &CodecError{Codec: BSLZ4, Op: "decode", Err: err}
		}
		if m != blockBytes {
			return &CodecError{Codec: BSLZ4, Op: "decode", Want: blockBytes, Got: m}
		}
		read += clen
		unbitshuffle(scratch[:blockBytes], b.data[out:out+blockBytes], n, elementSize)
		out += blockBytes
		remaining -= n
	}
	// Raw tail: fewer than eight elements.
	tail := remaining * elementSize
	if read+tail > len(src) {
		return &CodecError{Codec: BSLZ4, Op: "decode", Err: errTruncated}
	}
	copy(b.data[out:], src[read:read+tail])
	read += tail

	if read != len(src) {
		return &CodecError{Codec: BSLZ4, Op: "decode", Want: len(src), Got: read}
	}
	return nil
}

// encodeBSLZ4 compresses src into the buffer and returns the compressed byte
// count. src length must be a multiple of elementSize.
func (b *Buffer) encodeBSLZ4(src []byte, elementSize int) (int, error) {
	if elementSize <= 0 {
		elementSize = DefaultElementSize
	}
	nElements := len(src) / elementSize
	block := bslz4BlockSize(elementSize)
	if bound := bslz4Bound(nElements, elementSize); len(b.data) < bound {
		b.Resize(bound)
	}
	shuffled := make([]byte, block*elementSize)

	written := 0
	in := 0
	remaining := nElements
	for remaining >= 8 {
		n := block
		if remaining < block {
			n = remaining &^ 7
		}
		blockBytes := n * elementSize
		for i := range shuffled[:blockBytes] {
			shuffled[i] = 0
		}
		bitshuffle(src[in:in+blockBytes], shuffled[:blockBytes], n, elementSize)
		m, err := lz4.CompressBlock(shuffled[:blockBytes], b.data[written+4:], nil)
		if err != nil {
			return 0, &CodecError{Codec: BSLZ4, Op: "encode", Err: err}
		}
		if m == 0 {
			return 0, &CodecError{Codec: BSLZ4, Op: "encode", Err: errIncompressible}
		}
		binary.BigEndian.PutUint32(b.data[written:], uint32(m))
		written += 4 + m
		in += blockBytes
		remaining -= n
	}
	written += copy(b.data[written:], src[in:])
	return written, nil
}

// bitshuffle transposes the bits of n elements of elementSize bytes each:
// output bit position j*n+i holds bit j of element i. n must be a multiple
// of eight and dst must be zeroed.
func bitshuffle(src, dst []byte, n, elementSize int) {
	nbits := elementSize * 8
	for j := 0; j < nbits; j++ {
		srcByte := j >> 3
		srcBit := uint(j & 7)
		for i := 0; i < n; i++ {
			if src[i*elementSize+srcByte]>>srcBit&1 != 0 {
				pos := j*n + i
				dst[pos>>3] |= 1 << uint(pos&7)
			}
		}
	}
}

// unbitshuffle inverts bitshuffle. dst receives n elements of elementSize
// bytes; any prior contents are overwritten.
func unbitshuffle(src, dst []byte, n, elementSize int) {
	for i := range dst {
		dst[i] = 0
	}
	nbits := elementSize * 8
	for j := 0; j < nbits; j++ {
		dstByte := j >> 3
		dstBit := uint(j & 7)
		for i := 0; i < n; i++ {
			pos := j*n + i
			if src[pos>>3]>>uint(pos&7)&1 != 0 {
				dst[i*elementSize+dstByte] |= 1 << dstBit
			}
		}
	}
}
