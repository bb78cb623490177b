package minicbf

import (
	"encoding/binary"
	"fmt"
)

// CBF byte-offset compression. Each pixel is stored as the delta from its
// predecessor: one signed byte when the delta fits, otherwise an escape
// marker followed by a wider little-endian integer. The first pixel's
// predecessor is zero.

// EncodeByteOffset compresses little-endian signed 32-bit pixels. The input
// length must be a multiple of four.
func EncodeByteOffset(raw []byte) []byte {
	n := len(raw) / 4
	out := make([]byte, 0, n+n/8)
	var prev int64
	for i := 0; i < n; i++ {
		cur := int64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		delta := cur - prev
		prev = cur
		switch {
		case delta >= -127 && delta <= 127:
			out = append(out, byte(int8(delta)))
		case delta >= -32767 && delta <= 32767:
			out = append(out, 0x80)
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(delta)))
		case delta >= -2147483647 && delta <= 2147483647:
			out = append(out, 0x80, 0x00, 0x80)
			out = binary.LittleEndian.AppendUint32(out, uint32(int32(delta)))
		default:
			out = append(out, 0x80, 0x00, 0x80, 0x00, 0x00, 0x00, 0x80)
			out = binary.LittleEndian.AppendUint64(out, uint64(delta))
		}
	}
	return out
}

// DecodeByteOffset reverses EncodeByteOffset, producing n little-endian
// signed 32-bit pixels.
func DecodeByteOffset(data []byte, n int) ([]byte, error) {
	out := make([]byte, n*4)
	var prev int64
	pos := 0
	for i := 0; i < n; i++ {
		if pos >= len(data) {
			return nil, fmt.Errorf("byte-offset stream truncated at element %d", i)
		}
		var delta int64
		ok := false
		if b := data[pos]; b != 0x80 {
			delta = int64(int8(b))
			pos++
			ok = true
		} else if pos+3 <= len(data) {
			d16 := int16(binary.LittleEndian.Uint16(data[pos+1:]))
			if d16 != -32768 {
				delta = int64(d16)
				pos += 3
				ok = true
			} else if pos+7 <= len(data) {
				d32 := int32(binary.LittleEndian.Uint32(data[pos+3:]))
				if d32 != -2147483648 {
					delta = int64(d32)
					pos += 7
					ok = true
				} else if pos+15 <= len(data) {
					delta = int64(binary.LittleEndian.Uint64(data[pos+7:]))
					pos += 15
					ok = true
				}
			}
		}
		if !ok {
			return nil, fmt.Errorf("byte-offset stream truncated at element %d", i)
		}
		prev += delta
		binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(prev)))
	}
	if pos != len(data) {
		return nil, fmt.Errorf("byte-offset stream has %d trailing bytes", len(data)-pos)
	}
	return out, nil
}
