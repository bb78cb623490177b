package dectris

import (
	"encoding/binary"
	"math"
)

// MaskElem constrains the element types carried by a 2-D detector table:
// 32-bit floats for the flatfield and countrate table, 32-bit unsigned
// integers for the pixel mask.
type MaskElem interface {
	~float32 | ~uint32
}

// Mask is a width × height dense table of fixed-width elements, owned by the
// global-data parser. Its lifetime is bounded by the series.
type Mask[T MaskElem] struct {
	Width  int
	Height int
	Data   []T
}

// Reset releases the table.
func (m *Mask[T]) Reset() {
	m.Width = 0
	m.Height = 0
	m.Data = nil
}

// Alloc sizes the table to w × h elements, discarding any prior contents.
func (m *Mask[T]) Alloc(w, h int) {
	m.Width = w
	m.Height = h
	m.Data = make([]T, w*h)
}

// ElementSize returns the width of one element in bytes.
func (m *Mask[T]) ElementSize() int { return 4 }

// NBytes returns the table size in bytes.
func (m *Mask[T]) NBytes() int { return m.Width * m.Height * m.ElementSize() }

// Fill copies a little-endian raw blob into the table. The blob length must
// equal NBytes exactly.
func (m *Mask[T]) Fill(raw []byte) error {
	if len(raw) != m.NBytes() {
		return &ProtocolError{
			Part:   "mask blob",
			Detail: "blob size does not match the announced shape",
		}
	}
	for i := range m.Data {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		m.Data[i] = fromBits[T](bits)
	}
	return nil
}

// fromBits reinterprets a 32-bit word as the mask's element type.
func fromBits[T MaskElem](bits uint32) T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return T(math.Float32frombits(bits))
	default:
		return T(bits)
	}
}
