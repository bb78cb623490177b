package buffer

import "fmt"

// Codec identifies the compression algorithm applied to an image blob on the
// wire. The string forms are the literal values of the detector "compression"
// parameter and of the per-image "encoding" descriptor field.
type Codec int

const (
	// Unknown is the zero-information sentinel. It never appears on the
	// wire; decoding with it is an error.
	Unknown Codec = iota - 1

	// None is the pass-through codec: the blob is the raw pixel array.
	None

	// LZ4 is plain LZ4 block compression over the whole pixel array.
	LZ4

	// BSLZ4 is bit-shuffled LZ4: pixels are bit-transposed in fixed-width
	// element groups and then LZ4-compressed block by block.
	BSLZ4
)

// String returns the wire name of the codec.
func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case BSLZ4:
		return "bslz4"
	default:
		return "unknown"
	}
}

// ParseCodec maps a wire name to its codec. Unrecognized names map to
// Unknown with a non-nil error.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "bslz4":
		return BSLZ4, nil
	default:
		return Unknown, fmt.Errorf("unknown compression codec %q", name)
	}
}

// CodecError reports a decoder or encoder failure: a negative status from the
// underlying codec, or a length that does not match the expected size.
type CodecError struct {
	Codec  Codec
	Op     string // "decode" or "encode"
	Status int    // underlying status value, negative on codec failure
	Want   int    // expected byte count, 0 if not applicable
	Got    int    // observed byte count, 0 if not applicable
	Err    error  // underlying error, may be nil
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Codec, e.Op, e.Err)
	}
	if e.Want != e.Got {
		return fmt.Sprintf("%s %s: processed %d bytes, expected %d", e.Codec, e.Op, e.Got, e.Want)
	}
	return fmt.Sprintf("%s %s failed with status %d", e.Codec, e.Op, e.Status)
}

func (e *CodecError) Unwrap() error { return e.Err }
