// Package dectris implements the detector-side half of the Stream protocol:
// the per-series global header parser, the detector configuration record,
// and the parser interface a frame sink implements.
package dectris

import "fmt"

// HeaderDetail is the detail level of a series global header, announced in
// the header's part 1 message. It dictates how many further header parts the
// DCU will send.
type HeaderDetail int

const (
	// HeaderDetailUnknown is the pre-parse sentinel.
	HeaderDetailUnknown HeaderDetail = iota - 1

	// HeaderDetailNone means the DCU sends no metadata at all. The
	// archiver cannot operate in this mode.
	HeaderDetailNone

	// HeaderDetailBasic means the header carries only the detector
	// configuration (two parts).
	HeaderDetailBasic

	// HeaderDetailAll appends the flatfield, pixel mask, and countrate
	// table (eight parts).
	HeaderDetailAll
)

// String returns the wire name of the detail level.
func (d HeaderDetail) String() string {
	switch d {
	case HeaderDetailNone:
		return "none"
	case HeaderDetailBasic:
		return "basic"
	case HeaderDetailAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseHeaderDetail maps a wire name to its detail level.
func ParseHeaderDetail(name string) (HeaderDetail, error) {
	switch name {
	case "none":
		return HeaderDetailNone, nil
	case "basic":
		return HeaderDetailBasic, nil
	case "all":
		return HeaderDetailAll, nil
	default:
		return HeaderDetailUnknown, fmt.Errorf("unrecognized header_detail %q", name)
	}
}

// ProtocolError reports a violation of the Stream protocol: an unexpected
// htype, a missing mandatory field, a shape or size mismatch, or a series-id
// mismatch. There is no in-band recovery from one; a malformed series leaves
// the image metadata ambiguous.
type ProtocolError struct {
	Part   string // which message part was being parsed
	Field  string // offending field, if any
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("protocol violation in %s, field %q: %s", e.Part, e.Field, e.Detail)
	}
	return fmt.Sprintf("protocol violation in %s: %s", e.Part, e.Detail)
}

// validateHtype checks the htype discriminator of a descriptor part.
func validateHtype(part, got, want string) error {
	if got != want {
		return &ProtocolError{
			Part:   part,
			Field:  "htype",
			Detail: fmt.Sprintf("expected %q, received %q", want, got),
		}
	}
	return nil
}
