package dectris

import (
	"fmt"

	"lscat.org/bparchive/internal/log"
	"lscat.org/bparchive/pkg/jsonx"
)

// globalState is the position of the global-data parser within the header
// part sequence.
type globalState int

const (
	statePart1 globalState = iota + 1
	statePart2
	statePart3
	statePart4
	statePart5
	statePart6
	statePart7
	statePart8
	stateAppendix
	stateDone
)

// GlobalData parses and stores the global header of an image series: between
// two and eight message parts plus an optional appendix, depending on the
// header detail level. Global data arrives once per series, so this path is
// not throughput-sensitive.
type GlobalData struct {
	state               globalState
	usingHeaderAppendix bool
	strict              bool

	seriesID       int64
	headerDetail   HeaderDetail
	config         DetectorConfig
	flatfield      Mask[float32]
	pixelMask      Mask[uint32]
	countrateTable Mask[float32]
	headerAppendix string
}

// NewGlobalData returns a parser in its initial state.
func NewGlobalData() *GlobalData {
	g := &GlobalData{}
	g.Reset()
	return g
}

// EnableHeaderAppendix tells the parser the DCU is configured to append an
// opaque JSON part to every global header. This is configuration, not wire
// state; Reset does not clear it.
func (g *GlobalData) EnableHeaderAppendix() { g.usingHeaderAppendix = true }

// SetStrict enables the htype checks on the flatfield, pixel-mask, and
// countrate-table descriptors. Part 1 is validated regardless.
func (g *GlobalData) SetStrict(strict bool) { g.strict = strict }

// Accessors for fields parsed out of the header messages.

func (g *GlobalData) UsingHeaderAppendix() bool      { return g.usingHeaderAppendix }
func (g *GlobalData) SeriesID() int64                { return g.seriesID }
func (g *GlobalData) HeaderDetail() HeaderDetail     { return g.headerDetail }
func (g *GlobalData) Config() *DetectorConfig        { return &g.config }
func (g *GlobalData) Flatfield() *Mask[float32]      { return &g.flatfield }
func (g *GlobalData) PixelMask() *Mask[uint32]       { return &g.pixelMask }
func (g *GlobalData) CountrateTable() *Mask[float32] { return &g.countrateTable }
func (g *GlobalData) HeaderAppendix() string         { return g.headerAppendix }

// Reset restores the initial state and releases all series-scoped data. The
// header-appendix-expected flag survives, it is set by the config file.
// Idempotent.
func (g *GlobalData) Reset() {
	g.state = statePart1
	g.seriesID = -1
	g.headerDetail = HeaderDetailUnknown
	g.config.Reset()
	g.flatfield.Reset()
	g.pixelMask.Reset()
	g.countrateTable.Reset()
	g.headerAppendix = ""
}

// Parse consumes one message part. It returns true once the part just
// consumed completed the global header; the caller must Reset before the
// next series. The parse state only advances on success.
func (g *GlobalData) Parse(data []byte) (bool, error) {
	switch g.state {
	case statePart1:
		if err := g.parsePart1(data); err != nil {
			return false, err
		}
		switch g.headerDetail {
		case HeaderDetailAll, HeaderDetailBasic:
			g.state = statePart2
		case HeaderDetailNone:
			return false, &ProtocolError{
				Part:  "global header part 1",
				Field: "header_detail",
				Detail: "incompatible DCU configuration; header detail is \"none\", " +
					"cannot obtain the metadata needed to process image frames. " +
					"Set \"header_detail\" to \"all\"",
			}
		}

	case statePart2:
		if err := g.parsePart2(data); err != nil {
			return false, err
		}
		if g.headerDetail == HeaderDetailAll {
			g.state = statePart3
		} else {
			g.state = g.appendixOrDone()
		}

	case statePart3:
		if err := g.parseMaskDescriptor(data, "dflatfield-1.0", "flatfield", allocMask(&g.flatfield)); err != nil {
			return false, err
		}
		g.state = statePart4

	case statePart4:
		if err := fillMask(data, "flatfield", &g.flatfield); err != nil {
			return false, err
		}
		g.state = statePart5

	case statePart5:
		if err := g.parseMaskDescriptor(data, "dpixelmask-1.0", "pixel mask", allocMask(&g.pixelMask)); err != nil {
			return false, err
		}
		g.state = statePart6

	case statePart6:
		if err := fillMask(data, "pixel mask", &g.pixelMask); err != nil {
			return false, err
		}
		g.state = statePart7

	case statePart7:
		if err := g.parseMaskDescriptor(data, "dcountrate_table-1.0", "countrate table", allocMask(&g.countrateTable)); err != nil {
			return false, err
		}
		g.state = statePart8

	case statePart8:
		if err := fillMask(data, "countrate table", &g.countrateTable); err != nil {
			return false, err
		}
		g.state = g.appendixOrDone()

	case stateAppendix:
		// Captured verbatim. Site-specific code may use it, e.g. to pick
		// a landing directory for image files.
		g.headerAppendix = string(data)
		log.GetLogger().WithField("appendix", g.headerAppendix).Debug("header appendix")
		g.state = stateDone

	default:
		return false, fmt.Errorf("global data parser stuck in state %d with header_detail=%s",
			g.state, g.headerDetail)
	}
	return g.state == stateDone, nil
}

func (g *GlobalData) appendixOrDone() globalState {
	if g.usingHeaderAppendix {
		return stateAppendix
	}
	return stateDone
}

// parsePart1 handles the dheader-1.0 message: series id and detail level.
// Its htype is validated even outside strict mode; the time cost is small and
// the risk of desynchronizing on a stray part is great.
func (g *GlobalData) parsePart1(data []byte) error {
	obj, err := jsonx.Parse(data)
	if err != nil {
		return &ProtocolError{Part: "global header part 1", Detail: err.Error()}
	}
	htype, err := jsonx.Str(obj, "htype")
	if err != nil {
		return &ProtocolError{Part: "global header part 1", Field: "htype", Detail: err.Error()}
	}
	if err := validateHtype("global header part 1", htype, "dheader-1.0"); err != nil {
		return err
	}

	g.seriesID, err = jsonx.Int(obj, "series")
	if err != nil {
		return &ProtocolError{
			Part:   "global header part 1",
			Field:  "series",
			Detail: "the DCU did not provide a valid value",
		}
	}
	detail, err := jsonx.Str(obj, "header_detail")
	if err != nil {
		return &ProtocolError{
			Part:   "global header part 1",
			Field:  "header_detail",
			Detail: "the DCU did not provide a valid value",
		}
	}
	g.headerDetail, err = ParseHeaderDetail(detail)
	if err != nil {
		return &ProtocolError{Part: "global header part 1", Field: "header_detail", Detail: err.Error()}
	}
	return nil
}

// parsePart2 handles the detector-config message.
func (g *GlobalData) parsePart2(data []byte) error {
	obj, err := jsonx.Parse(data)
	if err != nil {
		return &ProtocolError{Part: "detector config", Detail: err.Error()}
	}
	if err := g.config.Parse(obj); err != nil {
		return err
	}
	log.GetLogger().WithField("config", string(data)).Debug("detector config for image series")
	return nil
}

// parseMaskDescriptor handles a dflatfield/dpixelmask/dcountrate_table
// descriptor: reads the two-element shape array and allocates the table.
// The htype is checked in strict mode only; descriptor order is fixed by the
// protocol, so the check buys little at steady state.
func (g *GlobalData) parseMaskDescriptor(data []byte, htype, what string, alloc func(w, h int)) error {
	obj, err := jsonx.Parse(data)
	if err != nil {
		return &ProtocolError{Part: what + " descriptor", Detail: err.Error()}
	}
	if g.strict {
		got, err := jsonx.Str(obj, "htype")
		if err != nil {
			return &ProtocolError{Part: what + " descriptor", Field: "htype", Detail: err.Error()}
		}
		if err := validateHtype(what+" descriptor", got, htype); err != nil {
			return err
		}
	}
	w, err := jsonx.Int(obj, "shape.0")
	if err != nil {
		return &ProtocolError{
			Part:   what + " descriptor",
			Field:  "shape",
			Detail: "the DCU did not provide a valid width",
		}
	}
	h, err := jsonx.Int(obj, "shape.1")
	if err != nil {
		return &ProtocolError{
			Part:   what + " descriptor",
			Field:  "shape",
			Detail: "the DCU did not provide a valid height",
		}
	}
	alloc(int(w), int(h))
	return nil
}

// fillMask handles the binary blob following a descriptor.
func fillMask[T MaskElem](data []byte, what string, m *Mask[T]) error {
	if len(data) != m.NBytes() {
		return sizeMismatch(what, m.NBytes(), len(data))
	}
	return m.Fill(data)
}

func sizeMismatch(what string, want, got int) error {
	return &ProtocolError{
		Part:   what + " blob",
		Detail: fmt.Sprintf("expected %d bytes, received %d", want, got),
	}
}

// allocMask adapts a mask's Alloc method for parseMaskDescriptor.
func allocMask[T MaskElem](m *Mask[T]) func(w, h int) {
	return m.Alloc
}
