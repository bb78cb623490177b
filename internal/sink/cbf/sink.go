// Package cbf converts data received over the detector's stream interface
// into a series of minicbf files, one image per file.
//
// The sink does not post-process image frames; the pixel mask and any other
// correction must be applied by the DCU.
package cbf

import (
	"fmt"
	"path/filepath"

	"github.com/tidwall/gjson"

	"lscat.org/bparchive/internal/config"
	"lscat.org/bparchive/internal/dectris"
	"lscat.org/bparchive/internal/log"
	"lscat.org/bparchive/internal/metrics"
	"lscat.org/bparchive/internal/minicbf"
	"lscat.org/bparchive/pkg/buffer"
	"lscat.org/bparchive/pkg/jsonx"
)

// frameState is the sink's position within the wire part sequence.
type frameState int

const (
	stateGlobalHeader frameState = iota
	stateNewFrame
	stateMidframePart2
	stateMidframePart3
	stateMidframePart4
	stateMidframeAppendix
)

// frameTiming holds the per-frame dconfig-1.0 fields, captured in strict
// mode only; the configured exposure in the global data covers the output.
type frameTiming struct {
	startTime int64
	stopTime  int64
	realTime  int64
}

// Sink implements dectris.StreamParser, writing one minicbf per frame.
type Sink struct {
	global *dectris.GlobalData
	buf    *buffer.Buffer // decoded image, sized once per series
	state  frameState

	frameID  int64
	block    *minicbf.Datablock
	appendix string
	timing   frameTiming

	usingImageAppendix bool
	strict             bool
	outputDir          string
}

// New creates a sink configured from the archiver settings.
func New(cfg config.ArchiverConfig) *Sink {
	s := &Sink{
		global:             dectris.NewGlobalData(),
		buf:                buffer.New(0),
		state:              stateGlobalHeader,
		frameID:            -1,
		usingImageAppendix: cfg.Source.UsingImageAppendix,
		strict:             cfg.Source.Strict,
		outputDir:          cfg.Output.Directory,
	}
	if cfg.Source.UsingHeaderAppendix {
		s.global.EnableHeaderAppendix()
	}
	s.global.SetStrict(cfg.Source.Strict)
	if s.outputDir == "" {
		s.outputDir = "."
	}
	return s
}

// Reset returns the sink to the global-header state, releasing all
// series-scoped data. Idempotent.
func (s *Sink) Reset() {
	s.appendix = ""
	s.buf.Reset()
	s.frameID = -1
	s.global.Reset()
	s.block = nil
	s.timing = frameTiming{}
	s.state = stateGlobalHeader
}

// Parse consumes one message part, writes a minicbf to a file every time a
// complete image has been received, and returns true when an entire image
// series has been parsed and written out.
func (s *Sink) Parse(data []byte) (bool, error) {
	metrics.PartsReceivedTotal.Inc()

	switch s.state {
	case stateGlobalHeader:
		done, err := s.global.Parse(data)
		if err != nil {
			return false, err
		}
		if done {
			cfg := s.global.Config()
			s.buf.Resize(int(cfg.BitDepthImage) / 8 *
				int(cfg.XPixelsInDetector) * int(cfg.YPixelsInDetector))
			s.state = stateNewFrame
		}

	case stateNewFrame:
		seriesEnd, err := s.parsePart1OrSeriesEnd(data)
		if err != nil {
			return false, err
		}
		if seriesEnd {
			s.Reset()
			metrics.SeriesCompletedTotal.Inc()
			return true, nil
		}
		s.buildHeader()
		s.state = stateMidframePart2

	case stateMidframePart2:
		if err := s.parsePart2(data); err != nil {
			return false, err
		}
		s.state = stateMidframePart3

	case stateMidframePart3:
		if err := s.parsePart3(data); err != nil {
			return false, err
		}
		if err := s.buildData(); err != nil {
			return false, err
		}
		s.state = stateMidframePart4

	case stateMidframePart4:
		if err := s.parsePart4(data); err != nil {
			return false, err
		}
		if s.usingImageAppendix {
			s.state = stateMidframeAppendix
		} else {
			if err := s.Flush(); err != nil {
				return false, err
			}
			s.state = stateNewFrame
		}

	case stateMidframeAppendix:
		// Captured verbatim; site-specific code may use it, e.g. to pick
		// a landing directory and file-naming convention.
		s.appendix = string(data)
		if err := s.Flush(); err != nil {
			return false, err
		}
		s.state = stateNewFrame
	}

	return false, nil
}

// parsePart1OrSeriesEnd returns true if the part is an end-of-series marker,
// false if it opens a new frame.
func (s *Sink) parsePart1OrSeriesEnd(data []byte) (bool, error) {
	obj, err := jsonx.Parse(data)
	if err != nil {
		return false, &dectris.ProtocolError{Part: "frame part 1", Detail: err.Error()}
	}
	htype, err := jsonx.Str(obj, "htype")
	if err != nil {
		return false, &dectris.ProtocolError{Part: "frame part 1", Field: "htype", Detail: err.Error()}
	}

	if htype == "dseries_end-1.0" {
		if err := s.checkSeriesID(obj, "end of series"); err != nil {
			return false, err
		}
		log.GetLogger().WithField("record", string(data)).Info("series end record")
		return true, nil
	}
	if htype != "dimage-1.0" {
		return false, &dectris.ProtocolError{
			Part:  "frame part 1",
			Field: "htype",
			Detail: fmt.Sprintf("expected either %q (frame part 1) or %q (end of series), received %q",
				"dimage-1.0", "dseries_end-1.0", htype),
		}
	}

	s.frameID, err = jsonx.Int(obj, "frame")
	if err != nil {
		return false, &dectris.ProtocolError{Part: "frame part 1", Field: "frame", Detail: err.Error()}
	}
	// If the metadata is wrong for an image there is no predictable way to
	// find the right metadata; the whole minicbf would be useless.
	if err := s.checkSeriesID(obj, "frame part 1"); err != nil {
		return false, err
	}
	// The "hash" field also present here is not validated.
	return false, nil
}

// checkSeriesID enforces that a frame or series-end part belongs to the
// series announced in the global header.
func (s *Sink) checkSeriesID(obj gjson.Result, part string) error {
	seriesID, err := jsonx.Int(obj, "series")
	if err != nil {
		return &dectris.ProtocolError{Part: part, Field: "series", Detail: err.Error()}
	}
	if seriesID != s.global.SeriesID() {
		return &dectris.ProtocolError{
			Part:  part,
			Field: "series",
			Detail: fmt.Sprintf("expected series id %d, received %d",
				s.global.SeriesID(), seriesID),
		}
	}
	return nil
}

// parsePart2 handles the dimage_d-1.0 descriptor. The shape and size it
// carries are redundant with the detector config and are trusted; only the
// htype is checked, and only in strict mode.
func (s *Sink) parsePart2(data []byte) error {
	if !s.strict {
		return nil
	}
	obj, err := jsonx.Parse(data)
	if err != nil {
		return &dectris.ProtocolError{Part: "frame part 2", Detail: err.Error()}
	}
	htype, err := jsonx.Str(obj, "htype")
	if err != nil {
		return &dectris.ProtocolError{Part: "frame part 2", Field: "htype", Detail: err.Error()}
	}
	if htype != "dimage_d-1.0" {
		return &dectris.ProtocolError{
			Part:   "frame part 2",
			Field:  "htype",
			Detail: fmt.Sprintf("expected %q, received %q", "dimage_d-1.0", htype),
		}
	}
	return nil
}

// parsePart3 decodes the compressed image blob into the series image buffer.
func (s *Sink) parsePart3(data []byte) error {
	cfg := s.global.Config()
	if err := s.buf.Decode(cfg.Compression, data, buffer.DefaultElementSize); err != nil {
		return err
	}
	metrics.ImageBytesDecodedTotal.Add(float64(s.buf.Size()))
	return nil
}

// parsePart4 handles the dconfig-1.0 timing message. The configured exposure
// in the global data covers the output header, so the measured times are
// captured in strict mode only.
func (s *Sink) parsePart4(data []byte) error {
	if !s.strict {
		return nil
	}
	obj, err := jsonx.Parse(data)
	if err != nil {
		return &dectris.ProtocolError{Part: "frame part 4", Detail: err.Error()}
	}
	htype, err := jsonx.Str(obj, "htype")
	if err != nil {
		return &dectris.ProtocolError{Part: "frame part 4", Field: "htype", Detail: err.Error()}
	}
	if htype != "dconfig-1.0" {
		return &dectris.ProtocolError{
			Part:   "frame part 4",
			Field:  "htype",
			Detail: fmt.Sprintf("expected %q, received %q", "dconfig-1.0", htype),
		}
	}
	s.timing.startTime, _ = jsonx.MaybeInt(obj, "start_time")
	s.timing.stopTime, _ = jsonx.MaybeInt(obj, "stop_time")
	s.timing.realTime, _ = jsonx.MaybeInt(obj, "real_time")
	return nil
}

// buildHeader opens the datablock for the current frame and renders the
// SLS-convention header contents from the detector config.
func (s *Sink) buildHeader() {
	cfg := s.global.Config()
	contents := fmt.Sprintf("\n"+
		"# Detector: %s, S/N %s\n"+
		"# Pixel_size %de-6 m x %de-6 m\n"+
		"# Silicon sensor, thickness %.6f m\n"+
		"# Exposure_time %f s\n"+
		"# Exposure_period %f s\n"+
		"# Count_cutoff %d counts\n"+
		"# Wavelength %f A\n"+
		"# Detector_distance %f m\n"+
		"# Beam_xy (%d, %d) pixels\n"+
		"# Start_angle %f deg.\n"+
		"# Angle_increment %f deg.\n",
		cfg.Description, cfg.DetectorNumber,
		int64(cfg.XPixelSize*1e6), int64(cfg.YPixelSize*1e6),
		cfg.SensorThickness,
		cfg.CountTime,
		cfg.FrameTime,
		cfg.CountrateCorrectionCountCutoff,
		cfg.Wavelength,
		cfg.DetectorDistance,
		int64(cfg.BeamCenterX), int64(cfg.BeamCenterY),
		cfg.OmegaStart+float64(s.frameID-1)*cfg.OmegaIncrement,
		cfg.OmegaIncrement)

	s.block = &minicbf.Datablock{
		Name:             fmt.Sprintf("%d_%d", s.global.SeriesID(), s.frameID),
		HeaderConvention: "SLS_1.0",
		HeaderContents:   contents,
	}
	log.GetLogger().WithField("frame", s.frameID).Debug("minicbf header built")
}

// buildData attaches the decoded image to the open datablock.
func (s *Sink) buildData() error {
	cfg := s.global.Config()
	return s.block.SetData(s.buf.Bytes(),
		int(cfg.XPixelsInDetector), int(cfg.YPixelsInDetector))
}

// Flush writes the current frame's minicbf to its output file, named
// <series>-<frame>.cbf in the configured directory.
func (s *Sink) Flush() error {
	if s.block == nil {
		return nil
	}
	name := fmt.Sprintf("%d-%d.cbf", s.global.SeriesID(), s.frameID)
	if err := s.block.WriteFile(filepath.Join(s.outputDir, name)); err != nil {
		return err
	}
	s.block = nil
	metrics.FramesWrittenTotal.Inc()
	return nil
}
