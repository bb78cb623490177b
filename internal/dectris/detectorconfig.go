package dectris

import (
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"lscat.org/bparchive/pkg/buffer"
	"lscat.org/bparchive/pkg/jsonx"
)

// DetectorConfig is a typed snapshot of the per-series detector parameters,
// parsed once from the part 2 message of the global header. Field names match
// the corresponding JSON fields. The record is not mutated after Parse.
type DetectorConfig struct {
	BeamCenterX                    float64 // pixels
	BeamCenterY                    float64 // pixels
	BitDepthImage                  int64   // always 32
	Compression                    buffer.Codec
	CountTime                      float64 // seconds
	CountrateCorrectionCountCutoff int64
	Description                    string
	DetectorDistance               float64 // metres
	DetectorNumber                 string  // serial
	FrameTime                      float64 // seconds
	NImages                        int64   // images per trigger
	NTrigger                       int64   // total images = NImages*NTrigger
	OmegaStart                     float64 // degrees
	OmegaIncrement                 float64 // degrees
	SensorThickness                float64 // metres
	SoftwareVersion                string
	Wavelength                     float64 // ångströms
	XPixelSize                     float64 // metres
	XPixelsInDetector              int64
	YPixelSize                     float64 // metres
	YPixelsInDetector              int64
}

// Reset restores every field to its unset sentinel: NaN for floats, -1 for
// integers, empty for strings. Idempotent.
func (c *DetectorConfig) Reset() {
	c.BeamCenterX = math.NaN()
	c.BeamCenterY = math.NaN()
	c.BitDepthImage = -1
	c.Compression = buffer.Unknown
	c.CountTime = math.NaN()
	c.CountrateCorrectionCountCutoff = -1
	c.Description = ""
	c.DetectorDistance = math.NaN()
	c.DetectorNumber = ""
	c.FrameTime = math.NaN()
	c.NImages = -1
	c.NTrigger = -1
	c.OmegaStart = math.NaN()
	c.OmegaIncrement = math.NaN()
	c.SensorThickness = math.NaN()
	c.SoftwareVersion = ""
	c.Wavelength = math.NaN()
	c.XPixelSize = math.NaN()
	c.XPixelsInDetector = -1
	c.YPixelSize = math.NaN()
	c.YPixelsInDetector = -1
}

// Parse populates the record from the detector-config JSON object. Every
// field is mandatory; a missing field is an error naming it. Only 32-bit
// image depth is supported.
func (c *DetectorConfig) Parse(obj gjson.Result) error {
	var err error
	fetchF := func(dst *float64, name string) {
		if err != nil {
			return
		}
		*dst, err = jsonx.Float(obj, name)
	}
	fetchI := func(dst *int64, name string) {
		if err != nil {
			return
		}
		*dst, err = jsonx.Int(obj, name)
	}
	fetchS := func(dst *string, name string) {
		if err != nil {
			return
		}
		*dst, err = jsonx.Str(obj, name)
	}

	fetchF(&c.BeamCenterX, "beam_center_x")
	fetchF(&c.BeamCenterY, "beam_center_y")
	fetchI(&c.BitDepthImage, "bit_depth_image")
	if err != nil {
		return err
	}
	if c.BitDepthImage != 32 {
		return &ProtocolError{
			Part:   "detector config",
			Field:  "bit_depth_image",
			Detail: fmt.Sprintf("only 32-bit depth images are supported, received %d", c.BitDepthImage),
		}
	}

	var compression string
	fetchS(&compression, "compression")
	if err != nil {
		return err
	}
	c.Compression, err = buffer.ParseCodec(compression)
	if err != nil {
		return &ProtocolError{Part: "detector config", Field: "compression", Detail: err.Error()}
	}

	fetchF(&c.CountTime, "count_time")
	fetchI(&c.CountrateCorrectionCountCutoff, "countrate_correction_count_cutoff")
	fetchS(&c.Description, "description")
	fetchF(&c.DetectorDistance, "detector_distance")
	fetchS(&c.DetectorNumber, "detector_number")
	fetchF(&c.FrameTime, "frame_time")
	fetchI(&c.NImages, "nimages")
	fetchI(&c.NTrigger, "ntrigger")
	fetchF(&c.OmegaStart, "omega_start")
	fetchF(&c.OmegaIncrement, "omega_increment")
	fetchF(&c.SensorThickness, "sensor_thickness")
	fetchS(&c.SoftwareVersion, "software_version")
	fetchF(&c.Wavelength, "wavelength")
	fetchF(&c.XPixelSize, "x_pixel_size")
	fetchI(&c.XPixelsInDetector, "x_pixels_in_detector")
	fetchF(&c.YPixelSize, "y_pixel_size")
	fetchI(&c.YPixelsInDetector, "y_pixels_in_detector")
	return err
}

// ToJSON serializes the record to the canonical form used by test fixtures:
// the same field names and ordering as the wire message.
func (c *DetectorConfig) ToJSON() string {
	var sb strings.Builder
	sb.WriteByte('{')
	fmt.Fprintf(&sb, "%q:%g,", "beam_center_x", c.BeamCenterX)
	fmt.Fprintf(&sb, "%q:%g,", "beam_center_y", c.BeamCenterY)
	fmt.Fprintf(&sb, "%q:%d,", "bit_depth_image", c.BitDepthImage)
	fmt.Fprintf(&sb, "%q:%q,", "compression", c.Compression.String())
	fmt.Fprintf(&sb, "%q:%g,", "count_time", c.CountTime)
	fmt.Fprintf(&sb, "%q:%d,", "countrate_correction_count_cutoff", c.CountrateCorrectionCountCutoff)
	fmt.Fprintf(&sb, "%q:%q,", "description", c.Description)
	fmt.Fprintf(&sb, "%q:%g,", "detector_distance", c.DetectorDistance)
	fmt.Fprintf(&sb, "%q:%q,", "detector_number", c.DetectorNumber)
	fmt.Fprintf(&sb, "%q:%g,", "frame_time", c.FrameTime)
	fmt.Fprintf(&sb, "%q:%d,", "nimages", c.NImages)
	fmt.Fprintf(&sb, "%q:%d,", "ntrigger", c.NTrigger)
	fmt.Fprintf(&sb, "%q:%g,", "omega_start", c.OmegaStart)
	fmt.Fprintf(&sb, "%q:%g,", "omega_increment", c.OmegaIncrement)
	fmt.Fprintf(&sb, "%q:%g,", "sensor_thickness", c.SensorThickness)
	fmt.Fprintf(&sb, "%q:%q,", "software_version", c.SoftwareVersion)
	fmt.Fprintf(&sb, "%q:%g,", "wavelength", c.Wavelength)
	fmt.Fprintf(&sb, "%q:%g,", "x_pixel_size", c.XPixelSize)
	fmt.Fprintf(&sb, "%q:%d,", "x_pixels_in_detector", c.XPixelsInDetector)
	fmt.Fprintf(&sb, "%q:%g,", "y_pixel_size", c.YPixelSize)
	fmt.Fprintf(&sb, "%q:%d", "y_pixels_in_detector", c.YPixelsInDetector)
	sb.WriteByte('}')
	return sb.String()
}
