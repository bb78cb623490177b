package cbf

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lscat.org/bparchive/internal/config"
	"lscat.org/bparchive/internal/dectris"
	"lscat.org/bparchive/internal/minicbf"
	"lscat.org/bparchive/pkg/buffer"
)

// testParams drives a synthetic series, with detector dimensions small
// enough to keep the fixtures fast. The countrate table shape follows the
// example in the SIMPLON API manual.
type testParams struct {
	cfg            dectris.DetectorConfig
	nSeries        int
	headerDetail   dectris.HeaderDetail
	ctWidth        int
	ctHeight       int
	headerAppendix string
	imageAppendix  string
}

func newTestParams() testParams {
	return testParams{
		nSeries:      1,
		headerDetail: dectris.HeaderDetailBasic,
		ctWidth:      2,
		ctHeight:     1000,
		cfg: dectris.DetectorConfig{
			BeamCenterX:                    2110.7,
			BeamCenterY:                    2200.3,
			BitDepthImage:                  32,
			Compression:                    buffer.LZ4,
			CountTime:                      0.2,
			CountrateCorrectionCountCutoff: 765063,
			Description:                    "MATTERHORN 2X 65536M",
			DetectorDistance:               125.0,
			DetectorNumber:                 "M-32-0128",
			FrameTime:                      0.2,
			NImages:                        1,
			NTrigger:                       1,
			OmegaStart:                     0.0,
			OmegaIncrement:                 90.0,
			SensorThickness:                4.5e-4,
			SoftwareVersion:                "1.8.0",
			Wavelength:                     1.670046,
			XPixelSize:                     7.5e-5,
			XPixelsInDetector:              16,
			YPixelSize:                     7.5e-5,
			YPixelsInDetector:              8,
		},
	}
}

func (p testParams) imageBytes() int {
	return int(p.cfg.BitDepthImage) / 8 *
		int(p.cfg.XPixelsInDetector) * int(p.cfg.YPixelsInDetector)
}

func newTestSink(t *testing.T, p testParams) (*Sink, string) {
	t.Helper()
	dir := t.TempDir()
	return New(config.ArchiverConfig{
		Source: config.SourceConfig{
			UsingHeaderAppendix: p.headerAppendix != "",
			UsingImageAppendix:  p.imageAppendix != "",
		},
		Output: config.OutputConfig{Directory: dir},
	}), dir
}

// compressImage encodes a raw image with the configured codec.
func compressImage(t *testing.T, codec buffer.Codec, raw []byte) []byte {
	t.Helper()
	enc := buffer.New(0)
	n, err := enc.Encode(codec, raw, buffer.DefaultElementSize)
	require.NoError(t, err)
	return bytes.Clone(enc.Bytes()[:n])
}

// seriesParts generates the full wire part sequence for one series.
func seriesParts(t *testing.T, p testParams, seriesID int, image []byte) [][]byte {
	t.Helper()
	var parts [][]byte
	add := func(format string, args ...interface{}) {
		parts = append(parts, []byte(fmt.Sprintf(format, args...)))
	}

	add(`{"htype":"dheader-1.0","series":%d,"header_detail":%q}`,
		seriesID, p.headerDetail.String())
	parts = append(parts, []byte(p.cfg.ToJSON()))

	if p.headerDetail == dectris.HeaderDetailAll {
		w, h := p.cfg.XPixelsInDetector, p.cfg.YPixelsInDetector
		add(`{"htype":"dflatfield-1.0","shape":[%d,%d],"type":"float32"}`, w, h)
		parts = append(parts, bytes.Repeat([]byte{'a'}, int(4*w*h)))
		add(`{"htype":"dpixelmask-1.0","shape":[%d,%d],"type":"uint32"}`, w, h)
		parts = append(parts, bytes.Repeat([]byte{'b'}, int(4*w*h)))
		add(`{"htype":"dcountrate_table-1.0","shape":[%d,%d],"type":"float32"}`,
			p.ctWidth, p.ctHeight)
		parts = append(parts, bytes.Repeat([]byte{'c'}, 4*p.ctWidth*p.ctHeight))
	}
	if p.headerAppendix != "" {
		parts = append(parts, []byte(p.headerAppendix))
	}

	compressed := compressImage(t, p.cfg.Compression, image)
	total := int(p.cfg.NImages * p.cfg.NTrigger)
	for frame := 1; frame <= total; frame++ {
		add(`{"htype":"dimage-1.0","series":%d,"frame":%d,"hash":"fc67f000d08fe6b380ea9434b8362d22"}`,
			seriesID, frame)
		add(`{"htype":"dimage_d-1.0","shape":[%d,%d],"type":"uint32","encoding":%q,"size":%d}`,
			p.cfg.XPixelsInDetector, p.cfg.YPixelsInDetector,
			p.cfg.Compression.String(), len(compressed))
		parts = append(parts, compressed)
		add(`{"htype":"dconfig-1.0","start_time":%d,"stop_time":%d,"real_time":%d}`,
			int64(frame-1)*200000000, int64(frame)*200000000, int64(200000000))
		if p.imageAppendix != "" {
			parts = append(parts, []byte(p.imageAppendix))
		}
	}

	add(`{"htype":"dseries_end-1.0","series":%d}`, seriesID)
	return parts
}

// feedSeries pushes all parts of one series through the sink and asserts the
// sink reports completion exactly once, on the final part.
func feedSeries(t *testing.T, s *Sink, parts [][]byte) {
	t.Helper()
	for i, part := range parts {
		done, err := s.Parse(part)
		require.NoError(t, err, "part %d", i+1)
		assert.Equal(t, i == len(parts)-1, done, "part %d", i+1)
	}
}

// readImagePayload decodes the pixel array back out of a minicbf file.
func readImagePayload(t *testing.T, path string, nPixels int) []byte {
	t.Helper()
	encoded, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(encoded)
	_, rest, found := strings.Cut(s, "X-Binary-Size-Padding: 0\n\n")
	require.True(t, found)
	b64, _, found := strings.Cut(rest, "\n--CIF-BINARY-FORMAT-SECTION----")
	require.True(t, found)
	compressed, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(b64, "\n", ""))
	require.NoError(t, err)
	raw, err := minicbf.DecodeByteOffset(compressed, nPixels)
	require.NoError(t, err)
	return raw
}

func runScenario(t *testing.T, p testParams) string {
	t.Helper()
	sink, dir := newTestSink(t, p)
	image := bytes.Repeat([]byte{'w'}, p.imageBytes())
	for series := 1; series <= p.nSeries; series++ {
		feedSeries(t, sink, seriesParts(t, p, series, image))
	}

	nPixels := int(p.cfg.XPixelsInDetector * p.cfg.YPixelsInDetector)
	total := int(p.cfg.NImages * p.cfg.NTrigger)
	for series := 1; series <= p.nSeries; series++ {
		for frame := 1; frame <= total; frame++ {
			path := filepath.Join(dir, fmt.Sprintf("%d-%d.cbf", series, frame))
			payload := readImagePayload(t, path, nPixels)
			assert.Equal(t, image, payload, "series %d frame %d", series, frame)
		}
	}
	return dir
}

func TestNoCompression(t *testing.T) {
	p := newTestParams()
	p.cfg.Compression = buffer.None
	dir := runScenario(t, p)

	encoded, err := os.ReadFile(filepath.Join(dir, "1-1.cbf"))
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `_array_data.header_convention "SLS_1.0"`)
	assert.Contains(t, string(encoded), "# Detector: MATTERHORN 2X 65536M, S/N M-32-0128")
	assert.Contains(t, string(encoded), "# Beam_xy (2110, 2200) pixels")
}

func TestLZ4Compression(t *testing.T) {
	p := newTestParams()
	p.cfg.Compression = buffer.LZ4
	runScenario(t, p)
}

func TestBSLZ4Compression(t *testing.T) {
	p := newTestParams()
	p.cfg.Compression = buffer.BSLZ4
	runScenario(t, p)
}

func TestMultiSeries(t *testing.T) {
	p := newTestParams()
	p.nSeries = 4
	runScenario(t, p)
}

func TestMultiImage(t *testing.T) {
	p := newTestParams()
	p.cfg.NImages = 4
	dir := runScenario(t, p)

	// The rotation angle advances by omega_increment per frame.
	for frame := 1; frame <= 4; frame++ {
		encoded, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("1-%d.cbf", frame)))
		require.NoError(t, err)
		want := fmt.Sprintf("# Start_angle %f deg.", float64(frame-1)*90.0)
		assert.Contains(t, string(encoded), want, "frame %d", frame)
	}
}

func TestHeaderDetailAllWithAppendices(t *testing.T) {
	p := newTestParams()
	p.headerDetail = dectris.HeaderDetailAll
	p.headerAppendix = `{"esaf":"PER-SERIES LS-CAT ESAF STUFF"}`
	p.imageAppendix = `{"esaf":"PER-IMAGE LS-CAT ESAF STUFF"}`
	runScenario(t, p)
}

func TestSeriesIDMismatch(t *testing.T) {
	p := newTestParams()
	sink, dir := newTestSink(t, p)

	image := bytes.Repeat([]byte{'w'}, p.imageBytes())
	parts := seriesParts(t, p, 1, image)

	// Header parts pass, then a frame from the wrong series.
	for _, part := range parts[:2] {
		_, err := sink.Parse(part)
		require.NoError(t, err)
	}
	_, err := sink.Parse([]byte(`{"htype":"dimage-1.0","series":2,"frame":1,"hash":""}`))
	var pe *dectris.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "series", pe.Field)

	// No file was written for the offending frame.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSeriesEndIDMismatch(t *testing.T) {
	p := newTestParams()
	sink, _ := newTestSink(t, p)
	image := bytes.Repeat([]byte{'w'}, p.imageBytes())
	parts := seriesParts(t, p, 1, image)

	for _, part := range parts[:2] {
		_, err := sink.Parse(part)
		require.NoError(t, err)
	}
	done, err := sink.Parse([]byte(`{"htype":"dseries_end-1.0","series":9}`))
	assert.False(t, done)
	var pe *dectris.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "series", pe.Field)
}

func TestUnexpectedHtypeAtFrameBoundary(t *testing.T) {
	p := newTestParams()
	sink, _ := newTestSink(t, p)
	image := bytes.Repeat([]byte{'w'}, p.imageBytes())
	parts := seriesParts(t, p, 1, image)

	for _, part := range parts[:2] {
		_, err := sink.Parse(part)
		require.NoError(t, err)
	}
	_, err := sink.Parse([]byte(`{"htype":"dheader-1.0","series":2,"header_detail":"basic"}`))
	var pe *dectris.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "htype", pe.Field)
}

func TestStrictValidatesFrameDescriptors(t *testing.T) {
	p := newTestParams()
	dir := t.TempDir()
	sink := New(config.ArchiverConfig{
		Source: config.SourceConfig{Strict: true},
		Output: config.OutputConfig{Directory: dir},
	})

	image := bytes.Repeat([]byte{'w'}, p.imageBytes())
	parts := seriesParts(t, p, 1, image)
	for _, part := range parts[:3] {
		_, err := sink.Parse(part)
		require.NoError(t, err)
	}
	// Frame part 2 with the wrong htype is rejected in strict mode.
	_, err := sink.Parse([]byte(`{"htype":"dconfig-1.0","start_time":0,"stop_time":1,"real_time":1}`))
	var pe *dectris.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "htype", pe.Field)
}
