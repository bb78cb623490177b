package minicbf

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pixels(values ...int32) []byte {
	raw := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(v))
	}
	return raw
}

func TestByteOffsetRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		values []int32
	}{
		{"small deltas", []int32{0, 1, 2, 3, 2, 1, 0, -1, -2}},
		{"int16 deltas", []int32{0, 1000, -1000, 30000, 0}},
		{"int32 deltas", []int32{0, 100000, -2000000000, 2000000000}},
		{"constant", []int32{7, 7, 7, 7, 7, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := pixels(tt.values...)
			enc := EncodeByteOffset(raw)
			dec, err := DecodeByteOffset(enc, len(tt.values))
			require.NoError(t, err)
			assert.Equal(t, raw, dec)
		})
	}
}

func TestByteOffsetEncodesDeltas(t *testing.T) {
	// A constant image is one full delta followed by zeros.
	raw := pixels(119, 119, 119, 119)
	enc := EncodeByteOffset(raw)
	assert.Equal(t, []byte{119, 0, 0, 0}, enc)
}

func TestByteOffsetTruncated(t *testing.T) {
	raw := pixels(0, 1, 2, 3)
	enc := EncodeByteOffset(raw)
	_, err := DecodeByteOffset(enc[:len(enc)-1], 4)
	assert.Error(t, err)

	_, err = DecodeByteOffset(enc, 3)
	assert.Error(t, err)
}

// extractPayload pulls the byte-offset stream back out of an encoded file.
func extractPayload(t *testing.T, encoded []byte) []byte {
	t.Helper()
	s := string(encoded)
	_, rest, found := strings.Cut(s, "X-Binary-Size-Padding: 0\n\n")
	require.True(t, found, "binary section header missing")
	b64, _, found := strings.Cut(rest, "\n"+mimeBoundary+"----")
	require.True(t, found, "binary section terminator missing")
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(b64, "\n", ""))
	require.NoError(t, err)
	return raw
}

func TestDatablockWriteFile(t *testing.T) {
	const width, height = 8, 4
	values := make([]int32, width*height)
	for i := range values {
		values[i] = int32('w')
	}
	raw := pixels(values...)

	d := &Datablock{
		Name:             "1_1",
		HeaderConvention: "SLS_1.0",
		HeaderContents:   "\n# Detector: MATTERHORN 2X 65536M, S/N M-32-0128\n",
	}
	require.NoError(t, d.SetData(raw, width, height))

	path := filepath.Join(t.TempDir(), "1-1.cbf")
	require.NoError(t, d.WriteFile(path))

	encoded, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(encoded, []byte("###CBF: VERSION 1.5\n")))
	assert.Contains(t, string(encoded), `_array_data.header_convention "SLS_1.0"`)
	assert.Contains(t, string(encoded), "# Detector: MATTERHORN 2X 65536M")
	assert.Contains(t, string(encoded), "X-Binary-Size-Fastest-Dimension: 8")
	assert.Contains(t, string(encoded), "X-Binary-Size-Second-Dimension: 4")

	payload := extractPayload(t, encoded)
	decoded, err := DecodeByteOffset(payload, width*height)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestSetDataSizeMismatch(t *testing.T) {
	d := &Datablock{Name: "1_1"}
	err := d.SetData(make([]byte, 12), 2, 2)
	assert.Error(t, err)
}
