// Package minicbf encodes single-image Crystallographic Binary Files: one
// datablock per file carrying a textual header and a byte-offset-compressed
// integer array, the container downstream crystallography pipelines expect
// from a pixel-array detector.
package minicbf

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// mimeBoundary separates the text section from the binary section of a
// datablock, per the CBF MIME convention.
const mimeBoundary = "--CIF-BINARY-FORMAT-SECTION--"

// Datablock accumulates one image frame. The header is set when frame part 1
// arrives, the data when the image blob has been decoded; WriteFile commits
// the finished block.
type Datablock struct {
	Name             string
	HeaderConvention string
	HeaderContents   string

	data   []byte // raw little-endian int32 pixels
	width  int
	height int
}

// SetData attaches the decoded pixel array. raw holds width*height
// little-endian signed 32-bit values; the slice is copied, the caller may
// reuse its buffer.
func (d *Datablock) SetData(raw []byte, width, height int) error {
	if len(raw) != width*height*4 {
		return fmt.Errorf("minicbf: pixel array is %d bytes, want %d for %dx%d int32",
			len(raw), width*height*4, width, height)
	}
	d.data = bytes.Clone(raw)
	d.width = width
	d.height = height
	return nil
}

// WriteTo encodes the datablock. The binary section is byte-offset
// compressed, base64 transfer-encoded, and carries a Content-MD5 digest of
// the compressed stream.
func (d *Datablock) WriteTo(w io.Writer) (int64, error) {
	compressed := EncodeByteOffset(d.data)
	digest := md5.Sum(compressed)

	var buf bytes.Buffer
	buf.WriteString("###CBF: VERSION 1.5\n")
	buf.WriteString("# CBF file written by bparchive\n\n")
	fmt.Fprintf(&buf, "data_%s\n\n", d.Name)

	fmt.Fprintf(&buf, "_array_data.header_convention %q\n", d.HeaderConvention)
	buf.WriteString("_array_data.header_contents\n;")
	buf.WriteString(d.HeaderContents)
	buf.WriteString(";\n\n")

	buf.WriteString("_array_data.data\n;\n")
	buf.WriteString(mimeBoundary + "\n")
	buf.WriteString("Content-Type: application/octet-stream;\n")
	buf.WriteString("     conversions=\"x-CBF_BYTE_OFFSET\"\n")
	buf.WriteString("Content-Transfer-Encoding: BASE64\n")
	fmt.Fprintf(&buf, "X-Binary-Size: %d\n", len(compressed))
	buf.WriteString("X-Binary-ID: 1\n")
	buf.WriteString("X-Binary-Element-Type: \"signed 32-bit integer\"\n")
	buf.WriteString("X-Binary-Element-Byte-Order: LITTLE_ENDIAN\n")
	fmt.Fprintf(&buf, "Content-MD5: %s\n", base64.StdEncoding.EncodeToString(digest[:]))
	fmt.Fprintf(&buf, "X-Binary-Number-of-Elements: %d\n", d.width*d.height)
	fmt.Fprintf(&buf, "X-Binary-Size-Fastest-Dimension: %d\n", d.width)
	fmt.Fprintf(&buf, "X-Binary-Size-Second-Dimension: %d\n", d.height)
	buf.WriteString("X-Binary-Size-Padding: 0\n\n")

	writeBase64(&buf, compressed)

	buf.WriteString(mimeBoundary + "----\n;\n")

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// WriteFile commits the datablock to path, failing if the file cannot be
// created or fully written.
func (d *Datablock) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("minicbf: %s: %w", path, err)
	}
	if _, err := d.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("minicbf: %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("minicbf: %s: %w", path, err)
	}
	return nil
}

// writeBase64 emits standard base64 wrapped at 76 columns.
func writeBase64(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteByte('\n')
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteByte('\n')
}
