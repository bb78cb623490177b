package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `{
	"htype": "dheader-1.0",
	"series": 7,
	"wavelength": 1.670046,
	"enabled": true,
	"shape": [4150, 4371]
}`

func TestRequired(t *testing.T) {
	obj, err := Parse([]byte(fixture))
	require.NoError(t, err)

	s, err := Str(obj, "htype")
	require.NoError(t, err)
	assert.Equal(t, "dheader-1.0", s)

	i, err := Int(obj, "series")
	require.NoError(t, err)
	assert.Equal(t, int64(7), i)

	f, err := Float(obj, "wavelength")
	require.NoError(t, err)
	assert.InDelta(t, 1.670046, f, 1e-9)
}

func TestRequiredMissingNamesField(t *testing.T) {
	obj, err := Parse([]byte(fixture))
	require.NoError(t, err)

	_, err = Str(obj, "header_detail")
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "header_detail", fe.Field)

	// Type mismatch is the same failure as absence.
	_, err = Int(obj, "htype")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "htype", fe.Field)
}

func TestPathAddressing(t *testing.T) {
	obj, err := Parse([]byte(fixture))
	require.NoError(t, err)

	w, err := Int(obj, "shape.0")
	require.NoError(t, err)
	h, err := Int(obj, "shape.1")
	require.NoError(t, err)
	assert.Equal(t, int64(4150), w)
	assert.Equal(t, int64(4371), h)

	_, err = Int(obj, "shape.2")
	assert.Error(t, err)
}

func TestMaybe(t *testing.T) {
	obj, err := Parse([]byte(fixture))
	require.NoError(t, err)

	s, ok := MaybeStr(obj, "htype")
	assert.True(t, ok)
	assert.Equal(t, "dheader-1.0", s)

	_, ok = MaybeStr(obj, "absent")
	assert.False(t, ok)

	i, ok := MaybeInt(obj, "series")
	assert.True(t, ok)
	assert.Equal(t, int64(7), i)

	b, ok := MaybeBool(obj, "enabled")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = MaybeBool(obj, "series")
	assert.False(t, ok)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"htype": `))
	assert.Error(t, err)
}
