package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug", Format: "json"}))
	require.NoError(t, Init(Config{})) // zero values fall back to info/text
}

func TestInitRejectsBadSettings(t *testing.T) {
	assert.Error(t, Init(Config{Level: "verbose"}))
	assert.Error(t, Init(Config{Format: "xml"}))
	assert.Error(t, Init(Config{File: FileConfig{Enabled: true}}))
}
