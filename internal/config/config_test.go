package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	src := cfg.Archiver.Source
	assert.Equal(t, "tcp://localhost:9999", src.ZMQPushSocket)
	assert.Equal(t, 128, src.ReadBufferMB)
	assert.Equal(t, 3600, src.PollInterval)
	assert.Equal(t, 1, src.Workers)
	assert.False(t, src.UsingHeaderAppendix)
	assert.False(t, src.UsingImageAppendix)
	assert.False(t, src.Strict)
	assert.Equal(t, ".", cfg.Archiver.Output.Directory)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)

	assert.Equal(t, time.Hour, src.PollIntervalDuration())
	assert.Equal(t, 128*1024*1024, src.ReadBufferBytes())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"archiver": {
			"source": {
				"zmq_push_socket": "tcp://grape.ls-cat.org:9999",
				"read_buffer_mb": 64,
				"poll_interval": 60,
				"using_header_appendix": true,
				"using_image_appendix": true,
				"strict": true
			},
			"output": {"directory": "/data/frames"}
		},
		"log": {"level": "debug", "format": "json"},
		"metrics": {"enabled": true, "listen": ":9200"}
	}`))
	require.NoError(t, err)

	src := cfg.Archiver.Source
	assert.Equal(t, "tcp://grape.ls-cat.org:9999", src.ZMQPushSocket)
	assert.Equal(t, 64, src.ReadBufferMB)
	assert.Equal(t, 60, src.PollInterval)
	assert.True(t, src.UsingHeaderAppendix)
	assert.True(t, src.UsingImageAppendix)
	assert.True(t, src.Strict)
	assert.Equal(t, "/data/frames", cfg.Archiver.Output.Directory)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9200", cfg.Metrics.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative buffer", `{"archiver":{"source":{"read_buffer_mb":-1}}}`},
		{"zero poll interval", `{"archiver":{"source":{"poll_interval":0}}}`},
		{"bad log level", `{"log":{"level":"verbose"}}`},
		{"bad log format", `{"log":{"format":"xml"}}`},
		{"metrics without listen", `{"metrics":{"enabled":true,"listen":""}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
