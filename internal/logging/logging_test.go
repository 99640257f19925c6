package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info", Format: FormatJSON}, "kirkproxy-api", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("run_id", "r1").Msg("run processed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kirkproxy-api", entry["service"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, "run processed", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewWithWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Format: "console"}, "kirkproxy-worker", &buf)
	logger.Info().Msg("ready")

	assert.Contains(t, buf.String(), "ready")
	assert.NotContains(t, buf.String(), `"message"`)
}
