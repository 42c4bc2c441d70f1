package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelError, LevelFromString("ERROR"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("warning"))
	assert.Equal(t, slog.LevelDebug, LevelFromString(" debug "))
	assert.Equal(t, slog.LevelInfo, LevelFromString(""))
}

func TestTextHandlerDropsTime(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "text")
	log.Info("jobs.submit", "job_id", "abc")
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "msg=jobs.submit")
	assert.Contains(t, out, "job_id=abc")
	assert.NotContains(t, out, "time=")
	assert.NotContains(t, out, "hidden")
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "json").Debug("pdf.extract.ok", "pages", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pdf.extract.ok", line["msg"])
	assert.EqualValues(t, 3, line["pages"])
	assert.Contains(t, line, "time")
}
