package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() {
		SetFormat("text")
		SetLevel("INFO")
		SetWriter(os.Stdout)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := withBuffer(t)
	SetLevel("WARN")

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 2")
}

func TestJSONFormat(t *testing.T) {
	buf := withBuffer(t)
	SetLevel("DEBUG")
	SetFormat("json")

	Debug("purge run finished: %d items", 3)

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "purge run finished: 3 items", record["msg"])
}

func TestSetOutputFile(t *testing.T) {
	path := t.TempDir() + "/app.log"
	require.NoError(t, SetOutput(path))
	t.Cleanup(func() { SetWriter(os.Stdout) })

	Error("disk full")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[ERROR] disk full")
}
