package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: "warn", Format: "text", Output: &buf})

	log.Debug("hidden")
	log.Info("also hidden")
	log.Warn("visible", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "key=value")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: "debug", Format: "json", Output: &buf})

	log.Info("hello", "host", "10.0.0.5")

	out := buf.String()
	require.True(t, strings.Contains(out, `"msg":"hello"`))
	assert.Contains(t, out, `"host":"10.0.0.5"`)
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: "info", Format: "text", Output: &buf})

	scoped := log.With("task_id", "abc123")
	scoped.Info("started")

	assert.Contains(t, buf.String(), "task_id=abc123")
}
