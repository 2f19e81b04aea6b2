package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextLoggerHidesDebug(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false, "text")

	log.Debug("hidden")
	log.Info("patient started", "patient", "P001")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "patient=P001")
}

func TestVerboseJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, true, "JSON")

	log.Debug("slice run", "slices", 8)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, float64(8), record["slices"])
}
