package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "warn")

	log.Debugf("hidden %d", 1)
	log.Infof("hidden too")
	log.Warnf("visible warning")
	log.Errorf("visible error")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "visible warning")
	assert.Contains(t, output, "visible error")
}

func TestConsoleLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "bogus-level")

	log.Debugf("debug line")
	log.Infof("info line")

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}

func TestConsoleLoggerNilWriter(t *testing.T) {
	log := NewConsoleLogger(nil, "info")
	// Must not panic.
	log.Infof("goes nowhere")
}

func TestTraceLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	trace, err := NewTraceLogger(dir)
	require.NoError(t, err)

	callID := trace.NextCallID()
	trace.Log(TraceEvent{Event: "llm_request", CallID: callID, Phase: "plan", Attempt: 1, MaxAttempts: 3})
	trace.Log(TraceEvent{Event: "llm_response", CallID: callID, Phase: "plan", Attempt: 1, Response: `{"status":"planned"}`})
	require.NoError(t, trace.Close())

	data, err := os.ReadFile(trace.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"llm_request"`)
	assert.Contains(t, lines[1], `"phase":"plan"`)
	assert.Equal(t, filepath.Dir(trace.Path()), dir)
}

func TestTraceLoggerNilReceiver(t *testing.T) {
	var trace *TraceLogger
	assert.Equal(t, 0, trace.NextCallID())
	trace.Log(TraceEvent{Event: "llm_request"})
	assert.NoError(t, trace.Close())
}
