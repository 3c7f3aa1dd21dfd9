package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceLogger writes gateway request/response events as JSON lines to a
// timestamped file under the log directory. Events that fail to serialize
// are dropped rather than interrupting the caller: trace capture must never
// fail a task.
type TraceLogger struct {
	file    *os.File
	path    string
	callSeq int
	mu      sync.Mutex
}

// TraceEvent is one gateway interaction record.
type TraceEvent struct {
	Event       string      `json:"event"`
	CallID      int         `json:"call_id"`
	Phase       string      `json:"phase"`
	Attempt     int         `json:"attempt"`
	MaxAttempts int         `json:"max_attempts,omitempty"`
	Messages    interface{} `json:"messages,omitempty"`
	Response    string      `json:"response,omitempty"`
	Error       string      `json:"error,omitempty"`
	Time        string      `json:"time"`
}

// NewTraceLogger creates a TraceLogger writing to
// <logDir>/trace-YYYYMMDD-HHMMSS.jsonl, creating the directory if needed.
func NewTraceLogger(logDir string) (*TraceLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("trace-%s.jsonl", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	return &TraceLogger{file: file, path: path}, nil
}

// NextCallID returns a monotonically increasing identifier correlating the
// request/response pair of one gateway call.
func (t *TraceLogger) NextCallID() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callSeq++
	return t.callSeq
}

// Log appends one event line. Safe to call on a nil receiver.
func (t *TraceLogger) Log(event TraceEvent) {
	if t == nil {
		return
	}
	event.Time = time.Now().Format(time.RFC3339)
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	t.file.Write(append(line, '\n'))
}

// Path returns the trace file path.
func (t *TraceLogger) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

// Close flushes and closes the trace file.
func (t *TraceLogger) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
