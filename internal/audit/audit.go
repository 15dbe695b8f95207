// Package audit provides append-only structured logging for entry operations.
//
// Every entry access (read, write, delete, clear, rotate) is recorded to an
// audit log at ~/.keyitems/audit.log as newline-delimited JSON.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionEntryRead   Action = "entry_read"
	ActionEntryWrite  Action = "entry_write"
	ActionEntryDelete Action = "entry_delete"
	ActionEntryClear  Action = "entry_clear"
	ActionEntryRotate Action = "entry_rotate"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Service   string    `json:"service"`
	Key       string    `json:"key,omitempty"`
	Actor     string    `json:"actor,omitempty"`   // surface and OS user, e.g. "cli:alice"
	Created   bool      `json:"created,omitempty"` // write that added a new key
	Command   string    `json:"command,omitempty"` // rotation command if applicable
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	w    io.WriteCloser
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{w: f, path: path}, nil
}

// Discard returns a Logger that drops every entry.
func Discard() *Logger {
	return &Logger{w: nopCloser{io.Discard}}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Path returns the file the logger appends to, or "" for a discarding logger.
func (l *Logger) Path() string {
	return l.path
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.w.Close()
}
