// Package audit records administrative API activity as JSON lines. Every
// request against the management surface produces one entry carrying a trace
// ID, the caller's identity, and the outcome, so broker-security changes can
// be reconstructed after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event types.
const (
	EventRequest    = "request"
	EventAuthFailed = "auth.failed"
)

// Entry is a single audit record.
type Entry struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"traceId"`
	Event     string    `json:"event"`

	Method     string `json:"method"`
	Path       string `json:"path"`
	Query      string `json:"query,omitempty"`
	RemoteAddr string `json:"remoteAddr"`
	UserAgent  string `json:"userAgent,omitempty"`

	// Identity of the authenticated caller, when known.
	UID   string `json:"uid,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`

	Status     int   `json:"status"`
	DurationMS int64 `json:"durationMs"`
}

// Logger records audit entries. Implementations must be safe for concurrent
// use.
type Logger interface {
	Log(entry Entry) error
	Close() error
}

// NopLogger discards all entries.
type NopLogger struct{}

func (NopLogger) Log(Entry) error { return nil }
func (NopLogger) Close() error    { return nil }

var _ Logger = NopLogger{}

// FileLogger appends JSON-line entries to a file.
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	sequence int64
}

// NewFileLogger opens (or creates) the audit log at path in append mode.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}
	return &FileLogger{file: file, encoder: json.NewEncoder(file)}, nil
}

// Log writes one entry. The Sequence field is assigned here.
func (l *FileLogger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit: logger is closed")
	}
	l.sequence++
	entry.Sequence = l.sequence
	if err := l.encoder.Encode(entry); err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	return nil
}

// Close syncs and closes the underlying file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	_ = l.file.Sync()
	err := l.file.Close()
	l.file = nil
	return err
}

var _ Logger = (*FileLogger)(nil)

// StdoutLogger writes JSON-line entries to stdout, for containerized
// deployments that collect logs from the process output.
type StdoutLogger struct {
	mu       sync.Mutex
	encoder  *json.Encoder
	sequence int64
}

// NewStdoutLogger creates a logger writing to stdout.
func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{encoder: json.NewEncoder(os.Stdout)}
}

func (l *StdoutLogger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	entry.Sequence = l.sequence
	if err := l.encoder.Encode(entry); err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	return nil
}

func (l *StdoutLogger) Close() error { return nil }

var _ Logger = (*StdoutLogger)(nil)

// NewLogger picks a logger for the given output: "" disables auditing,
// "stdout" streams to process output, anything else is a file path.
func NewLogger(output string) (Logger, error) {
	switch output {
	case "":
		return NopLogger{}, nil
	case "stdout":
		return NewStdoutLogger(), nil
	default:
		return NewFileLogger(output)
	}
}
