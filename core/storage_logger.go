package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

type sessionLoggerKey struct{}

// ContextWithSessionLogger returns a new context carrying the session logger.
func ContextWithSessionLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, sessionLoggerKey{}, logger)
}

// SessionLoggerFromContext extracts the session logger from the context, or nil.
func SessionLoggerFromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return nil
	}
	if l, ok := ctx.Value(sessionLoggerKey{}).(*Logger); ok {
		return l
	}
	return nil
}

// LoggerFromContext returns the session logger when present, else the global one.
func LoggerFromContext(ctx context.Context) *Logger {
	if l := SessionLoggerFromContext(ctx); l != nil {
		return l
	}
	return GetLogger()
}

// SessionMetadata is the first JSON line in each session log file.
type SessionMetadata struct {
	JobID     string `json:"job_id"`
	RoomName  string `json:"room_name,omitempty"`
	Variant   string `json:"variant,omitempty"`
	StartedAt string `json:"started_at"`
}

// LogEntry is a single JSON log line written after the metadata line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// LogWriter is a destination for session log entries.
type LogWriter interface {
	Write(level, msg string, attrs map[string]interface{})
	Close() error
}

// SessionLogWriter appends one JSON line per entry to <dir>/<job>.jsonl.
// While the session is live a <job>.active marker sits next to it.
type SessionLogWriter struct {
	mu    sync.Mutex
	file  *os.File
	dir   string
	jobID string
}

func NewSessionLogWriter(dir string, meta SessionMetadata) (*SessionLogWriter, error) {
	if meta.JobID == "" {
		return nil, fmt.Errorf("session log: job id is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session log: mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, meta.JobID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("session log: create %q: %w", path, err)
	}

	if meta.StartedAt == "" {
		meta.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	line, err := sonic.Marshal(meta)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("session log: encode metadata: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, fmt.Errorf("session log: write metadata: %w", err)
	}

	if marker, err := os.Create(filepath.Join(dir, meta.JobID+".active")); err == nil {
		marker.Close()
	}

	return &SessionLogWriter{file: f, dir: dir, jobID: meta.JobID}, nil
}

func (w *SessionLogWriter) Write(level, msg string, attrs map[string]interface{}) {
	line, err := sonic.Marshal(LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Attrs:     stringifyErrors(attrs),
	})
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(append(line, '\n'))
	}
}

// Close closes the file and removes the .active marker.
func (w *SessionLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	os.Remove(filepath.Join(w.dir, w.jobID+".active"))
	return err
}

// errors marshal to {} otherwise
func stringifyErrors(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return attrs
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if e, ok := v.(error); ok {
			out[k] = e.Error()
			continue
		}
		out[k] = v
	}
	return out
}

// NewSessionLogger returns a Logger that tees every entry to base and writer.
// Child loggers created via With() inherit the tee.
func NewSessionLogger(base *Logger, writer LogWriter) *Logger {
	handler := func(level string, msg string, attrs map[string]interface{}) {
		if base != nil && base.handlerFunc != nil {
			base.handlerFunc(level, msg, attrs)
		}
		writer.Write(level, msg, attrs)
	}

	l := NewLogger(handler)
	if base != nil {
		l.sync = base.sync
	}
	return l
}
