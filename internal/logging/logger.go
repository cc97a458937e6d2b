// Package logging wraps slog and adds the daily-rotating file sink used
// for post-mortem tracing of long monitoring runs.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog for structured logging.
type Logger struct {
	*slog.Logger
}

// New creates a Logger that outputs text or JSON depending on config.
func New(jsonMode bool) *Logger {
	return newWith(os.Stdout, jsonMode)
}

// NewWithFile creates a Logger that writes to stdout and, additionally,
// to daily-rotated files under dir (run_YYYY-MM-DD.log, 7-day retention).
// A nil or failed rotating writer falls back to stdout only: the log
// sink must never take the monitor down.
func NewWithFile(dir string, jsonMode bool) (*Logger, io.Closer) {
	rw, err := newRotatingWriter(dir)
	if err != nil {
		log := New(jsonMode)
		log.Warn("log directory unavailable, logging to stdout only", "dir", dir, "error", err)
		return log, nopCloser{}
	}
	return newWith(io.MultiWriter(os.Stdout, rw), jsonMode), rw
}

func newWith(w io.Writer, jsonMode bool) *Logger {
	var handler slog.Handler
	if jsonMode {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return &Logger{slog.New(handler)}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
